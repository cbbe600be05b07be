package object

import "iter"

// Array is an ordered associative container. Keys are ints or strings and are
// kept verbatim; insertion order is preserved.
type Array struct {
	keys   []any
	values map[any]any
	next   int
}

// NewArray creates an empty array.
func NewArray() *Array {
	return &Array{values: make(map[any]any)}
}

// ArrayOf creates an array with keys 0..n-1.
func ArrayOf(values ...any) *Array {
	a := NewArray()
	for _, v := range values {
		a.Append(v)
	}
	return a
}

// Set assigns value to key.
func (a *Array) Set(key, value any) {
	if a.values == nil {
		a.values = make(map[any]any)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
	if n, ok := key.(int); ok && n >= a.next {
		a.next = n + 1
	}
}

// Append assigns value to the next free integer key.
func (a *Array) Append(value any) {
	a.Set(a.next, value)
}

// Get returns the value at key.
func (a *Array) Get(key any) (any, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a.values[key]
	return v, ok
}

// Has reports whether key is set.
func (a *Array) Has(key any) bool {
	_, ok := a.Get(key)
	return ok
}

// Delete removes key.
func (a *Array) Delete(key any) {
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Keys returns the keys in insertion order.
func (a *Array) Keys() []any {
	if a == nil {
		return nil
	}
	out := make([]any, len(a.keys))
	copy(out, a.keys)
	return out
}

// All iterates entries in insertion order.
func (a *Array) All() iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		if a == nil {
			return
		}
		for _, k := range a.keys {
			if !yield(k, a.values[k]) {
				return
			}
		}
	}
}
