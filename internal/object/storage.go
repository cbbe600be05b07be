package object

import "iter"

// ReferenceSet is a set of objects keyed by identity.
type ReferenceSet interface {
	Attach(obj Object)
	Detach(obj Object)
	Contains(obj Object) bool
	Count() int
	All() iter.Seq[Object]
}

// Storage is the live ReferenceSet. Iteration follows attach order.
type Storage struct {
	index map[Object]int
	items []Object
}

// NewStorage creates a storage holding objs.
func NewStorage(objs ...Object) *Storage {
	s := &Storage{index: make(map[Object]int)}
	for _, obj := range objs {
		s.Attach(obj)
	}
	return s
}

// Attach adds obj unless it is already contained.
func (s *Storage) Attach(obj Object) {
	if s.index == nil {
		s.index = make(map[Object]int)
	}
	if _, ok := s.index[obj]; ok {
		return
	}
	s.index[obj] = len(s.items)
	s.items = append(s.items, obj)
}

// Detach removes obj.
func (s *Storage) Detach(obj Object) {
	i, ok := s.index[obj]
	if !ok {
		return
	}
	delete(s.index, obj)
	s.items = append(s.items[:i], s.items[i+1:]...)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
}

// Contains reports whether obj is attached.
func (s *Storage) Contains(obj Object) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[obj]
	return ok
}

// Count returns the number of attached objects.
func (s *Storage) Count() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// All iterates the attached objects.
func (s *Storage) All() iter.Seq[Object] {
	return func(yield func(Object) bool) {
		if s == nil {
			return
		}
		for _, obj := range s.items {
			if !yield(obj) {
				return
			}
		}
	}
}

// Objects returns a copy of the attached objects.
func (s *Storage) Objects() []Object {
	if s == nil {
		return nil
	}
	out := make([]Object, len(s.items))
	copy(out, s.items)
	return out
}

// Clear detaches everything.
func (s *Storage) Clear() {
	s.index = make(map[Object]int)
	s.items = nil
}
