package session

import (
	"math"
	"reflect"

	"github.com/kilupskalvis/persistence/internal/models"
)

// isNil reports whether v is nil or a typed nil pointer, map, or slice.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// sameScalar reports whether current equals the coerced clean value want
// without coercing current: it must be of the Go kind of the declared type.
// Any integer kind counts as integer and any float kind as float.
func sameScalar(typ string, want, current any) bool {
	rv := reflect.ValueOf(current)
	switch typ {
	case models.TypeInteger:
		w, ok := want.(int)
		if !ok {
			return false
		}
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int() == int64(w)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return rv.Uint() <= math.MaxInt64 && int64(rv.Uint()) == int64(w)
		}
	case models.TypeFloat:
		w, ok := want.(float64)
		if ok && (rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64) {
			return rv.Float() == w
		}
	case models.TypeBoolean:
		w, ok := want.(bool)
		return ok && rv.Kind() == reflect.Bool && rv.Bool() == w
	case models.TypeString:
		w, ok := want.(string)
		return ok && rv.Kind() == reflect.String && rv.String() == w
	}
	return false
}
