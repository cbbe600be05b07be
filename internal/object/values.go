package object

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kilupskalvis/persistence/internal/models"
)

// Coerce converts a raw scalar to the Go representation of the declared
// type: int for integer, float64 for float, bool for boolean and string for
// string. nil stays nil.
func Coerce(typ string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if n, ok := v.(json.Number); ok {
		v = string(n)
	}
	switch typ {
	case models.TypeInteger:
		return toInt(v)
	case models.TypeFloat:
		return toFloat(v)
	case models.TypeBoolean:
		return toBool(v)
	case models.TypeString:
		return toString(v), nil
	}
	return nil, fmt.Errorf("%w: %q is not a scalar type", models.ErrPersistence, typ)
}

func toInt(v any) (int, error) {
	switch tv := v.(type) {
	case int:
		return tv, nil
	case int8:
		return int(tv), nil
	case int16:
		return int(tv), nil
	case int32:
		return int(tv), nil
	case int64:
		if tv < math.MinInt || tv > math.MaxInt {
			return 0, overflow(tv)
		}
		return int(tv), nil
	case uint:
		return uintToInt(uint64(tv))
	case uint8:
		return int(tv), nil
	case uint16:
		return int(tv), nil
	case uint32:
		return uintToInt(uint64(tv))
	case uint64:
		return uintToInt(tv)
	case float32:
		return floatToInt(float64(tv))
	case float64:
		return floatToInt(tv)
	case bool:
		if tv {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(tv, 10, 0)
		if err == nil {
			return int(i), nil
		}
		if errors.Is(err, strconv.ErrRange) {
			return 0, overflow(tv)
		}
		f, err := strconv.ParseFloat(tv, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot convert %q to integer", models.ErrPersistence, tv)
		}
		return floatToInt(f)
	}
	return 0, fmt.Errorf("%w: cannot convert %T to integer", models.ErrPersistence, v)
}

func uintToInt(u uint64) (int, error) {
	if u > math.MaxInt {
		return 0, overflow(u)
	}
	return int(u), nil
}

// floatToInt truncates f toward zero. NaN, infinities and values outside
// the int range fail.
func floatToInt(f float64) (int, error) {
	if math.IsNaN(f) || f < math.MinInt || f >= -float64(math.MinInt) {
		return 0, overflow(f)
	}
	return int(f), nil
}

func overflow(v any) error {
	return fmt.Errorf("%w: %v is out of the integer range", models.ErrPersistence, v)
}

func toFloat(v any) (float64, error) {
	switch tv := v.(type) {
	case float64:
		return tv, nil
	case float32:
		return float64(tv), nil
	case string:
		f, err := strconv.ParseFloat(tv, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot convert %q to float", models.ErrPersistence, tv)
		}
		return f, nil
	}
	i, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot convert %T to float", models.ErrPersistence, v)
	}
	return float64(i), nil
}

func toBool(v any) (bool, error) {
	switch tv := v.(type) {
	case bool:
		return tv, nil
	case string:
		switch tv {
		case "", "0", "false":
			return false, nil
		}
		return true, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return false, fmt.Errorf("%w: cannot convert %T to boolean", models.ErrPersistence, v)
	}
	return f != 0, nil
}

func toString(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case bool:
		if tv {
			return "1"
		}
		return ""
	case float64:
		if tv == math.Trunc(tv) && math.Abs(tv) < 1e15 {
			return strconv.FormatInt(int64(tv), 10)
		}
		return strconv.FormatFloat(tv, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// DateTime converts epoch seconds to a UTC time.
func DateTime(ts models.Timestamp) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}

// Epoch converts t to epoch seconds.
func Epoch(t time.Time) models.Timestamp {
	return models.Timestamp(t.Unix())
}
