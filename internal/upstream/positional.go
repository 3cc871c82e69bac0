package upstream

import (
	"encoding/json"
	"math"
	"strconv"
)

// At walks a nested positional array (decoded JSON) along path. It reports
// false if any step is not an array or is out of range.
func At(v any, path ...int) (any, bool) {
	cur := v
	for _, i := range path {
		arr, ok := cur.([]any)
		if !ok || i < 0 || i >= len(arr) {
			return nil, false
		}
		cur = arr[i]
	}
	return cur, true
}

// ArrayAt returns the array found at path.
func ArrayAt(v any, path ...int) ([]any, bool) {
	got, ok := At(v, path...)
	if !ok {
		return nil, false
	}
	arr, ok := got.([]any)
	return arr, ok
}

// StringAt returns the string found at path.
func StringAt(v any, path ...int) (string, bool) {
	got, ok := At(v, path...)
	if !ok {
		return "", false
	}
	s, ok := got.(string)
	return s, ok
}

// IntAt returns the integer found at path. Numeric strings are accepted since
// the endpoints encode 64-bit values as strings.
func IntAt(v any, path ...int) (int64, bool) {
	got, ok := At(v, path...)
	if !ok {
		return 0, false
	}
	return ToInt(got)
}

// ToInt converts a decoded JSON scalar to int64.
func ToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(math.Trunc(f)), true
	case float64:
		return int64(math.Trunc(n)), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
