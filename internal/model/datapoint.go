package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// MaxSecondsTimestamp is 2100-01-01T00:00:00Z in Unix seconds. Larger
// timestamps are treated as milliseconds.
const MaxSecondsTimestamp = 4102444800

// DataPoint is a single point of a series. The "time" field is required,
// every other field is passed through untouched.
type DataPoint map[string]interface{}

// Copy returns a shallow copy of the point
func (p DataPoint) Copy() DataPoint {
	cp := make(DataPoint, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Time returns the point's timestamp in seconds. Millisecond timestamps
// are normalized, non-numeric values yield NaN.
func (p DataPoint) Time() float64 {
	t, ok := ToFloat(p["time"])
	if !ok {
		return math.NaN()
	}
	return NormalizeTimestamp(t)
}

// NormalizeTimestamp converts a millisecond timestamp to seconds
func NormalizeTimestamp(t float64) float64 {
	if t > MaxSecondsTimestamp {
		return t / 1000.0
	}
	return t
}

// ToFloat converts any Go numeric kind or json.Number to float64.
// Booleans, strings and nil are not numeric.
func ToFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToInt converts integer kinds, and json.Number holding an integer, to int.
// Fractional values are not integers.
func ToInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// FormatNumber renders a number without exponent notation
func FormatNumber(value interface{}) string {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	}
	if f, ok := ToFloat(value); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if b, err := json.Marshal(value); err == nil {
		return string(b)
	}
	return "?"
}

// TypeName describes a decoded JSON value for error messages
func TypeName(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case map[string]interface{}, DataPoint:
		return "object"
	case []interface{}:
		return "array"
	}
	if _, ok := ToInt(value); ok {
		return "int"
	}
	if _, ok := ToFloat(value); ok {
		return "float"
	}
	if _, ok := value.(json.Number); ok {
		return "string"
	}
	return "unknown"
}
