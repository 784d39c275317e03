package validator

import (
	"fmt"
	"math"
	"strings"

	"github.com/yourorg/chart-datafeed/internal/model"
)

// maxTimestamp rejects anything past year 2286 expressed in milliseconds
const maxTimestamp = 1e13

var requiredFields = map[string][]string{
	"line":        {"time", "value"},
	"area":        {"time", "value"},
	"baseline":    {"time", "value"},
	"histogram":   {"time", "value"},
	"bar":         {"time", "open", "high", "low", "close"},
	"candlestick": {"time", "open", "high", "low", "close"},
}

// RequiredFields returns the fields every point of a series type must carry.
// Unknown types require time and value.
func RequiredFields(seriesType string) []string {
	if fields, ok := requiredFields[strings.ToLower(seriesType)]; ok {
		return fields
	}
	return []string{"time", "value"}
}

func isOHLC(seriesType string) bool {
	t := strings.ToLower(seriesType)
	return t == "candlestick" || t == "bar"
}

// ValidateTimestamp checks a point's time and returns it in seconds.
// Millisecond timestamps are detected and divided by 1000.
func ValidateTimestamp(value interface{}, index int) (float64, error) {
	if value == nil {
		return 0, model.NewInvalidTimestampError("Timestamp is None (missing required 'time' field)", index, nil)
	}

	t, ok := model.ToFloat(value)
	if !ok {
		return 0, model.NewInvalidTimestampError(
			fmt.Sprintf("Timestamp must be numeric (int or float), got %s", model.TypeName(value)), index, value)
	}

	if math.IsNaN(t) {
		return 0, model.NewInvalidTimestampError("Timestamp is NaN", index, value)
	}
	if math.IsInf(t, 0) {
		return 0, model.NewInvalidTimestampError("Timestamp is infinite", index, value)
	}
	if t < 0 {
		return 0, model.NewInvalidTimestampError("Timestamp cannot be negative", index, value)
	}
	if t > maxTimestamp {
		return 0, model.NewInvalidTimestampError(
			fmt.Sprintf("Timestamp %s exceeds maximum allowed value (year 2286 in milliseconds)", model.FormatNumber(value)),
			index, value)
	}

	return model.NormalizeTimestamp(t), nil
}

// ValidateNumericValue checks a numeric data field and returns it as float64.
// With allowNone a missing value is accepted and returned as 0.
func ValidateNumericValue(value interface{}, field string, index int, allowNone bool) (float64, error) {
	if value == nil {
		if allowNone {
			return 0, nil
		}
		return 0, model.NewInvalidDataError(
			fmt.Sprintf("Field '%s' is None (required field missing)", field), field, index)
	}

	f, ok := model.ToFloat(value)
	if !ok {
		return 0, model.NewInvalidDataError(
			fmt.Sprintf("Field '%s' must be numeric, got %s", field, model.TypeName(value)), field, index)
	}
	if math.IsNaN(f) {
		return 0, model.NewInvalidDataError(fmt.Sprintf("Field '%s' is NaN", field), field, index)
	}
	if math.IsInf(f, 0) {
		return 0, model.NewInvalidDataError(fmt.Sprintf("Field '%s' is infinite", field), field, index)
	}

	return f, nil
}

// ValidateSeriesData checks every point of a batch and returns the batch
// unchanged. Nothing is sorted or repaired: out-of-order or repeated
// timestamps are rejected.
func ValidateSeriesData(points []model.DataPoint, seriesType string, checkDuplicates, enforceSorted bool) ([]model.DataPoint, error) {
	if len(points) == 0 {
		return points, nil
	}

	var seen map[float64]int
	if checkDuplicates {
		seen = make(map[float64]int, len(points))
	}

	fields := RequiredFields(seriesType)
	ohlc := isOHLC(seriesType)

	var last float64
	for i, point := range points {
		if point == nil {
			return nil, model.NewInvalidDataError("Data point must be an object, got null", "", i)
		}

		t, err := ValidateTimestamp(point["time"], i)
		if err != nil {
			return nil, err
		}

		if enforceSorted && i > 0 && t < last {
			return nil, model.NewInvalidTimestampError(
				fmt.Sprintf("Timestamps are not monotonic: %s < %s. Data must be sorted in ascending order.",
					model.FormatNumber(t), model.FormatNumber(last)),
				i, t)
		}
		last = t

		if checkDuplicates {
			if first, dup := seen[t]; dup {
				return nil, &model.DuplicateTimestampError{Timestamp: t, Indices: []int{first, i}}
			}
			seen[t] = i
		}

		for _, field := range fields {
			if field == "time" {
				continue
			}
			if _, err := ValidateNumericValue(point[field], field, i, false); err != nil {
				return nil, err
			}
		}

		if ohlc {
			if err := validateOHLC(point, i); err != nil {
				return nil, err
			}
		}
	}

	return points, nil
}

// validateOHLC enforces low <= open <= high and low <= close <= high
func validateOHLC(point model.DataPoint, index int) error {
	open, _ := model.ToFloat(point["open"])
	high, _ := model.ToFloat(point["high"])
	low, _ := model.ToFloat(point["low"])
	closeVal, _ := model.ToFloat(point["close"])

	if low > high {
		return model.NewInvalidDataError(
			fmt.Sprintf("Invalid OHLC: low (%s) > high (%s)", model.FormatNumber(low), model.FormatNumber(high)),
			"low/high", index)
	}

	if open < low || open > high {
		return model.NewInvalidDataError(
			fmt.Sprintf("Invalid OHLC: open (%s) outside range [low=%s, high=%s]",
				model.FormatNumber(open), model.FormatNumber(low), model.FormatNumber(high)),
			"open", index)
	}

	if closeVal < low || closeVal > high {
		return model.NewInvalidDataError(
			fmt.Sprintf("Invalid OHLC: close (%s) outside range [low=%s, high=%s]",
				model.FormatNumber(closeVal), model.FormatNumber(low), model.FormatNumber(high)),
			"close", index)
	}

	return nil
}
