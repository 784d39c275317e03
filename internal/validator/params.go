package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/yourorg/chart-datafeed/internal/model"
)

const (
	// MaxIDLength is the longest accepted chart or series identifier
	MaxIDLength = 128
	// MaxPaneID is the highest accepted pane index
	MaxPaneID = 100
	// DefaultCount is the history page size used when none is given
	DefaultCount = 500
	// MaxHistoryCount is the largest accepted history page size
	MaxHistoryCount = 10000
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

// ValidateIdentifier checks a chart or series identifier and returns it unchanged
func ValidateIdentifier(value interface{}, field string) (string, error) {
	if value == nil {
		return "", model.NewValidationError(field+" cannot be None", field)
	}

	id, ok := value.(string)
	if !ok {
		return "", model.NewValidationError(
			fmt.Sprintf("%s must be a string, got %s", field, model.TypeName(value)), field)
	}

	if id == "" {
		return "", model.NewValidationError(field+" cannot be empty", field)
	}

	if len(id) > MaxIDLength {
		return "", model.NewValidationError(
			fmt.Sprintf("%s cannot exceed %d characters", field, MaxIDLength), field)
	}

	if !idPattern.MatchString(id) {
		return "", model.NewValidationError(
			field+" contains invalid characters. Only alphanumeric, underscore, hyphen, and dot allowed.", field)
	}

	// Path traversal
	if strings.Contains(id, "..") || strings.HasPrefix(id, "/") || strings.HasPrefix(id, `\`) {
		return "", model.NewValidationError(
			fmt.Sprintf("Invalid %s format - path traversal detected", field), field)
	}

	return id, nil
}

// ValidatePaneID checks a pane index, defaulting to 0 when absent
func ValidatePaneID(value interface{}) (int, error) {
	if value == nil {
		return 0, nil
	}

	paneID, ok := model.ToInt(value)
	if !ok {
		return 0, model.NewValidationError(
			fmt.Sprintf("paneId must be an integer, got %s", model.TypeName(value)), "paneId")
	}

	if paneID < 0 || paneID > MaxPaneID {
		return 0, model.NewValidationError(
			fmt.Sprintf("paneId must be between 0 and %d", MaxPaneID), "paneId")
	}

	return paneID, nil
}

// ValidateCount checks a history page size, defaulting to DefaultCount when absent
func ValidateCount(value interface{}) (int, error) {
	if value == nil {
		return DefaultCount, nil
	}

	count, ok := model.ToInt(value)
	if !ok {
		return 0, model.NewValidationError(
			fmt.Sprintf("count must be an integer, got %s", model.TypeName(value)), "count")
	}

	if count <= 0 || count > MaxHistoryCount {
		return 0, model.NewValidationError(
			fmt.Sprintf("count must be between 1 and %d", MaxHistoryCount), "count")
	}

	return count, nil
}

// ValidateBeforeTime checks a pagination boundary. nil means "latest" and is
// returned as nil. Integer input is returned as int64 and fractional input as
// float64, so the caller keeps the precision it sent.
func ValidateBeforeTime(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	var normalized interface{}
	if i, ok := model.ToInt(value); ok {
		normalized = int64(i)
	} else if n, ok := value.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return nil, model.NewValidationError("beforeTime must be a number, got string", "beforeTime")
		}
		normalized = f
	} else if f, ok := model.ToFloat(value); ok {
		normalized = f
	} else {
		return nil, model.NewValidationError(
			fmt.Sprintf("beforeTime must be a number, got %s", model.TypeName(value)), "beforeTime")
	}

	f, _ := model.ToFloat(normalized)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, model.NewValidationError("beforeTime must be a finite number", "beforeTime")
	}

	if f < 0 {
		return nil, model.NewValidationError("beforeTime must be >= 0", "beforeTime")
	}

	if f > model.MaxSecondsTimestamp {
		return nil, model.NewValidationError("beforeTime exceeds maximum allowed timestamp", "beforeTime")
	}

	return normalized, nil
}

// TimeBound converts a validated beforeTime into the bound used by the store
func TimeBound(value interface{}) *float64 {
	f, ok := model.ToFloat(value)
	if !ok {
		return nil
	}
	return &f
}
