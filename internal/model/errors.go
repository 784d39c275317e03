package model

import (
	"fmt"
	"net/http"
	"strings"
)

// Machine-readable error codes
const (
	CodeChartNotFound      = "CHART_NOT_FOUND"
	CodeSeriesNotFound     = "SERIES_NOT_FOUND"
	CodeInvalidTimestamp   = "INVALID_TIMESTAMP"
	CodeInvalidData        = "INVALID_DATA"
	CodeDuplicateTimestamp = "DUPLICATE_TIMESTAMP"
	CodeValidation         = "VALIDATION_ERROR"
)

// NoIndex marks an error that is not tied to a data point
const NoIndex = -1

// CodedError is implemented by every datafeed error
type CodedError interface {
	error
	Code() string
	StatusCode() int
}

// ChartNotFoundError is returned when a chart does not exist
type ChartNotFoundError struct {
	ChartID string
}

func (e *ChartNotFoundError) Error() string {
	return fmt.Sprintf("Chart '%s' not found", e.ChartID)
}

func (e *ChartNotFoundError) Code() string    { return CodeChartNotFound }
func (e *ChartNotFoundError) StatusCode() int { return http.StatusNotFound }

// SeriesNotFoundError is returned when a series does not exist in a pane
type SeriesNotFoundError struct {
	ChartID  string
	PaneID   int
	SeriesID string
}

func (e *SeriesNotFoundError) Error() string {
	return fmt.Sprintf("Series '%s' not found in pane %d of chart '%s'", e.SeriesID, e.PaneID, e.ChartID)
}

func (e *SeriesNotFoundError) Code() string    { return CodeSeriesNotFound }
func (e *SeriesNotFoundError) StatusCode() int { return http.StatusNotFound }

// InvalidTimestampError reports a missing, malformed or out-of-order timestamp
type InvalidTimestampError struct {
	Message string
	Index   int
	Value   interface{}
}

func NewInvalidTimestampError(message string, index int, value interface{}) *InvalidTimestampError {
	return &InvalidTimestampError{Message: message, Index: index, Value: value}
}

func (e *InvalidTimestampError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Index != NoIndex {
		fmt.Fprintf(&b, " at index %d", e.Index)
	}
	if e.Value != nil {
		fmt.Fprintf(&b, " (value: %s)", FormatValue(e.Value))
	}
	return b.String()
}

func (e *InvalidTimestampError) Code() string    { return CodeInvalidTimestamp }
func (e *InvalidTimestampError) StatusCode() int { return http.StatusBadRequest }

// InvalidDataError reports a missing or malformed data field
type InvalidDataError struct {
	Message string
	Field   string
	Index   int
}

func NewInvalidDataError(message, field string, index int) *InvalidDataError {
	return &InvalidDataError{Message: message, Field: field, Index: index}
}

func (e *InvalidDataError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field: %s)", e.Field)
	}
	if e.Index != NoIndex {
		fmt.Fprintf(&b, " at index %d", e.Index)
	}
	return b.String()
}

func (e *InvalidDataError) Code() string    { return CodeInvalidData }
func (e *InvalidDataError) StatusCode() int { return http.StatusBadRequest }

// DuplicateTimestampError names a repeated timestamp and the indices of both occurrences
type DuplicateTimestampError struct {
	Timestamp float64
	Indices   []int
}

func (e *DuplicateTimestampError) Error() string {
	indices := make([]string, len(e.Indices))
	for i, idx := range e.Indices {
		indices[i] = fmt.Sprint(idx)
	}
	return fmt.Sprintf("Duplicate timestamp %s found at indices [%s]",
		FormatNumber(e.Timestamp), strings.Join(indices, ", "))
}

func (e *DuplicateTimestampError) Code() string    { return CodeDuplicateTimestamp }
func (e *DuplicateTimestampError) StatusCode() int { return http.StatusBadRequest }

// ValidationError reports a malformed identifier or request parameter
type ValidationError struct {
	Message string
	Field   string
}

func NewValidationError(message, field string) *ValidationError {
	return &ValidationError{Message: message, Field: field}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

func (e *ValidationError) Code() string    { return CodeValidation }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// FormatValue renders a value the way it appears in error messages
func FormatValue(value interface{}) string {
	if s, ok := value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return FormatNumber(value)
}
