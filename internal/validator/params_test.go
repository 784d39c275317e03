package validator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chart-datafeed/internal/model"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		wantErr string
	}{
		{name: "simple", value: "chart-1"},
		{name: "dots and underscores", value: "btc_usd.1m"},
		{name: "max length", value: strings.Repeat("a", MaxIDLength)},
		{name: "nil", value: nil, wantErr: "chartId: chartId cannot be None"},
		{name: "not a string", value: 42.0, wantErr: "chartId must be a string, got float"},
		{name: "empty", value: "", wantErr: "chartId cannot be empty"},
		{name: "too long", value: strings.Repeat("a", MaxIDLength+1), wantErr: "cannot exceed 128 characters"},
		{name: "space", value: "my chart", wantErr: "contains invalid characters"},
		{name: "slash", value: "a/b", wantErr: "contains invalid characters"},
		{name: "traversal", value: "..", wantErr: "path traversal detected"},
		{name: "embedded traversal", value: "a..b", wantErr: "path traversal detected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateIdentifier(tt.value, "chartId")
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.value, got)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var vErr *model.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "chartId", vErr.Field)
			assert.Equal(t, model.CodeValidation, vErr.Code())
		})
	}
}

func TestValidatePaneID(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    int
		wantErr bool
	}{
		{name: "default", value: nil, want: 0},
		{name: "zero", value: 0, want: 0},
		{name: "upper bound", value: 100, want: 100},
		{name: "json integer", value: json.Number("7"), want: 7},
		{name: "negative", value: -1, wantErr: true},
		{name: "too large", value: 101, wantErr: true},
		{name: "fraction", value: json.Number("1.5"), wantErr: true},
		{name: "string", value: "1", wantErr: true},
		{name: "bool", value: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePaneID(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateCount(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    int
		wantErr bool
	}{
		{name: "default", value: nil, want: DefaultCount},
		{name: "one", value: 1, want: 1},
		{name: "max", value: MaxHistoryCount, want: MaxHistoryCount},
		{name: "zero", value: 0, wantErr: true},
		{name: "over max", value: MaxHistoryCount + 1, wantErr: true},
		{name: "float", value: 10.0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateCount(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateBeforeTime(t *testing.T) {
	t.Run("nil means latest", func(t *testing.T) {
		got, err := ValidateBeforeTime(nil)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Nil(t, TimeBound(got))
	})

	t.Run("integer stays integer", func(t *testing.T) {
		got, err := ValidateBeforeTime(json.Number("1700000000"))
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), got)
	})

	t.Run("fraction stays fraction", func(t *testing.T) {
		got, err := ValidateBeforeTime(json.Number("1700000000.5"))
		require.NoError(t, err)
		assert.Equal(t, 1700000000.5, got)
		require.NotNil(t, TimeBound(got))
		assert.Equal(t, 1700000000.5, *TimeBound(got))
	})

	t.Run("zero is valid", func(t *testing.T) {
		got, err := ValidateBeforeTime(0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got)
	})

	t.Run("upper bound", func(t *testing.T) {
		_, err := ValidateBeforeTime(model.MaxSecondsTimestamp)
		assert.NoError(t, err)

		_, err = ValidateBeforeTime(model.MaxSecondsTimestamp + 1)
		assert.ErrorContains(t, err, "exceeds maximum allowed timestamp")
	})

	t.Run("negative", func(t *testing.T) {
		_, err := ValidateBeforeTime(-5)
		assert.ErrorContains(t, err, "beforeTime must be >= 0")
	})

	t.Run("string", func(t *testing.T) {
		_, err := ValidateBeforeTime("yesterday")
		assert.ErrorContains(t, err, "beforeTime must be a number, got string")
	})
}
