package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{
			name:     "insufficient data",
			err:      &InsufficientDataError{SKU: "A-1", DistinctDays: 3, RequiredDays: 7},
			sentinel: ErrInsufficientData,
		},
		{
			name:     "invalid configuration",
			err:      &InvalidConfigurationError{Field: "service_level", Reason: "must be in (0,1]"},
			sentinel: ErrInvalidConfiguration,
		},
		{
			name:     "calculation failure",
			err:      &CalculationError{SKU: "A-1", Stage: "coverage", Err: errors.New("non-finite value")},
			sentinel: ErrCalculation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, sentinel) = false", tt.err)
			}
			// Wrapping through fmt must preserve the chain.
			wrapped := fmt.Errorf("pipeline: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("wrapped error lost its sentinel: %v", wrapped)
			}
			if tt.err.Error() == "" {
				t.Error("error message must not be empty")
			}
		})
	}
}

func TestAvailabilityFactor(t *testing.T) {
	tests := []struct {
		minutes int
		want    float64
	}{
		{0, 0},
		{-10, 0},
		{720, 0.5},
		{1440, 1},
		{2000, 1},
	}

	for _, tt := range tests {
		rec := AvailabilityRecord{MinutesInStock: tt.minutes}
		if got := rec.Factor(); got != tt.want {
			t.Errorf("Factor() with %d minutes = %v, want %v", tt.minutes, got, tt.want)
		}
	}
}

func TestWithCalculationID(t *testing.T) {
	base := StockCoverageResult{SKU: "A-1", CoverageDays: 5}
	tagged := base.WithCalculationID("calc-123")

	if tagged.CalculationID != "calc-123" {
		t.Errorf("CalculationID = %q, want calc-123", tagged.CalculationID)
	}
	if base.CalculationID != "" {
		t.Error("WithCalculationID must not mutate the receiver")
	}
}
