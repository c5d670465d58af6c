package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the calculation error taxonomy. Callers match them
// with errors.Is; the typed structs below carry the SKU context.
var (
	ErrInsufficientData     = errors.New("insufficient sales history")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrCalculation          = errors.New("calculation failed")
)

// InsufficientDataError is returned when a SKU has too little sales history
// for the statistics downstream to be meaningful.
type InsufficientDataError struct {
	SKU          string
	DistinctDays int
	RequiredDays int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient sales history for sku %q: %d distinct days, need %d",
		e.SKU, e.DistinctDays, e.RequiredDays)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// InvalidConfigurationError is returned before any computation starts when
// the input or configuration is structurally unusable.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *InvalidConfigurationError) Unwrap() error { return ErrInvalidConfiguration }

// CalculationError wraps an unexpected numeric failure with the SKU it
// occurred for. The guards in the pipeline should make this unreachable, but
// if it surfaces it must never be silently converted into a zero result.
type CalculationError struct {
	SKU   string
	Stage string
	Err   error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation failed for sku %q at %s: %v", e.SKU, e.Stage, e.Err)
}

func (e *CalculationError) Unwrap() error { return ErrCalculation }
