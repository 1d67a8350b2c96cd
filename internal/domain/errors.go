package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("resource conflict")
	ErrInternal       = errors.New("internal error")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateEntry = errors.New("duplicate entry")
)

// Alerting and self-healing errors
var (
	ErrTerminalState   = errors.New("record is in a terminal state")
	ErrApprovalClosed  = errors.New("approval request is no longer pending")
	ErrApprovalPending = errors.New("resolution is waiting for approval")
	ErrHealingDisabled = errors.New("self-healing is disabled")
	ErrNoCandidates    = errors.New("no candidate actions meet the thresholds")
	ErrRuleDisabled    = errors.New("rule is disabled")
)

// ValidationError contains field-level validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match on ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a single-field validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ValidationErrors collects every field failure from one validation pass.
type ValidationErrors []ValidationError

// Error joins the field messages into one line.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(ve))
	for i, e := range ve {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap lets callers match on ErrValidation.
func (ve ValidationErrors) Unwrap() error {
	return ErrValidation
}

// Add records a field failure.
func (ve *ValidationErrors) Add(field, message string) {
	*ve = append(*ve, ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any failure was recorded.
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}
