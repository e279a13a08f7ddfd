package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for the failure taxonomy. Input validation errors are rejected
// immediately; numerical degradation completes but is flagged in diagnostics;
// external dependency failures return a typed unavailable result; data
// inconsistency fails loudly before an estimate is published.
const (
	ErrInvalidInput     = "INVALID_INPUT"
	ErrNumericalDegrade = "NUMERICAL_DEGRADATION"
	ErrExternalAPI      = "EXTERNAL_API_ERROR"
	ErrRateLimit        = "RATE_LIMIT_EXCEEDED"
	ErrUnavailable      = "SOURCE_UNAVAILABLE"
	ErrInconsistency    = "DATA_INCONSISTENCY"
	ErrEstimation       = "ESTIMATION_ERROR"
	ErrInternalServer   = "INTERNAL_SERVER_ERROR"
)

// EngineError represents a standardized error response.
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError with timestamp.
func NewEngineError(code, message, details, requestID string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors. Invalid inputs are
// never silently corrected.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// DataInconsistencyError marks logically impossible input data, such as a
// pooled estimate implying events absent from every constituent study.
type DataInconsistencyError struct {
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *DataInconsistencyError) Error() string {
	return fmt.Sprintf("data inconsistency: %s", e.Message)
}

// NewDataInconsistencyError creates a new DataInconsistencyError.
func NewDataInconsistencyError(message string) *DataInconsistencyError {
	return &DataInconsistencyError{Message: message}
}

// UnavailableError marks an external-source failure. It is distinguishable
// from a true zero-signal result: "no signal detected" and "could not query"
// must never be conflated.
type UnavailableError struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Source, e.Reason)
}

// NewUnavailableError creates a new UnavailableError.
func NewUnavailableError(source, reason string) *UnavailableError {
	return &UnavailableError{Source: source, Reason: reason}
}

// IsValidationError reports whether err is (or wraps) an input validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnavailable reports whether err is (or wraps) an external-source failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsDataInconsistency reports whether err is (or wraps) a data inconsistency.
func IsDataInconsistency(err error) bool {
	var de *DataInconsistencyError
	return errors.As(err, &de)
}
