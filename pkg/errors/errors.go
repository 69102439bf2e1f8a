package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates a conflict with existing data
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeInputUnavailable indicates the scan/series is missing or
	// unreadable. Fatal to a workflow run.
	ErrorTypeInputUnavailable ErrorType = "INPUT_UNAVAILABLE"

	// ErrorTypeInferenceFailure indicates the inference capability timed out,
	// errored, or returned output that failed schema validation. Fatal to a
	// workflow run; no partial plan is persisted.
	ErrorTypeInferenceFailure ErrorType = "INFERENCE_FAILURE"

	// ErrorTypeSegmentationDegraded indicates masks were empty or unusable.
	// Non-fatal: burden falls back to formula estimation and meshing is
	// skipped for the run.
	ErrorTypeSegmentationDegraded ErrorType = "SEGMENTATION_DEGRADED"

	// ErrorTypeRuleInputMissing indicates a stone lacks the size data the
	// rule engine needs. Non-fatal: the stone is excluded from the aggregate
	// burden with a recorded warning.
	ErrorTypeRuleInputMissing ErrorType = "RULE_INPUT_MISSING"

	// ErrorTypeDispatchBlocked indicates an approval, preference, or
	// quiet-hours gate was not satisfied. Non-fatal: the action stays queued.
	ErrorTypeDispatchBlocked ErrorType = "DISPATCH_BLOCKED"

	// ErrorTypeTransportFailure indicates a send attempt failed. Terminal for
	// that action; not retried.
	ErrorTypeTransportFailure ErrorType = "TRANSPORT_FAILURE"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewInputUnavailableError creates an error for a missing or unreadable scan
func NewInputUnavailableError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInputUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewInferenceFailureError creates an error for a failed inference call
func NewInferenceFailureError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInferenceFailure,
		Message: message,
		Err:     err,
	}
}

// NewSegmentationDegradedError creates an error for unusable segmentation output
func NewSegmentationDegradedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeSegmentationDegraded,
		Message: message,
	}
}

// NewRuleInputMissingError creates an error for a stone missing size data
func NewRuleInputMissingError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeRuleInputMissing,
		Message: message,
	}
}

// NewDispatchBlockedError creates an error for a gated dispatch attempt
func NewDispatchBlockedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeDispatchBlocked,
		Message: message,
	}
}

// NewTransportFailureError creates an error for a failed send attempt
func NewTransportFailureError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeTransportFailure,
		Message: message,
		Err:     err,
	}
}
