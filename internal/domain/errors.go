package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// Validation errors
var (
	ErrInvalidChunkType      = NewDomainError(ErrCodeValidation, "invalid chunk type")
	ErrInvalidVehicleKey     = NewDomainError(ErrCodeValidation, "invalid vehicle key format")
	ErrInvalidVerifiedStatus = NewDomainError(ErrCodeValidation, "invalid verified status")
)

// Not found errors
var (
	ErrChunkNotFound         = NewDomainError(ErrCodeNotFound, "chunk not found")
	ErrGenerationJobNotFound = NewDomainError(ErrCodeNotFound, "generation job not found")
	ErrQARunNotFound         = NewDomainError(ErrCodeNotFound, "qa run not found")
)

// Conflict errors. A stub-creation conflict is recoverable: the caller must
// re-read the winning row instead of re-creating.
var (
	ErrChunkAlreadyExists = NewDomainError(ErrCodeConflict, "chunk already exists for this key")
	ErrJobAlreadyInFlight = NewDomainError(ErrCodeConflict, "generation job already in flight for this key")
)

// Lifecycle errors
var (
	ErrGenerationFailed      = NewDomainError(ErrCodeInternalError, "content generation failed")
	ErrChunkNotBanned        = NewDomainError(ErrCodeInvalidOperation, "chunk is not banned")
	ErrGenerationRateLimited = NewDomainError(ErrCodeRateLimited, "daily generation limit reached for vehicle")
)
