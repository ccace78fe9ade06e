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

// Is matches sentinel errors by code and message so wrapped copies still compare equal.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
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
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnsupported   = "UNSUPPORTED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidJob           = NewDomainError(ErrCodeValidation, "invalid sync job")
	ErrInvalidQuery         = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrInvalidConnectorConf = NewDomainError(ErrCodeValidation, "invalid connector config")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Configuration errors
var (
	ErrUnsupportedSource = NewDomainError(ErrCodeUnsupported, "unsupported source type")
	ErrMissingPrompt     = NewDomainError(ErrCodeUnsupported, "missing prompt config")
	ErrUnsupportedFormat = NewDomainError(ErrCodeUnsupported, "unsupported document format")
)

// Not found errors
var (
	ErrSyncRunNotFound = NewDomainError(ErrCodeNotFound, "sync run not found")
	ErrObjectNotFound  = NewDomainError(ErrCodeNotFound, "source object not found")
)

// Availability errors
var (
	ErrGraphUnavailable     = NewDomainError(ErrCodeUnavailable, "graph index not configured")
	ErrQueueUnavailable     = NewDomainError(ErrCodeUnavailable, "task queue not configured")
	ErrRunLogUnavailable    = NewDomainError(ErrCodeUnavailable, "sync run log not configured")
	ErrGeneratorUnavailable = NewDomainError(ErrCodeUnavailable, "generation provider not configured")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// UnsupportedSourceError wraps ErrUnsupportedSource with the offending type.
func UnsupportedSourceError(sourceType string) error {
	return NewDomainErrorWithCause(ErrCodeUnsupported, ErrUnsupportedSource.Message,
		fmt.Errorf("no connector registered for %q", sourceType))
}
