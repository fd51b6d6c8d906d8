package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode is the failure taxonomy surfaced by the orchestration layer
type ErrorCode string

const (
	CodeInvalidAPIKey      ErrorCode = "INVALID_API_KEY"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeCircuitBreakerOpen ErrorCode = "CIRCUIT_BREAKER_OPEN"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeNetwork            ErrorCode = "NETWORK_ERROR"
	CodeServer             ErrorCode = "SERVER_ERROR"
	CodeParse              ErrorCode = "PARSE_ERROR"
	CodePollingTimeout     ErrorCode = "POLLING_TIMEOUT"
	CodeCancelled          ErrorCode = "CANCELLED"
	CodeUnknown            ErrorCode = "UNKNOWN_ERROR"
	CodePayloadTooLarge    ErrorCode = "PAYLOAD_TOO_LARGE"
	CodeJobFailed          ErrorCode = "JOB_FAILED"
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
)

// retryableCodes lists the codes the executor may recover from locally
var retryableCodes = map[ErrorCode]bool{
	CodeTimeout: true,
	CodeNetwork: true,
	CodeServer:  true,
	CodeUnknown: true,
}

// Retryable reports whether a failure with this code may be retried
func (c ErrorCode) Retryable() bool {
	return retryableCodes[c]
}

func (c ErrorCode) String() string {
	return string(c)
}

// AppError represents a classified failure with context
type AppError struct {
	Code      ErrorCode         `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Attempts  int               `json:"attempts,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the executor may retry this failure
func (e *AppError) Retryable() bool {
	return e.Code.Retryable()
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRequestID adds a request ID to the error
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// WithAttempts records how many external attempts were made before failing
func (e *AppError) WithAttempts(attempts int) *AppError {
	e.Attempts = attempts
	return e
}

// Common error constructors
func NewInvalidAPIKeyError(message string) *AppError {
	return NewAppError(CodeInvalidAPIKey, message)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(CodeRateLimit, message)
}

func NewCircuitBreakerOpenError(name string) *AppError {
	return NewAppError(CodeCircuitBreakerOpen, fmt.Sprintf("circuit breaker '%s' is open", name)).
		WithDetail("breaker", name)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(CodeTimeout, fmt.Sprintf("%s timed out", operation))
}

func NewNetworkError(message string) *AppError {
	return NewAppError(CodeNetwork, message)
}

func NewServerError(service, message string) *AppError {
	return NewAppError(CodeServer, message).WithDetail("service", service)
}

func NewParseError(message string) *AppError {
	return NewAppError(CodeParse, message)
}

func NewPollingTimeoutError(jobID string, attempts int) *AppError {
	return NewAppError(CodePollingTimeout, fmt.Sprintf("job %s still pending after %d polls", jobID, attempts)).
		WithDetail("job_id", jobID).
		WithAttempts(attempts)
}

func NewCancelledError(operation string) *AppError {
	return NewAppError(CodeCancelled, fmt.Sprintf("%s cancelled", operation))
}

func NewUnknownError(message string) *AppError {
	return NewAppError(CodeUnknown, message)
}

func NewPayloadTooLargeError(message string) *AppError {
	return NewAppError(CodePayloadTooLarge, message)
}

func NewJobFailedError(jobID, message string) *AppError {
	return NewAppError(CodeJobFailed, message).WithDetail("job_id", jobID)
}

func NewValidationError(message string) *AppError {
	return NewAppError(CodeValidation, message)
}

// AsAppError extracts an AppError from an error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode checks if the error carries a specific code
func IsCode(err error, code ErrorCode) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether the error is a retryable AppError
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable()
	}
	return false
}
