// Package errors provides the unified error type used across all layers.
// Every failure carries a machine code, an HTTP status hint, a severity
// and a retryable flag so the HTTP surface and the processing queue can
// make policy decisions without string matching.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorType defines the category of error for proper handling and response.
type ErrorType string

const (
	// Business logic errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"

	// Infrastructure errors
	ErrorTypeInternal   ErrorType = "INTERNAL"
	ErrorTypeTimeout    ErrorType = "TIMEOUT"
	ErrorTypeConnection ErrorType = "CONNECTION"
	ErrorTypeRateLimit  ErrorType = "RATE_LIMIT"

	// External service errors
	ErrorTypeExternal    ErrorType = "EXTERNAL"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
)

// ErrorSeverity defines the severity level for logging and monitoring.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// UnifiedError is the single error type shared by every layer.
type UnifiedError struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`    // Machine code for programmatic handling
	Message string    `json:"message"` // Human-readable message
	Details string    `json:"details"` // Additional context information

	Operation string `json:"operation"` // The operation that failed
	Resource  string `json:"resource"`  // The resource being operated on
	RequestID string `json:"requestId"` // Request tracing ID

	Severity   ErrorSeverity  `json:"severity"`
	Retryable  bool           `json:"retryable"`
	RetryAfter time.Duration  `json:"retryAfter,omitempty"` // How long to wait before retry
	Context    map[string]any `json:"context,omitempty"`    // Optional context bag
	Cause      error          `json:"-"`                    // Underlying cause (not serialized)

	// Origin information for debugging
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e *UnifiedError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with the underlying cause.
func (e *UnifiedError) Unwrap() error {
	return e.Cause
}

// String provides a detailed string representation for logging.
func (e *UnifiedError) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Error: %s\n", e.Error()))
	if e.Operation != "" {
		b.WriteString(fmt.Sprintf("Operation: %s\n", e.Operation))
	}
	if e.Resource != "" {
		b.WriteString(fmt.Sprintf("Resource: %s\n", e.Resource))
	}
	if e.RequestID != "" {
		b.WriteString(fmt.Sprintf("RequestID: %s\n", e.RequestID))
	}
	b.WriteString(fmt.Sprintf("Severity: %s\n", e.Severity))
	b.WriteString(fmt.Sprintf("Retryable: %t\n", e.Retryable))
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("Cause: %v\n", e.Cause))
	}
	if e.File != "" && e.Line > 0 {
		b.WriteString(fmt.Sprintf("Location: %s:%d\n", e.File, e.Line))
	}
	return b.String()
}

// ErrorBuilder provides a fluent interface for constructing UnifiedError instances.
type ErrorBuilder struct {
	err *UnifiedError
}

// NewError creates a new error builder with the specified type and code.
// Severity and retryability default from the code's own policy.
func NewError(errType ErrorType, code ErrorCode, message string) *ErrorBuilder {
	_, file, line, _ := runtime.Caller(1)
	return &ErrorBuilder{
		err: &UnifiedError{
			Type:      errType,
			Code:      code,
			Message:   message,
			Severity:  code.Severity(),
			Retryable: code.IsRetryable(),
			File:      file,
			Line:      line,
		},
	}
}

// WithDetails adds additional details to the error.
func (b *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	b.err.Details = details
	return b
}

// WithOperation specifies the operation that failed.
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

// WithResource specifies the resource being operated on.
func (b *ErrorBuilder) WithResource(resource string) *ErrorBuilder {
	b.err.Resource = resource
	return b
}

// WithRequestID adds request tracing information.
func (b *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	b.err.RequestID = requestID
	return b
}

// WithSeverity overrides the code's default severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.err.Severity = severity
	return b
}

// WithRetryable overrides the code's default retryability.
func (b *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	b.err.Retryable = retryable
	return b
}

// WithRetryAfter sets how long to wait before retrying.
func (b *ErrorBuilder) WithRetryAfter(d time.Duration) *ErrorBuilder {
	b.err.RetryAfter = d
	b.err.Retryable = true
	return b
}

// WithCause adds the underlying cause error.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

// WithContext adds one key to the error's context bag.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]any)
	}
	b.err.Context[key] = value
	return b
}

// Build returns the constructed UnifiedError.
func (b *ErrorBuilder) Build() *UnifiedError {
	return b.err
}

// Convenience constructors. Each picks the matching ErrorType; severity
// and retryability come from the code.

// Validation creates a validation error.
func Validation(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeValidation, code, message)
}

// NotFound creates a not found error.
func NotFound(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeNotFound, code, message)
}

// Conflict creates a conflict error.
func Conflict(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeConflict, code, message)
}

// Forbidden creates a forbidden error (SSRF rejections live here).
func Forbidden(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeForbidden, code, message)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeUnauthorized, code, message)
}

// Internal creates an internal error.
func Internal(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeInternal, code, message)
}

// Timeout creates a timeout error.
func Timeout(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeTimeout, code, message)
}

// Connection creates a connection error.
func Connection(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeConnection, code, message)
}

// External creates an external service error.
func External(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeExternal, code, message)
}

// RateLimit creates a throttling error.
func RateLimit(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeRateLimit, code, message)
}

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Type == errType
	}
	return false
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return IsType(err, ErrorTypeValidation) }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return IsType(err, ErrorTypeNotFound) }

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool { return IsType(err, ErrorTypeConflict) }

// IsForbidden checks if an error is a forbidden error.
func IsForbidden(err error) bool { return IsType(err, ErrorTypeForbidden) }

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool { return IsType(err, ErrorTypeTimeout) }

// IsUnavailable checks if an error marks a dependency as unavailable.
func IsUnavailable(err error) bool {
	return IsType(err, ErrorTypeUnavailable) || IsType(err, ErrorTypeConnection)
}

// IsRetryable reports whether the operation that produced err may be retried.
func IsRetryable(err error) bool {
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}

// CodeOf extracts the machine code, or CodeInternalError for foreign errors.
func CodeOf(err error) ErrorCode {
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return CodeInternalError
}

// GetSeverity returns the severity of an error.
func GetSeverity(err error) ErrorSeverity {
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Severity
	}
	return SeverityMedium
}

// Wrap wraps an existing error with additional context while preserving
// the original classification. Foreign errors become internal errors.
func Wrap(err error, operation, message string) *UnifiedError {
	if err == nil {
		return nil
	}

	var existing *UnifiedError
	if errors.As(err, &existing) {
		return &UnifiedError{
			Type:      existing.Type,
			Code:      existing.Code,
			Message:   message,
			Details:   existing.Message,
			Operation: operation,
			Resource:  existing.Resource,
			RequestID: existing.RequestID,
			Severity:  existing.Severity,
			Retryable: existing.Retryable,
			Context:   existing.Context,
			Cause:     err,
			File:      existing.File,
			Line:      existing.Line,
		}
	}

	_, file, line, _ := runtime.Caller(1)
	return &UnifiedError{
		Type:      ErrorTypeInternal,
		Code:      CodeInternalError,
		Message:   message,
		Details:   err.Error(),
		Operation: operation,
		Severity:  SeverityMedium,
		Cause:     err,
		File:      file,
		Line:      line,
	}
}
