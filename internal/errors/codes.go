// Package errors provides standardized error codes for consistent error handling.
package errors

import "net/http"

// ErrorCode represents a unique error code for specific error scenarios
type ErrorCode string

const (
	// Validation errors
	CodeURLInvalid             ErrorCode = "URL_INVALID"
	CodeURLEmpty               ErrorCode = "URL_EMPTY"
	CodeURLInvalidProtocol     ErrorCode = "URL_INVALID_PROTOCOL"
	CodeSchemaValidationFailed ErrorCode = "SCHEMA_VALIDATION_FAILED"
	CodeInvalidInput           ErrorCode = "INVALID_INPUT"

	// Authorization errors
	CodeSSRFBlocked  ErrorCode = "SSRF_BLOCKED"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"

	// Not-found errors
	CodeNodeNotFound     ErrorCode = "NODE_NOT_FOUND"
	CodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"

	// Conflict errors
	CodeDuplicateEntry              ErrorCode = "DUPLICATE_ENTRY"
	CodeDatabaseConstraintViolation ErrorCode = "DATABASE_CONSTRAINT_VIOLATION"

	// Throttling
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// External fetch errors
	CodeFetchFailed          ErrorCode = "FETCH_FAILED"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeContentTooLarge      ErrorCode = "CONTENT_TOO_LARGE"
	CodeScrapeFailed         ErrorCode = "SCRAPE_FAILED"
	CodeScrapeInvalidContent ErrorCode = "SCRAPE_INVALID_CONTENT"

	// LLM errors
	CodeLLMUnavailable     ErrorCode = "LLM_UNAVAILABLE"
	CodeLLMTimeout         ErrorCode = "LLM_TIMEOUT"
	CodeLLMRateLimited     ErrorCode = "LLM_RATE_LIMITED"
	CodeLLMInvalidResponse ErrorCode = "LLM_INVALID_RESPONSE"
	CodeLLMParsingError    ErrorCode = "LLM_PARSING_ERROR"
	CodeLLMNotInitialized  ErrorCode = "LLM_NOT_INITIALIZED"

	// Store errors
	CodeDatabaseConnectionError  ErrorCode = "DATABASE_CONNECTION_ERROR"
	CodeDatabaseQueryError       ErrorCode = "DATABASE_QUERY_ERROR"
	CodeDatabaseTransactionError ErrorCode = "DATABASE_TRANSACTION_ERROR"

	// Internal errors
	CodeConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	CodeNotImplemented     ErrorCode = "NOT_IMPLEMENTED"
	CodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatusCode returns the appropriate HTTP status code for an error code
func (c ErrorCode) HTTPStatusCode() int {
	switch c {
	case CodeURLInvalid, CodeURLEmpty, CodeURLInvalidProtocol,
		CodeSchemaValidationFailed, CodeInvalidInput:
		return http.StatusBadRequest

	case CodeUnauthorized:
		return http.StatusUnauthorized

	case CodeSSRFBlocked, CodeForbidden:
		return http.StatusForbidden

	case CodeNodeNotFound, CodeResourceNotFound:
		return http.StatusNotFound

	case CodeDuplicateEntry, CodeDatabaseConstraintViolation:
		return http.StatusConflict

	case CodeTimeout:
		return http.StatusRequestTimeout

	case CodeContentTooLarge:
		return http.StatusRequestEntityTooLarge

	case CodeRateLimitExceeded, CodeLLMRateLimited:
		return http.StatusTooManyRequests

	case CodeFetchFailed, CodeScrapeFailed, CodeScrapeInvalidContent,
		CodeLLMInvalidResponse, CodeLLMParsingError:
		return http.StatusBadGateway

	case CodeLLMUnavailable, CodeLLMNotInitialized, CodeDatabaseConnectionError:
		return http.StatusServiceUnavailable

	case CodeLLMTimeout:
		return http.StatusGatewayTimeout

	case CodeNotImplemented:
		return http.StatusNotImplemented

	default:
		return http.StatusInternalServerError
	}
}

// String returns the string representation of the error code
func (c ErrorCode) String() string {
	return string(c)
}

// IsRetryable returns whether an error with this code should be retried.
// The processing queue consults this for its backoff policy.
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case CodeLLMTimeout, CodeLLMRateLimited, CodeFetchFailed, CodeTimeout,
		CodeDatabaseConnectionError, CodeRateLimitExceeded:
		return true
	default:
		return false
	}
}

// Severity returns the severity level for the error code
func (c ErrorCode) Severity() ErrorSeverity {
	switch c {
	// Critical - system failures
	case CodeInternalError, CodeDatabaseTransactionError, CodeConfigurationError:
		return SeverityCritical

	// High - service disruptions
	case CodeDatabaseConnectionError, CodeDatabaseQueryError,
		CodeLLMUnavailable, CodeLLMNotInitialized:
		return SeverityHigh

	// Medium - degraded external collaborators and throttles
	case CodeTimeout, CodeLLMTimeout, CodeLLMRateLimited, CodeRateLimitExceeded,
		CodeFetchFailed, CodeScrapeFailed, CodeLLMInvalidResponse,
		CodeLLMParsingError, CodeDuplicateEntry, CodeDatabaseConstraintViolation,
		CodeSSRFBlocked:
		return SeverityMedium

	// Low - user errors
	default:
		return SeverityLow
	}
}
