// Package errors provides the HTTP boundary for error rendering.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// HTTPErrorResponse represents the standardized error response structure
type HTTPErrorResponse struct {
	Error     HTTPErrorDetails `json:"error"`
	RequestID string           `json:"request_id,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// HTTPErrorDetails contains the error details
type HTTPErrorDetails struct {
	Type       string         `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	Resource   string         `json:"resource,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	RetryAfter int            `json:"retry_after,omitempty"` // seconds
	Context    map[string]any `json:"context,omitempty"`
}

// WriteHTTPError writes a standardized error response. Foreign errors are
// rendered as internal errors so 5xx responses never leak internals.
func WriteHTTPError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var ue *UnifiedError
	if !errors.As(err, &ue) {
		ue = Internal(CodeInternalError, "An unexpected error occurred").
			WithCause(err).
			Build()
	}

	requestID := ue.RequestID
	if requestID == "" && r != nil {
		requestID = middleware.GetReqID(r.Context())
	}

	statusCode := httpStatusFor(ue)

	response := HTTPErrorResponse{
		Error: HTTPErrorDetails{
			Type:      string(ue.Type),
			Code:      ue.Code.String(),
			Message:   ue.Message,
			Details:   ue.Details,
			Resource:  ue.Resource,
			Retryable: ue.Retryable,
			Context:   ue.Context,
		},
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if ue.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(ue.RetryAfter.Seconds())))
		response.Error.RetryAfter = int(ue.RetryAfter.Seconds())
	}

	logger.Log(logLevelFor(ue.Severity),
		"HTTP error response",
		zap.String("error_type", string(ue.Type)),
		zap.String("error_code", ue.Code.String()),
		zap.String("message", ue.Message),
		zap.String("request_id", requestID),
		zap.Int("status_code", statusCode),
		zap.Bool("retryable", ue.Retryable),
		zap.Error(ue.Cause),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		logger.Error("Failed to encode error response",
			zap.Error(encErr),
			zap.String("request_id", requestID),
		)
	}
}

// Recovery converts handler panics into INTERNAL_ERROR responses.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID := middleware.GetReqID(r.Context())
					logger.Error("Panic recovered",
						zap.String("request_id", requestID),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
						zap.String("stack_trace", string(debug.Stack())),
					)

					appErr := Internal(CodeInternalError, "An unexpected error occurred").
						WithOperation(fmt.Sprintf("%s %s", r.Method, r.URL.Path)).
						WithRequestID(requestID).
						Build()
					WriteHTTPError(w, r, appErr, logger)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// httpStatusFor determines the HTTP status code for an error
func httpStatusFor(err *UnifiedError) int {
	if err.Code != "" {
		if code := err.Code.HTTPStatusCode(); code != http.StatusInternalServerError {
			return code
		}
	}

	switch err.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeUnavailable, ErrorTypeConnection:
		return http.StatusServiceUnavailable
	case ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// logLevelFor converts error severity to zap log level
func logLevelFor(severity ErrorSeverity) zapcore.Level {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return zapcore.ErrorLevel
	case SeverityMedium:
		return zapcore.WarnLevel
	case SeverityLow:
		return zapcore.InfoLevel
	default:
		return zapcore.WarnLevel
	}
}
