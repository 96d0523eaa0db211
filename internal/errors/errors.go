package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/portfolio-guardian/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryInvalidData is a malformed portfolio or failed structural invariant
	CategoryInvalidData ErrorCategory = "invalid_data"
	// CategoryInsufficientData covers short histories, excluded value and thin overlaps
	CategoryInsufficientData ErrorCategory = "insufficient_data"
	// CategoryTimeout is an analyzer that missed its budget
	CategoryTimeout ErrorCategory = "timeout"
	// CategorySynthesisUnavailable is recovered locally and never fails a request
	CategorySynthesisUnavailable ErrorCategory = "synthesis_unavailable"
	// CategoryProvider represents an unavailable data provider or analyzer
	CategoryProvider ErrorCategory = "provider"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidDataError creates an invalid data error. Never retried.
func NewInvalidDataError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvalidData,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_DATA",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewInsufficientDataError creates an insufficient data error
func NewInsufficientDataError(message string, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInsufficientData,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INSUFFICIENT_DATA",
		Message:    message,
		Details:    details,
	}
}

// NewTimeoutError creates an analyzer timeout error
func NewTimeoutError(role string, timeout time.Duration) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTimeout,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "TIMEOUT",
		Message:    fmt.Sprintf("%s did not respond within %s", role, HumanDuration(timeout)),
		Details: map[string]interface{}{
			"role":      role,
			"timeoutMs": timeout.Milliseconds(),
		},
	}
}

// HumanDuration renders whole seconds as "1 second" or "10 seconds" and
// anything finer with time.Duration's own format.
func HumanDuration(d time.Duration) string {
	if d <= 0 || d%time.Second != 0 {
		return d.String()
	}
	if n := int64(d / time.Second); n != 1 {
		return fmt.Sprintf("%d seconds", n)
	}
	return "1 second"
}

// NewSynthesisUnavailableError wraps a failed synthesis step
func NewSynthesisUnavailableError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySynthesisUnavailable,
		StatusCode: http.StatusInternalServerError,
		Code:       "SYNTHESIS_UNAVAILABLE",
		Message:    "synthesis unavailable",
		Cause:      cause,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewProviderError creates a data provider or analyzer unavailable error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("data provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewProviderRateLimitError creates a provider rate limit error
func NewProviderRateLimitError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusTooManyRequests,
		Code:       "PROVIDER_RATE_LIMIT",
		Message:    fmt.Sprintf("data provider rate limit exceeded: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// Categorize categorizes an existing error. Wrapped categorized errors are
// found through the chain.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	c := &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
	switch err.Code {
	case "INVALID_DATA", "INVALID_ADDRESS":
		c.Category, c.StatusCode = CategoryInvalidData, http.StatusBadRequest
	case "INSUFFICIENT_DATA":
		c.Category, c.StatusCode = CategoryInsufficientData, http.StatusUnprocessableEntity
	case "NOT_FOUND", "SESSION_NOT_FOUND", "WALLET_NOT_FOUND":
		c.Category, c.StatusCode = CategoryNotFound, http.StatusNotFound
	case "TIMEOUT":
		c.Category, c.StatusCode = CategoryTimeout, http.StatusGatewayTimeout
	}
	return c
}

// Is reports whether err carries the given category anywhere in its chain
func Is(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr.Category == category
	}
	return false
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable. Invalid and
// insufficient data are never retried automatically.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// ErrorTypeFor maps an error onto the four wire error types
func ErrorTypeFor(err error) types.ErrorType {
	catErr := Categorize(err)
	if catErr == nil {
		return types.ErrorTypeAgentUnavailable
	}
	switch catErr.Category {
	case CategoryInvalidData:
		return types.ErrorTypeInvalidData
	case CategoryInsufficientData:
		return types.ErrorTypeInsufficientData
	case CategoryTimeout:
		return types.ErrorTypeTimeout
	default:
		return types.ErrorTypeAgentUnavailable
	}
}
