package dto

import "net/http"

// Error code constants organized by category

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Input error codes
const (
	// ErrCodeValidation is used when request validation fails
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	// ErrCodeRateLimited is used when a client exceeds its request budget
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
	// ErrCodeDuplicateSubmission is used when an Idempotency-Key was already used
	ErrCodeDuplicateSubmission = "ERR_DUPLICATE_SUBMISSION"
)

// Domain error codes, shared with shared.DomainError codes
const (
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeInvalidStatus        = "INVALID_STATUS"
	ErrCodeFeedUnavailable      = "FEED_UNAVAILABLE"
	ErrCodeStoreUnavailable     = "STORE_UNAVAILABLE"
	ErrCodeReconciliationFailed = "RECONCILIATION_FAILED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:     http.StatusTooManyRequests,

	ErrCodeDuplicateSubmission: http.StatusConflict,

	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeInvalidInput:  http.StatusBadRequest,
	ErrCodeInvalidStatus: http.StatusBadRequest,

	// Source outages are retryable
	ErrCodeFeedUnavailable:      http.StatusServiceUnavailable,
	ErrCodeStoreUnavailable:     http.StatusServiceUnavailable,
	ErrCodeReconciliationFailed: http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
