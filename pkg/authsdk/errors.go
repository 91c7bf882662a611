package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	ErrorCodeInvalidToken     = "INVALID_TOKEN"
	ErrorCodeExpired          = "EXPIRED"
	ErrorCodeStaleAssertion   = "STALE_ASSERTION"
	ErrorCodeNotAuthorized    = "NOT_AUTHORIZED"
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeInvalidRequest   = "INVALID_REQUEST"
	ErrorCodeInvalidRole      = "INVALID_ROLE"
	ErrorCodeRoleCycle        = "ROLE_CYCLE"
	ErrorCodeInvalidPolicy    = "INVALID_POLICY"
	ErrorCodeConflict         = "CONFLICT"
	ErrorCodeRateLimited      = "RATE_LIMITED"
	ErrorCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrorCodeServerError      = "SERVER_ERROR"
)

// ============================================================================
// APIError
// ============================================================================

// APIError is the JSON error body every gatekeep endpoint returns. It is
// used by the server to write responses and by the SDK to report them.
type APIError struct {
	// StatusCode is the HTTP status the error was or will be sent with.
	StatusCode int `json:"-"`

	// Code is a stable machine readable code such as "NOT_AUTHORIZED".
	Code string `json:"error"`

	// Message is safe to show to an end user.
	Message string `json:"message"`

	// Fields lists per-field problems for validation failures.
	Fields []FieldError `json:"fields,omitempty"`
}

// FieldError is a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code so callers can write errors.Is(err, authsdk.ErrNotAuthorized).
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// WriteError writes e as a JSON response.
func (e *APIError) WriteError(w http.ResponseWriter) {
	status := e.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	httpx.WriteJSON(w, status, e)
}

// NewAPIError creates an APIError.
func NewAPIError(statusCode int, code, message string) *APIError {
	return &APIError{StatusCode: statusCode, Code: code, Message: message}
}

var (
	ErrInvalidToken     = NewAPIError(http.StatusUnauthorized, ErrorCodeInvalidToken, "invalid token")
	ErrExpired          = NewAPIError(http.StatusUnauthorized, ErrorCodeExpired, "token expired")
	ErrNotAuthorized    = NewAPIError(http.StatusForbidden, ErrorCodeNotAuthorized, "not authorized")
	ErrNotFound         = NewAPIError(http.StatusNotFound, ErrorCodeNotFound, "not found")
	ErrInvalidRequest   = NewAPIError(http.StatusBadRequest, ErrorCodeInvalidRequest, "the request is malformed or missing required fields")
	ErrConflict         = NewAPIError(http.StatusConflict, ErrorCodeConflict, "conflict")
	ErrRateLimited      = NewAPIError(http.StatusTooManyRequests, ErrorCodeRateLimited, "too many requests, try again later")
	ErrStoreUnavailable = NewAPIError(http.StatusServiceUnavailable, ErrorCodeStoreUnavailable, "temporarily unavailable")
)

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns a non-2xx response into an *APIError. Bodies that
// are not gatekeep error bodies become a generic error for the status.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       ErrorCodeServerError,
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
