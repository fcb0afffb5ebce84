package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Sentinel errors for common API error conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized - check your credentials")
	ErrForbidden      = errors.New("forbidden - insufficient permissions")
	ErrBadRequest     = errors.New("bad request")
	ErrRateLimited    = errors.New("rate limited - try again later")
	ErrServerError    = errors.New("server error")
	ErrInvalidSession = errors.New("invalid session - token may be expired")

	ErrStorageLimitExceeded = errors.New("storage limit exceeded")
	ErrEntityDeleted        = errors.New("entity is deleted")
	ErrTransient            = errors.New("transient network error")
	ErrValidation           = errors.New("validation failed")
)

// Validation errors
var (
	ErrInstanceURLRequired = errors.New("instance URL is required")
	ErrHTTPClientRequired  = errors.New("HTTP client is required")
)

// Salesforce error codes the client reacts to.
const (
	CodeInvalidSession       = "INVALID_SESSION_ID"
	CodeStorageLimitExceeded = "STORAGE_LIMIT_EXCEEDED"
	CodeEntityIsDeleted      = "ENTITY_IS_DELETED"
	CodeRequestLimitExceeded = "REQUEST_LIMIT_EXCEEDED"
)

// APIError represents a Salesforce API error response.
// Salesforce returns errors as an array: [{"errorCode": "...", "message": "...", "fields": [...]}]
type APIError struct {
	StatusCode int
	Errors     []SalesforceError
}

// SalesforceError represents a single error from the Salesforce API
type SalesforceError struct {
	ErrorCode string   `json:"errorCode"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields,omitempty"`
}

func (e SalesforceError) String() string {
	if e.ErrorCode == "" {
		return e.Message
	}
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (fields: %s)", e.ErrorCode, e.Message, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

// Error implements the error interface
func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}

	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.String())
	}
	return strings.Join(msgs, "; ")
}

// HasCode reports whether any of the returned errors carries code.
func (e *APIError) HasCode(code string) bool {
	for _, err := range e.Errors {
		if err.ErrorCode == code {
			return true
		}
	}
	return false
}

// Code returns the first error code, or "" if none was returned.
func (e *APIError) Code() string {
	for _, err := range e.Errors {
		if err.ErrorCode != "" {
			return err.ErrorCode
		}
	}
	return ""
}

// Unwrap returns the sentinels matching the status code and the error codes.
func (e *APIError) Unwrap() []error {
	var errs []error

	switch {
	case e.StatusCode == http.StatusUnauthorized:
		if e.HasCode(CodeInvalidSession) {
			errs = append(errs, ErrInvalidSession)
		} else {
			errs = append(errs, ErrUnauthorized)
		}
	case e.StatusCode == http.StatusForbidden:
		errs = append(errs, ErrForbidden)
	case e.StatusCode == http.StatusNotFound:
		errs = append(errs, ErrNotFound)
	case e.StatusCode == http.StatusBadRequest:
		errs = append(errs, ErrBadRequest)
	case e.StatusCode == http.StatusTooManyRequests:
		errs = append(errs, ErrRateLimited)
	case e.StatusCode >= 500:
		errs = append(errs, ErrServerError)
	}

	if e.HasCode(CodeStorageLimitExceeded) {
		errs = append(errs, ErrStorageLimitExceeded)
	}
	if e.HasCode(CodeEntityIsDeleted) {
		errs = append(errs, ErrEntityDeleted)
	}
	if e.HasCode(CodeRequestLimitExceeded) && e.StatusCode != http.StatusTooManyRequests {
		errs = append(errs, ErrRateLimited)
	}
	return errs
}

// StatusError is implemented by errors that carry their own HTTP status, such
// as token endpoint failures raised by an authorizing transport.
type StatusError interface {
	error
	HTTPStatus() int
}

// WrapTransportError classifies an error returned by http.Client.Do.
func WrapTransportError(method, url string, err error) error {
	var se StatusError
	if errors.As(err, &se) {
		return err
	}
	return &NetworkError{Method: method, URL: url, Err: err}
}

// NetworkError wraps a failure to reach Salesforce at all (DNS, connection
// reset, timeout). It is always considered transient.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// ValidationError reports input rejected before any remote call was made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError returns a *ValidationError.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// IsNotFound returns true if the error indicates a resource was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized returns true if the error indicates an authentication failure
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidSession)
}

// IsForbidden returns true if the error indicates insufficient permissions
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsBadRequest returns true if the error indicates a bad request
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// IsRateLimited returns true if the error indicates rate limiting
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsServerError returns true if the error indicates a server error
func IsServerError(err error) bool {
	return errors.Is(err, ErrServerError)
}

// IsInvalidSession returns true if the error indicates an expired/invalid session
func IsInvalidSession(err error) bool {
	return errors.Is(err, ErrInvalidSession)
}

// IsStorageLimit returns true if the org has run out of data storage
func IsStorageLimit(err error) bool {
	return errors.Is(err, ErrStorageLimitExceeded)
}

// IsEntityDeleted returns true if the target record no longer exists
func IsEntityDeleted(err error) bool {
	return errors.Is(err, ErrEntityDeleted)
}

// IsTransient returns true for network failures, server errors and throttling.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrServerError) || errors.Is(err, ErrRateLimited)
}

// IsValidation returns true if the error was raised before any remote call
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// ErrorCode extracts the first Salesforce error code from err, if any.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code()
	}
	return ""
}

// ParseAPIError creates an APIError from an HTTP response.
// The response body is read and closed.
func ParseAPIError(resp *http.Response) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Errors:     []SalesforceError{{Message: "failed to read error response"}},
		}
	}

	return ParseAPIErrorBody(resp.StatusCode, body)
}

// ParseAPIErrorBody builds an APIError from an already-read response body.
func ParseAPIErrorBody(status int, body []byte) error {
	apiErr := &APIError{
		StatusCode: status,
	}

	// Try to parse as Salesforce error array
	var sfErrors []SalesforceError
	if err := json.Unmarshal(body, &sfErrors); err == nil && len(sfErrors) > 0 {
		apiErr.Errors = sfErrors
		return apiErr
	}

	// Try to parse as single error object
	var sfError SalesforceError
	if err := json.Unmarshal(body, &sfError); err == nil && sfError.ErrorCode != "" {
		apiErr.Errors = []SalesforceError{sfError}
		return apiErr
	}

	// Fall back to raw body as message
	if len(body) > 0 {
		apiErr.Errors = []SalesforceError{{Message: strings.TrimSpace(string(body))}}
	}

	return apiErr
}
