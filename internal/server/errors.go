package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/bulk"
	"github.com/open-cli-collective/salesforce-sync/internal/logging"
	"github.com/open-cli-collective/salesforce-sync/internal/store"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Codes reported for errors that carry no Salesforce error code.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeJobNotComplete = "JOB_NOT_COMPLETE"
	CodeUpstream       = "UPSTREAM_ERROR"
)

// statusFor maps an error to its response status and code.
func statusFor(err error) (int, string) {
	var (
		valErr    *api.ValidationError
		statusErr api.StatusError
		apiErr    *api.APIError
	)

	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, CodeValidation
	case errors.As(err, &statusErr):
		return statusErr.HTTPStatus(), CodeAuthentication
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, bulk.ErrJobNotComplete):
		return http.StatusConflict, CodeJobNotComplete
	case api.IsStorageLimit(err):
		return http.StatusInsufficientStorage, api.CodeStorageLimitExceeded
	case api.IsEntityDeleted(err):
		return http.StatusGone, api.CodeEntityIsDeleted
	case errors.As(err, &apiErr):
		code := apiErr.Code()
		if code == "" {
			code = CodeUpstream
		}
		if apiErr.StatusCode < http.StatusBadRequest {
			return http.StatusBadGateway, code
		}
		return apiErr.StatusCode, code
	default:
		return http.StatusBadGateway, CodeUpstream
	}
}

// respondError logs err with the request id and writes the JSON error body.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	log := logging.FromContext(r.Context())
	attrs := []any{"path", r.URL.Path, "method", r.Method, "status", status, "code", code, "error", err.Error()}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
