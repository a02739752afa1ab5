package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/roundsync/internal/middleware"
	"github.com/mcoot/roundsync/internal/model"
)

// APIError represents an API error response. RequestID matches the
// request_id of the server's log lines for the request.
type APIError struct {
	Code      model.ErrorKind `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"requestId,omitempty"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer, tagged with
// the request ID the logging middleware assigned
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	body := he.apiError
	body.RequestID = w.Header().Get(middleware.RequestIDHeader)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: body})
}

// Status returns the HTTP status err would be written with
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError. Messages of classified
// errors are passed through; internal errors are never exposed.
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	kind := model.Kind(err)
	switch kind {
	case model.KindInvalidInput:
		return &httpError{http.StatusBadRequest, APIError{Code: kind, Message: err.Error()}}
	case model.KindNotFound:
		return &httpError{http.StatusNotFound, APIError{Code: kind, Message: err.Error()}}
	case model.KindUnauthorized:
		return &httpError{http.StatusUnauthorized, APIError{Code: kind, Message: "Invalid, expired or foreign session"}}
	case model.KindConflict:
		return &httpError{http.StatusConflict, APIError{Code: kind, Message: "Round state changed since it was read; re-read and resubmit"}}
	default:
		return &httpError{http.StatusInternalServerError, APIError{Code: model.KindInternal, Message: "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{Code: model.KindInvalidInput, Message: message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{Code: model.KindUnauthorized, Message: "Authentication required"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{Code: model.KindInternal, Message: "Internal server error"}}
}
