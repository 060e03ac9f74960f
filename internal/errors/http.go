// Package apperrors renders errors as the JSON envelope every HTTP endpoint
// returns. Envelopes are built with gofulmen's ErrorEnvelope and written in
// the {"error": {...}} response shape.
package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/internal/observability"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// Error codes used in HTTPErrorResponse.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// internalMessage is all a client learns about an unrecognised error.
const internalMessage = "internal server error"

// ErrorBody is the payload under "error".
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON error envelope.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HTTPError carries a status and code through handler returns.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// BadRequest wraps err as a 400.
func BadRequest(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

// NotFound returns a 404.
func NotFound(message string) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// ServiceUnavailable returns a 503 with details.
func ServiceUnavailable(message string, details map[string]any) *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// NewEnvelope builds the envelope for one error response. The request ID
// becomes the correlation ID. Flat details go into the envelope context;
// details holding nested values are kept whole as envelope details.
func NewEnvelope(code, message, requestID string, details map[string]any) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(code, message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(details) == 0 {
		return env
	}
	if _, err := env.WithContext(details); err != nil {
		env.Context = nil
		env = env.WithDetails(details)
	}
	return env
}

// ResponseFrom converts env to the response shape.
func ResponseFrom(env *gferrors.ErrorEnvelope) HTTPErrorResponse {
	body := ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
	}
	if n := len(env.Context) + len(env.Details); n > 0 {
		body.Details = make(map[string]any, n)
		for k, v := range env.Context {
			body.Details[k] = v
		}
		for k, v := range env.Details {
			body.Details[k] = v
		}
	}
	return HTTPErrorResponse{Error: body}
}

// WriteEnvelope writes env with the given status.
func WriteEnvelope(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	WriteJSON(w, status, ResponseFrom(env))
}

// RespondWithError writes err as an envelope. Missing work items become 404.
// Anything unrecognised is logged and answered with a generic 500.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var requestID string
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	var he *HTTPError
	switch {
	case errors.As(err, &he):
	case errors.Is(err, workqueue.ErrNotFound):
		he = &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error()}
	default:
		fields := []zap.Field{zap.String("request_id", requestID), zap.Error(err)}
		if r != nil {
			fields = append(fields, zap.String("path", r.URL.Path))
		}
		observability.CLILogger.Error("Request failed", fields...)
		he = &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: internalMessage}
	}
	WriteEnvelope(w, he.Status, NewEnvelope(he.Code, he.Message, requestID, he.Details))
}

// WriteError writes an envelope without going through an error value.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteEnvelope(w, status, gferrors.NewErrorEnvelope(code, message))
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
