// Package middleware wraps HTTP handlers with request IDs and panic recovery.
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/dumpkeeper/internal/errors"
	"github.com/3leaps/dumpkeeper/internal/observability"
)

// ErrorResponse is the envelope written on recovered panics.
type ErrorResponse = apperrors.HTTPErrorResponse

type ctxKey struct{}

// RequestID ensures every request carries X-Request-ID, generating one when
// the caller did not.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// GetRequestID returns the ID set by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Recovery turns a panic into a 500 INTERNAL_ERROR response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			msg := fmt.Sprintf("panic: %v", rec)
			observability.CLILogger.Error("Recovered from panic",
				zap.String("path", r.URL.Path),
				zap.String("panic", fmt.Sprint(rec)))
			envelope := errors.NewErrorEnvelope(apperrors.CodeInternal, msg)
			if id := r.Header.Get("X-Request-ID"); id != "" {
				envelope = envelope.WithCorrelationID(id)
			}
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, status int) {
	apperrors.WriteEnvelope(w, status, envelope)
}
