package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/3leaps/dumpkeeper/pkg/workqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"http error", BadRequest("bad date", assert.AnError), http.StatusBadRequest, CodeBadRequest},
		{"wrapped http error", fmt.Errorf("lookup: %w", NotFound("no such kind")), http.StatusNotFound, CodeNotFound},
		{"missing item", fmt.Errorf("get: %w", workqueue.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"other", assert.AnError, http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
			req.Header.Set("X-Request-ID", "req-1")
			rec := httptest.NewRecorder()

			RespondWithError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decode(t, rec)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, "req-1", body.Error.RequestID)
		})
	}
}

func TestServiceUnavailableDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, nil, ServiceUnavailable("down", map[string]any{"checks": map[string]string{"store": "unhealthy"}}))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, CodeServiceUnavailable, body.Error.Code)
	checks, ok := body.Error.Details["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unhealthy", checks["store"])
}

func TestRespondWithErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	err := fmt.Errorf("select work_items: %w", errors.New("SQLITE_BUSY: database is locked"))

	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil), err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.Equal(t, "internal server error", body.Error.Message)
	assert.NotContains(t, rec.Body.String(), "SQLITE_BUSY")
	assert.NotContains(t, rec.Body.String(), "work_items")
}

func TestNewEnvelope(t *testing.T) {
	t.Run("flat details become context", func(t *testing.T) {
		env := NewEnvelope(CodeBadRequest, "invalid date", "req-9", map[string]any{"date": "2015-07-03"})
		assert.Equal(t, "req-9", env.CorrelationID)
		assert.Equal(t, "2015-07-03", env.Context["date"])
		assert.Empty(t, env.Details)

		body := ResponseFrom(env).Error
		assert.Equal(t, "req-9", body.RequestID)
		assert.Equal(t, "2015-07-03", body.Details["date"])
	})

	t.Run("nested details are kept whole", func(t *testing.T) {
		checks := map[string]string{"store": "unhealthy"}
		env := NewEnvelope(CodeServiceUnavailable, "down", "", map[string]any{"checks": checks})
		assert.Empty(t, env.CorrelationID)
		assert.Nil(t, env.Context)
		assert.Equal(t, checks, env.Details["checks"])
	})

	t.Run("no details", func(t *testing.T) {
		body := ResponseFrom(NewEnvelope(CodeNotFound, "gone", "", nil)).Error
		assert.Nil(t, body.Details)
		assert.Equal(t, CodeNotFound, body.Code)
	})
}

func TestHTTPErrorUnwrap(t *testing.T) {
	err := BadRequest("bad", assert.AnError)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "bad: "+assert.AnError.Error(), err.Error())
	assert.Equal(t, "gone", NotFound("gone").Error())
}
