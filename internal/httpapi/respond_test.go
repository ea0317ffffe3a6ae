package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calendarapp/server/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteProblemEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)

	writeProblem(rec, req, apperr.New(apperr.KindNotFound, "event not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "about:blank#not_found", body.Error.Type)
	assert.Equal(t, http.StatusNotFound, body.Error.Status)
	assert.Equal(t, "event not found", body.Error.Detail)
	assert.Equal(t, "/boom", body.Error.Instance)
}

func TestWriteProblemSuppressesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)

	writeProblem(rec, req, apperr.Wrap(apperr.KindInternal, "pool exhausted", errors.New("pgx: dial tcp refused")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Empty(t, body.Error.Detail, "internal causes never leak")
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)

	writeError(rec, req, http.StatusBadRequest, "missing state or code")

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, http.StatusBadRequest, body.Error.Status)
	assert.Equal(t, "missing state or code", body.Error.Detail)
}
