package shared

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	RespondWithJSON(w, r, http.StatusAccepted, map[string]string{"status": "pending"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"pending"}`, w.Body.String())
}

func TestRespondWithError_IncludesTraceID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	r = r.WithContext(SetTraceID(r.Context(), "trace-abc-123"))

	RespondWithError(w, r, http.StatusNotFound, "Job not found")

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Job not found", body.Error)
	assert.Equal(t, "trace-abc-123", body.TraceID)
}

func TestRespondWithErrorAndLog_Levels(t *testing.T) {
	secretErr := errors.New("dial postgres://admin:hunter2@db:5432/adlens failed")

	tests := []struct {
		name      string
		status    int
		opts      []ResponseOption
		wantLevel string
	}{
		{name: "server error", status: http.StatusInternalServerError, wantLevel: "ERROR"},
		{name: "rate limited", status: http.StatusTooManyRequests, wantLevel: "WARN"},
		{name: "client error", status: http.StatusBadRequest, wantLevel: "DEBUG"},
		{name: "elevated client error", status: http.StatusUnauthorized,
			opts: []ResponseOption{WithElevatedLogLevel()}, wantLevel: "WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := logger.NewTestLogger(t)
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			r = r.WithContext(logger.WithLogger(r.Context(), log))

			RespondWithErrorAndLog(w, r, tt.status, "Something failed", secretErr, tt.opts...)

			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "hunter2")
			assert.NotContains(t, w.Body.String(), "postgres")

			entries := buf.EntriesAtLevel(t, tt.wantLevel)
			require.Len(t, entries, 1)
			assert.NotContains(t, entries[0]["error"], "hunter2")
			assert.Equal(t, "*errors.errorString", entries[0]["error_type"])
		})
	}
}
