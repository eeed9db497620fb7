package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/store"
	"github.com/phrazzld/adlens/internal/task"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "job not found", err: fmt.Errorf("find: %w", store.ErrJobNotFound),
			wantStatus: http.StatusNotFound, wantMsg: "Job not found"},
		{name: "missing parameter", err: domain.MissingParameter("account_ref"),
			wantStatus: http.StatusBadRequest, wantMsg: "Missing required job parameters"},
		{name: "invalid entity", err: store.ErrInvalidEntity,
			wantStatus: http.StatusBadRequest, wantMsg: "Invalid job data"},
		{name: "duplicate registration", err: task.ErrAlreadyRegistered,
			wantStatus: http.StatusConflict, wantMsg: "Job already exists"},
		{name: "store exhausted", err: &task.FatalPersistenceError{Operation: "find_job", Attempts: 4, Err: errors.New("timeout")},
			wantStatus: http.StatusServiceUnavailable, wantMsg: "Job storage is temporarily unavailable"},
		{name: "unknown", err: errors.New("pq: relation \"jobs\" does not exist"),
			wantStatus: http.StatusInternalServerError, wantMsg: "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, MapErrorToStatusCode(tt.err))
			assert.Equal(t, tt.wantMsg, GetSafeErrorMessage(tt.err))
		})
	}

	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}
