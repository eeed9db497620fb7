package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/api/middleware"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/mocks"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/service/auth"
	"github.com/phrazzld/adlens/internal/store"
	"github.com/phrazzld/adlens/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobs is an in-memory JobService keyed by job ID.
type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*domain.JobRecord
	started   []map[string]any
	lastLimit int
	startErr  error
	listErr   error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[uuid.UUID]*domain.JobRecord)}
}

func (f *fakeJobs) add(ownerID uuid.UUID, status domain.JobStatus) *domain.JobRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &domain.JobRecord{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		JobType:   domain.JobTypeMediaAnalysis,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	f.jobs[job.ID] = job
	return job
}

func (f *fakeJobs) Start(ctx context.Context, ownerID uuid.UUID, params map[string]any) (uuid.UUID, error) {
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	f.mu.Lock()
	f.started = append(f.started, params)
	f.mu.Unlock()
	return f.add(ownerID, domain.JobStatusPending).ID, nil
}

func (f *fakeJobs) GetStatus(ctx context.Context, id, ownerID uuid.UUID) (*domain.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return nil, store.ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (f *fakeJobs) ListRecent(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domain.JobRecord
	for _, job := range f.jobs {
		if job.OwnerID == ownerID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobs) Cancel(ctx context.Context, id, ownerID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.OwnerID != ownerID || job.IsTerminal() {
		return false, nil
	}
	job.Status = domain.JobStatusCancelled
	return true, nil
}

func newTestServer(t *testing.T, jobs JobService, ownerID uuid.UUID) http.Handler {
	t.Helper()
	log, _ := logger.NewTestLogger(t)
	tokens := &mocks.MockTokenService{
		ValidateTokenFn: func(ctx context.Context, token string) (*auth.Claims, error) {
			if token != "owner-token" {
				return nil, auth.ErrInvalidToken
			}
			return &auth.Claims{OwnerID: ownerID}, nil
		},
	}
	return NewRouter(RouterConfig{
		Jobs:           jobs,
		Auth:           middleware.NewAuthMiddleware(tokens),
		Logger:         log,
		RequestTimeout: 5 * time.Second,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer owner-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStartJob(t *testing.T) {
	ownerID := uuid.New()
	jobs := newFakeJobs()
	h := newTestServer(t, jobs, ownerID)

	w := do(t, h, http.MethodPost, "/api/jobs",
		`{"account_ref":"123","access_token":"tok","completed_item_ids":["ad_1"]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.JobStatusPending, resp.Job.Status)
	assert.Equal(t, ownerID, resp.Job.OwnerID)
	assert.Equal(t, "/api/jobs/"+resp.Job.ID.String(), w.Header().Get("Location"))

	require.Len(t, jobs.started, 1)
	assert.Equal(t, "123", jobs.started[0][domain.ParamAccountRef])
	assert.Equal(t, "tok", jobs.started[0][domain.ParamAccessToken])
	assert.Equal(t, []string{"ad_1"}, jobs.started[0][domain.ParamCompletedItemIDs])
}

func TestStartJob_BadRequests(t *testing.T) {
	h := newTestServer(t, newFakeJobs(), uuid.New())

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "malformed", body: `{`, wantMsg: "Invalid request body"},
		{name: "unknown field", body: `{"account_ref":"1","access_token":"t","extra":1}`, wantMsg: "Invalid request body"},
		{name: "missing token", body: `{"account_ref":"1"}`, wantMsg: "AccessToken is required"},
		{name: "missing account", body: `{"access_token":"t"}`, wantMsg: "AccountRef is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantMsg)
		})
	}
}

func TestStartJob_StoreUnavailable(t *testing.T) {
	jobs := newFakeJobs()
	jobs.startErr = &task.FatalPersistenceError{Operation: "create_job", Attempts: 4,
		Err: errors.New("dial tcp 10.0.0.5:5432: connection refused")}
	h := newTestServer(t, jobs, uuid.New())

	w := do(t, h, http.MethodPost, "/api/jobs", `{"account_ref":"1","access_token":"t"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}

func TestGetJob(t *testing.T) {
	ownerID := uuid.New()
	jobs := newFakeJobs()
	mine := jobs.add(ownerID, domain.JobStatusRunning)
	theirs := jobs.add(uuid.New(), domain.JobStatusRunning)
	h := newTestServer(t, jobs, ownerID)

	w := do(t, h, http.MethodGet, "/api/jobs/"+mine.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, mine.ID, resp.Job.ID)

	w = do(t, h, http.MethodGet, "/api/jobs/"+theirs.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Job not found")

	w = do(t, h, http.MethodGet, "/api/jobs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs(t *testing.T) {
	ownerID := uuid.New()
	jobs := newFakeJobs()
	jobs.add(ownerID, domain.JobStatusCompleted)
	jobs.add(ownerID, domain.JobStatusRunning)
	jobs.add(uuid.New(), domain.JobStatusRunning)
	h := newTestServer(t, jobs, ownerID)

	w := do(t, h, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp JobListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.Equal(t, task.DefaultListLimit, jobs.lastLimit)

	w = do(t, h, http.MethodGet, "/api/jobs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, jobs.lastLimit)

	for _, bad := range []string{"0", "101", "ten"} {
		w = do(t, h, http.MethodGet, "/api/jobs?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", bad)
	}
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	h := newTestServer(t, newFakeJobs(), uuid.New())
	w := do(t, h, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jobs":[]}`, w.Body.String())
}

func TestCancelJob(t *testing.T) {
	ownerID := uuid.New()
	jobs := newFakeJobs()
	running := jobs.add(ownerID, domain.JobStatusRunning)
	done := jobs.add(ownerID, domain.JobStatusCompleted)
	h := newTestServer(t, jobs, ownerID)

	w := do(t, h, http.MethodPost, "/api/jobs/"+running.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp CancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Cancelled)
	assert.Equal(t, domain.JobStatusCancelled, resp.Job.Status)

	w = do(t, h, http.MethodPost, "/api/jobs/"+running.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled":false`)

	w = do(t, h, http.MethodPost, "/api/jobs/"+done.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodPost, "/api/jobs/"+uuid.NewString()+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_RequireAuth(t *testing.T) {
	h := newTestServer(t, newFakeJobs(), uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer someone-else")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
