package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/api/shared"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/task"
)

// JobService is the subset of the job manager used by JobHandler.
type JobService interface {
	Start(ctx context.Context, ownerID uuid.UUID, params map[string]any) (uuid.UUID, error)
	GetStatus(ctx context.Context, id, ownerID uuid.UUID) (*domain.JobRecord, error)
	ListRecent(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.JobRecord, error)
	Cancel(ctx context.Context, id, ownerID uuid.UUID) (bool, error)
}

var _ JobService = (*task.Manager)(nil)

// StartJobRequest is the body of POST /api/jobs.
type StartJobRequest struct {
	AccountRef       string   `json:"account_ref" validate:"required,max=64"`
	AccessToken      string   `json:"access_token" validate:"required"`
	CompletedItemIDs []string `json:"completed_item_ids" validate:"max=10000"`
}

// params converts the request into job parameters. The access token is
// redacted by the manager before the record is persisted.
func (r StartJobRequest) params() map[string]any {
	params := map[string]any{
		domain.ParamAccountRef:  r.AccountRef,
		domain.ParamAccessToken: r.AccessToken,
	}
	if len(r.CompletedItemIDs) > 0 {
		params[domain.ParamCompletedItemIDs] = r.CompletedItemIDs
	}
	return params
}

// JobResponse wraps a single job record.
type JobResponse struct {
	Job *domain.JobRecord `json:"job"`
}

// JobListResponse wraps a page of job records.
type JobListResponse struct {
	Jobs []*domain.JobRecord `json:"jobs"`
}

// CancelResponse reports whether a cancel request moved the job.
type CancelResponse struct {
	Cancelled bool              `json:"cancelled"`
	Job       *domain.JobRecord `json:"job,omitempty"`
}

// JobHandler serves the job endpoints.
type JobHandler struct {
	jobs JobService
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// StartJob handles POST /api/jobs.
func (h *JobHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req StartJobRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, shared.ValidationMessage(err), err)
		return
	}

	jobID, err := h.jobs.Start(r.Context(), ownerID, req.params())
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	job, err := h.jobs.GetStatus(r.Context(), jobID, ownerID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("job accepted", "job_id", jobID.String())
	w.Header().Set("Location", "/api/jobs/"+jobID.String())
	shared.RespondWithJSON(w, r, http.StatusAccepted, JobResponse{Job: job})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ownerID, jobID, ok := h.identify(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetStatus(r.Context(), jobID, ownerID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobResponse{Job: job})
}

// ListJobs handles GET /api/jobs?limit=N.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	limit := task.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > task.MaxListLimit {
			shared.RespondWithError(w, r, http.StatusBadRequest,
				"limit must be an integer between 1 and "+strconv.Itoa(task.MaxListLimit))
			return
		}
		limit = n
	}

	jobs, err := h.jobs.ListRecent(r.Context(), ownerID, limit)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.JobRecord{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobListResponse{Jobs: jobs})
}

// CancelJob handles POST /api/jobs/{id}/cancel. A job that exists but was
// already terminal, or was cancelled by a concurrent request, yields 409.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	ownerID, jobID, ok := h.identify(w, r)
	if !ok {
		return
	}

	if _, err := h.jobs.GetStatus(r.Context(), jobID, ownerID); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	cancelled, err := h.jobs.Cancel(r.Context(), jobID, ownerID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	job, err := h.jobs.GetStatus(r.Context(), jobID, ownerID)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !cancelled {
		status = http.StatusConflict
	}
	shared.RespondWithJSON(w, r, status, CancelResponse{Cancelled: cancelled, Job: job})
}

func (h *JobHandler) identify(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := shared.OwnerID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return uuid.Nil, uuid.Nil, false
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return uuid.Nil, uuid.Nil, false
	}
	return ownerID, jobID, true
}

func (h *JobHandler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
