package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/jobs"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

type JobReader interface {
	GetByID(ctx context.Context, id int64) (*jobs.JobStatus, error)
	ListSegmentRefreshes(ctx context.Context, segmentID string, limit int) ([]*jobs.JobStatus, error)
}

type OutcomeReader interface {
	Outcome(jobID int64) (*jobs.Outcome, bool)
}

// JobHandler exposes background job state.
type JobHandler struct {
	Jobs     JobReader
	Outcomes OutcomeReader
	Logger   *zap.Logger
}

type jobView struct {
	*jobs.JobStatus
	Outcome *jobs.Outcome `json:"outcome,omitempty"`
}

// --- GET /api/v1/jobs/{jobID} ---

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, h.Logger, r, &models.ErrValidation{Field: "jobID", Message: "must be a positive integer"})
		return
	}
	status, err := h.Jobs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	view := jobView{JobStatus: status}
	if out, ok := h.Outcomes.Outcome(id); ok {
		view.Outcome = out
	}
	writeJSON(w, http.StatusOK, view)
}

// --- GET /api/v1/segments/{segmentID}/refreshes ---

func (h *JobHandler) SegmentRefreshes(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "segmentID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	limit, err := intQuery(r, "limit", 20)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	list, err := h.Jobs.ListSegmentRefreshes(r.Context(), id.String(), limit)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if list == nil {
		list = []*jobs.JobStatus{}
	}
	writeJSON(w, http.StatusOK, list)
}
