package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/cache"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/jobs"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/segments"
)

type SegmentService interface {
	CreateSegment(ctx context.Context, in segments.SegmentInput) (*segments.Saved, error)
	UpdateSegment(ctx context.Context, id uuid.UUID, patch segments.SegmentPatch) (*segments.Saved, error)
	DeleteSegment(ctx context.Context, id uuid.UUID) error
	GetSegment(ctx context.Context, id uuid.UUID) (*models.CustomerSegment, error)
	ListSegments(ctx context.Context, status string) ([]*models.CustomerSegment, error)
	RefreshSegment(ctx context.Context, id uuid.UUID) (*models.RefreshResult, error)
	GetSegmentCustomers(ctx context.Context, id uuid.UUID, page, limit int) (*segments.MemberPage, error)
}

type RefreshEnqueuer interface {
	EnqueueSegmentRefresh(ctx context.Context, segmentID uuid.UUID, reason string) (*jobs.Ticket, error)
}

// SegmentHandler serves segment administration. Segment and member page
// reads go through Cache; writes invalidate every key of the segment.
type SegmentHandler struct {
	Segments SegmentService
	Queue    RefreshEnqueuer
	Cache    cache.Cache
	CacheTTL time.Duration
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// cached writes the cached body for key when present, otherwise calls load and
// stores its encoding. Cache failures degrade to a direct load.
func (h *SegmentHandler) cached(w http.ResponseWriter, r *http.Request, key string, load func() (interface{}, error)) {
	body, hit, err := h.Cache.Get(r.Context(), key)
	if err != nil {
		h.Logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	if h.Metrics != nil {
		h.Metrics.IncrCacheLookup(hit)
	}
	if hit {
		w.Header().Set("X-Cache", "HIT")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	v, err := load()
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		writeError(w, h.Logger, r, models.Infra("encode response", err))
		return
	}
	if err := h.Cache.Set(r.Context(), key, buf.Bytes(), h.CacheTTL); err != nil {
		h.Logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	w.Header().Set("X-Cache", "MISS")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *SegmentHandler) invalidate(ctx context.Context, id uuid.UUID) {
	if err := h.Cache.Invalidate(ctx, cache.SegmentPattern(id.String())); err != nil {
		h.Logger.Warn("cache invalidate failed", zap.String("segment_id", id.String()), zap.Error(err))
	}
}

// --- GET /api/v1/segments ---

func (h *SegmentHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Segments.ListSegments(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if list == nil {
		list = []*models.CustomerSegment{}
	}
	writeJSON(w, http.StatusOK, list)
}

// --- POST /api/v1/segments ---

func (h *SegmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in segments.SegmentInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	saved, err := h.Segments.CreateSegment(r.Context(), in)
	if err != nil && saved == nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if err != nil {
		// Saved; the refresh can be requested again through the refresh route.
		h.Logger.Warn("segment saved without refresh", zap.String("segment_id", saved.Segment.ID.String()), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, saved)
}

// --- GET /api/v1/segments/{segmentID} ---

func (h *SegmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "segmentID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	h.cached(w, r, cache.SegmentKey(id.String()), func() (interface{}, error) {
		return h.Segments.GetSegment(r.Context(), id)
	})
}

// --- PATCH /api/v1/segments/{segmentID} ---

func (h *SegmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "segmentID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var patch segments.SegmentPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	saved, err := h.Segments.UpdateSegment(r.Context(), id, patch)
	if saved != nil {
		h.invalidate(r.Context(), id)
	}
	if err != nil && saved == nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if err != nil {
		h.Logger.Warn("segment saved without refresh", zap.String("segment_id", id.String()), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, saved)
}

// --- DELETE /api/v1/segments/{segmentID} ---

func (h *SegmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "segmentID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if err := h.Segments.DeleteSegment(r.Context(), id); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	h.invalidate(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /api/v1/segments/{segmentID}/refresh ---

// Refresh reconciles the segment inline, or queues it when async=true and
// answers 202 with the job ticket.
func (h *SegmentHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "segmentID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if r.URL.Query().Get("async") == "true" {
		if _, err := h.Segments.GetSegment(r.Context(), id); err != nil {
			writeError(w, h.Logger, r, err)
			return
		}
		ticket, err := h.Queue.EnqueueSegmentRefresh(r.Context(), id, "manual")
		if err != nil {
			writeError(w, h.Logger, r, models.Infra("enqueue segment refresh", err))
			return
		}
		writeJSON(w, http.StatusAccepted, ticket)
		return
	}

	res, err := h.Segments.RefreshSegment(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, res)
}

// --- GET /api/v1/segments/{segmentID}/customers ---

func (h *SegmentHandler) Customers(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "segmentID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	page, err := intQuery(r, "page", 1)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	h.cached(w, r, cache.SegmentMembersKey(id.String(), page, limit), func() (interface{}, error) {
		return h.Segments.GetSegmentCustomers(r.Context(), id, page, limit)
	})
}
