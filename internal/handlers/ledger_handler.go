package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/jobs"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/ledger"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

// LedgerService is the subset of ledger.Service the HTTP layer calls.
type LedgerService interface {
	RecordTransaction(ctx context.Context, in ledger.RecordInput) (*models.LedgerEntry, error)
	UpdateStatus(ctx context.Context, entryID uuid.UUID, status, note string) (*models.LedgerEntry, error)
	DeleteTransaction(ctx context.Context, entryID uuid.UUID) error
	GetEntry(ctx context.Context, entryID uuid.UUID) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, f ledger.ListFilter) ([]*models.LedgerEntry, error)
	Reconcile(ctx context.Context, customerID uuid.UUID) (*ledger.BalanceCheck, error)
}

// Enqueuer is implemented by *jobs.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, args river.JobArgs) (*jobs.Ticket, error)
}

// LedgerHandler serves ledger entries and balances.
type LedgerHandler struct {
	Ledger LedgerService
	Queue  Enqueuer
	Logger *zap.Logger
}

// --- POST /api/v1/ledger/entries ---

func (h *LedgerHandler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var in ledger.RecordInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	entry, err := h.Ledger.RecordTransaction(r.Context(), in)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// --- GET /api/v1/ledger/entries/{entryID} ---

func (h *LedgerHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "entryID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	entry, err := h.Ledger.GetEntry(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// --- PATCH /api/v1/ledger/entries/{entryID}/status ---

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *LedgerHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "entryID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	entry, err := h.Ledger.UpdateStatus(r.Context(), id, req.Status, req.Note)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// --- DELETE /api/v1/ledger/entries/{entryID} ---

func (h *LedgerHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "entryID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if err := h.Ledger.DeleteTransaction(r.Context(), id); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- GET /api/v1/customers/{customerID}/entries ---

type entryPage struct {
	Entries    []*models.LedgerEntry `json:"entries"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// ListEntries pages newest first. The cursor is the created_at of the last
// entry of the previous page.
func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "customerID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	q := r.URL.Query()
	f := ledger.ListFilter{
		CustomerID:     id,
		Kind:           q.Get("kind"),
		Status:         q.Get("status"),
		IncludeDeleted: q.Get("include_deleted") == "true",
		Limit:          limit,
	}
	if cursor := q.Get("cursor"); cursor != "" {
		before, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			writeError(w, h.Logger, r, &models.ErrValidation{Field: "cursor", Message: "must be an RFC3339 timestamp"})
			return
		}
		f.Before = &before
	}
	list, err := h.Ledger.ListEntries(r.Context(), f)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	page := entryPage{Entries: list}
	if page.Entries == nil {
		page.Entries = []*models.LedgerEntry{}
	}
	if len(list) == limit {
		page.NextCursor = list[len(list)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, page)
}

// --- GET /api/v1/customers/{customerID}/balance ---

func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "customerID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	check, err := h.Ledger.Reconcile(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if !check.Consistent {
		h.Logger.Warn("balance drift",
			zap.String("customer_id", id.String()),
			zap.Int64("stored", check.Stored),
			zap.Int64("computed", check.Computed),
		)
	}
	writeJSON(w, http.StatusOK, check)
}

// --- POST /api/v1/ledger/expirations ---

// ExpirePoints queues an expiration pass and returns its ticket.
func (h *LedgerHandler) ExpirePoints(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Queue.Enqueue(r.Context(), jobs.ExpirePointsArgs{AsOf: time.Now().UTC()})
	if err != nil {
		writeError(w, h.Logger, r, models.Infra("enqueue expiration", err))
		return
	}
	writeJSON(w, http.StatusAccepted, ticket)
}
