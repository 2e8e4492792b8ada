package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/conversion"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

type ConversionService interface {
	CalculateConversion(ctx context.Context, points int64, ruleID *uuid.UUID) (*conversion.Quote, error)
	Convert(ctx context.Context, req conversion.Request) (*conversion.Result, error)
	CreateRule(ctx context.Context, rule *models.ConversionRule) error
	SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (*models.ConversionRule, error)
	ListRules(ctx context.Context) ([]*models.ConversionRule, error)
	ListHistory(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.ConversionHistory, error)
}

// ConversionHandler serves quotes, conversions and rule administration.
type ConversionHandler struct {
	Conversions ConversionService
	Logger      *zap.Logger
}

type quoteRequest struct {
	Points int64      `json:"points"`
	RuleID *uuid.UUID `json:"rule_id,omitempty"`
}

// --- POST /api/v1/conversions/quote ---

func (h *ConversionHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	q, err := h.Conversions.CalculateConversion(r.Context(), req.Points, req.RuleID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// --- POST /api/v1/conversions ---

func (h *ConversionHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var req conversion.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	res, err := h.Conversions.Convert(r.Context(), req)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- GET /api/v1/customers/{customerID}/conversions ---

func (h *ConversionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
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
	list, err := h.Conversions.ListHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if list == nil {
		list = []*models.ConversionHistory{}
	}
	writeJSON(w, http.StatusOK, list)
}

// --- GET /api/v1/conversion-rules ---

func (h *ConversionHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Conversions.ListRules(r.Context())
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if rules == nil {
		rules = []*models.ConversionRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

// --- POST /api/v1/conversion-rules ---

func (h *ConversionHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.ConversionRule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if err := h.Conversions.CreateRule(r.Context(), &rule); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// --- PATCH /api/v1/conversion-rules/{ruleID} ---

type ruleActivation struct {
	IsActive *bool `json:"is_active"`
}

func (h *ConversionHandler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "ruleID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req ruleActivation
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if req.IsActive == nil {
		writeError(w, h.Logger, r, &models.ErrValidation{Field: "is_active", Message: "is required"})
		return
	}
	rule, err := h.Conversions.SetRuleActive(r.Context(), id, *req.IsActive)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
