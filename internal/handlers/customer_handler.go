package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

type CustomerStore interface {
	Create(ctx context.Context, c *models.Customer) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

// CustomerHandler registers and reads loyalty profiles. Balances start at
// zero and only move through the ledger.
type CustomerHandler struct {
	Customers CustomerStore
	Logger    *zap.Logger
}

type createCustomerRequest struct {
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Status          string          `json:"status"`
	Tier            string          `json:"tier"`
	AppTypes        []string        `json:"app_types"`
	DeviceType      string          `json:"device_type"`
	EngagementScore int             `json:"engagement_score"`
	LastActiveAt    *time.Time      `json:"last_active_at"`
	Attributes      json.RawMessage `json:"attributes"`
}

func (req *createCustomerRequest) validate() error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" {
		return &models.ErrValidation{Field: "name", Message: "is required"}
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return &models.ErrValidation{Field: "email", Message: "must be a valid address"}
	}
	switch req.Status {
	case "":
		req.Status = models.CustomerStatusActive
	case models.CustomerStatusActive, models.CustomerStatusInactive, models.CustomerStatusSuspended:
	default:
		return &models.ErrValidation{Field: "status", Message: "unknown status " + req.Status}
	}
	if req.EngagementScore < 0 {
		return &models.ErrValidation{Field: "engagement_score", Message: "must not be negative"}
	}
	if len(req.Attributes) > 0 {
		var obj map[string]interface{}
		if err := json.Unmarshal(req.Attributes, &obj); err != nil {
			return &models.ErrValidation{Field: "attributes", Message: "must be a JSON object"}
		}
	}
	return nil
}

// --- POST /api/v1/customers ---

func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	c := &models.Customer{
		Name:            req.Name,
		Email:           req.Email,
		Status:          req.Status,
		Tier:            req.Tier,
		AppTypes:        req.AppTypes,
		DeviceType:      req.DeviceType,
		EngagementScore: req.EngagementScore,
		LastActiveAt:    req.LastActiveAt,
		Attributes:      req.Attributes,
	}
	if err := h.Customers.Create(r.Context(), c); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// --- GET /api/v1/customers/{customerID} ---

func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "customerID")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	c, err := h.Customers.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
