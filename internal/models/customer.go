package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	CustomerStatusActive    = "active"
	CustomerStatusInactive  = "inactive"
	CustomerStatusSuspended = "suspended"
)

// Customer is the loyalty profile. PointsBalance is owned by the ledger,
// CoinBalance by the conversion engine.
type Customer struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Status          string          `json:"status"`
	Tier            string          `json:"tier"`
	AppTypes        []string        `json:"app_types"`
	DeviceType      string          `json:"device_type"`
	EngagementScore int             `json:"engagement_score"`
	LastActiveAt    *time.Time      `json:"last_active_at,omitempty"`
	Attributes      json.RawMessage `json:"attributes,omitempty"`
	PointsBalance   int64           `json:"points_balance"`
	CoinBalance     int64           `json:"coin_balance"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (c *Customer) IsActive() bool { return c.Status == CustomerStatusActive }
