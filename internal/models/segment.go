package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	SegmentDraft    = "draft"
	SegmentActive   = "active"
	SegmentInactive = "inactive"
)

const (
	RefreshHourly = "hourly"
	RefreshDaily  = "daily"
	RefreshWeekly = "weekly"
)

// CustomerSegment is a named, criteria-defined group of customers.
// Criteria holds the tagged JSON form; the segments package decodes it.
type CustomerSegment struct {
	ID                   uuid.UUID       `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Criteria             json.RawMessage `json:"criteria"`
	Status               string          `json:"status"`
	CustomerCount        int             `json:"customer_count"`
	LastRefreshed        *time.Time      `json:"last_refreshed,omitempty"`
	AutoRefreshEnabled   bool            `json:"auto_refresh_enabled"`
	AutoRefreshFrequency string          `json:"auto_refresh_frequency"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type SegmentMembership struct {
	SegmentID  uuid.UUID       `json:"segment_id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	AddedAt    time.Time       `json:"added_at"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// SegmentMember is a membership joined with the customer summary.
type SegmentMember struct {
	CustomerID    uuid.UUID       `json:"customer_id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Tier          string          `json:"tier"`
	PointsBalance int64           `json:"points_balance"`
	AddedAt       time.Time       `json:"added_at"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// RefreshResult reports one reconciliation run.
type RefreshResult struct {
	SegmentID uuid.UUID `json:"segment_id"`
	Skipped   bool      `json:"skipped"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
	Total     int       `json:"total"`
}
