package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry kinds.
const (
	EntryEarn     = "earn"
	EntryRedeem   = "redeem"
	EntryExpire   = "expire"
	EntryAdjust   = "adjust"
	EntryTransfer = "transfer"
)

// Ledger entry statuses.
const (
	EntryPending   = "pending"
	EntryCompleted = "completed"
	EntryFailed    = "failed"
	EntryCancelled = "cancelled"
)

// SourceConversion tags redeem entries posted by the conversion engine.
const SourceConversion = "conversion"

func ValidEntryKind(k string) bool {
	switch k {
	case EntryEarn, EntryRedeem, EntryExpire, EntryAdjust, EntryTransfer:
		return true
	}
	return false
}

func ValidEntryStatus(s string) bool {
	switch s {
	case EntryPending, EntryCompleted, EntryFailed, EntryCancelled:
		return true
	}
	return false
}

// LedgerEntry is an append-only points movement. Only Status, Note and
// IsDeleted change after insert.
type LedgerEntry struct {
	ID             uuid.UUID       `json:"id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	Kind           string          `json:"kind"`
	Points         int64           `json:"points"`
	Status         string          `json:"status"`
	Source         string          `json:"source"`
	TransactionID  string          `json:"transaction_id"`
	SpendAmount    decimal.Decimal `json:"spend_amount"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Note           string          `json:"note,omitempty"`
	IsDeleted      bool            `json:"is_deleted"`
	ExpiresEntryID *uuid.UUID      `json:"expires_entry_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Delta is the signed balance effect of the entry once completed.
func (e *LedgerEntry) Delta() int64 {
	switch e.Kind {
	case EntryEarn:
		return abs(e.Points)
	case EntryRedeem, EntryExpire:
		return -abs(e.Points)
	default:
		return e.Points
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// ExpirationReport summarises one expiration pass.
type ExpirationReport struct {
	TotalPointsExpired int64 `json:"total_points_expired"`
	TransactionCount   int   `json:"transaction_count"`
	CustomersAffected  int   `json:"customers_affected"`
}
