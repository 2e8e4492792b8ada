package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversionRule governs the points to coins rate.
type ConversionRule struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	PointsPerCoin   int64      `json:"points_per_coin"`
	MinPoints       int64      `json:"min_points"`
	MaxPoints       int64      `json:"max_points"`
	BonusPercentage int64      `json:"bonus_percentage"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	IsActive        bool       `json:"is_active"`
	Priority        int        `json:"priority"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ActiveAt reports whether the rule applies at t.
func (r *ConversionRule) ActiveAt(t time.Time) bool {
	if !r.IsActive || r.StartDate.After(t) {
		return false
	}
	return r.EndDate == nil || r.EndDate.After(t)
}

const ConversionCompleted = "completed"

// ConversionHistory is an insert-only record of one conversion.
type ConversionHistory struct {
	ID            uuid.UUID `json:"id"`
	CustomerID    uuid.UUID `json:"customer_id"`
	RuleID        uuid.UUID `json:"rule_id"`
	PointsSpent   int64     `json:"points_spent"`
	BaseCoins     int64     `json:"base_coins"`
	BonusCoins    int64     `json:"bonus_coins"`
	TotalCoins    int64     `json:"total_coins"`
	PointsPerCoin int64     `json:"points_per_coin"`
	Reference     string    `json:"reference"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}
