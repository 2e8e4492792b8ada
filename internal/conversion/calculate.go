// Package conversion turns points into coins under an administrator-defined
// rule. Calculate is pure; Convert applies a calculation atomically.
package conversion

import (
	"time"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

// Calculation is the outcome of applying a rule to a points amount.
type Calculation struct {
	Points          int64 `json:"points"`
	PointsPerCoin   int64 `json:"points_per_coin"`
	BonusPercentage int64 `json:"bonus_percentage"`
	BaseCoins       int64 `json:"base_coins"`
	BonusCoins      int64 `json:"bonus_coins"`
	TotalCoins      int64 `json:"total_coins"`
}

// Calculate floors both the base and the bonus. Points left over after the
// division are still spent by Convert.
func Calculate(points int64, rule *models.ConversionRule) Calculation {
	base := points / rule.PointsPerCoin
	bonus := base * rule.BonusPercentage / 100
	return Calculation{
		Points:          points,
		PointsPerCoin:   rule.PointsPerCoin,
		BonusPercentage: rule.BonusPercentage,
		BaseCoins:       base,
		BonusCoins:      bonus,
		TotalCoins:      base + bonus,
	}
}

// CheckLimits validates points against the rule's bounds. MaxPoints 0 means
// no upper bound.
func CheckLimits(points int64, rule *models.ConversionRule) error {
	if points <= 0 {
		return &models.ErrValidation{Field: "points", Message: "must be positive"}
	}
	if points < rule.MinPoints {
		return &models.ErrValidation{Field: "points", Message: "below rule minimum"}
	}
	if rule.MaxPoints > 0 && points > rule.MaxPoints {
		return &models.ErrValidation{Field: "points", Message: "above rule maximum"}
	}
	return nil
}

// ValidateRule checks the administrative bounds of a rule definition.
func ValidateRule(rule *models.ConversionRule) error {
	switch {
	case rule.Name == "":
		return &models.ErrValidation{Field: "name", Message: "is required"}
	case rule.PointsPerCoin <= 0:
		return &models.ErrValidation{Field: "points_per_coin", Message: "must be positive"}
	case rule.MinPoints < 0:
		return &models.ErrValidation{Field: "min_points", Message: "must not be negative"}
	case rule.MaxPoints < 0:
		return &models.ErrValidation{Field: "max_points", Message: "must not be negative"}
	case rule.MaxPoints > 0 && rule.MaxPoints < rule.MinPoints:
		return &models.ErrValidation{Field: "max_points", Message: "must not be below min_points"}
	case rule.BonusPercentage < 0 || rule.BonusPercentage > 100:
		return &models.ErrValidation{Field: "bonus_percentage", Message: "must be within 0-100"}
	case rule.EndDate != nil && !rule.EndDate.After(rule.StartDate):
		return &models.ErrValidation{Field: "end_date", Message: "must be after start_date"}
	}
	return nil
}

// SelectRule picks the rule in force at now: highest priority first, then the
// most recently created. It returns nil when no candidate is active.
func SelectRule(candidates []*models.ConversionRule, now time.Time) *models.ConversionRule {
	var best *models.ConversionRule
	for _, r := range candidates {
		if !r.ActiveAt(now) {
			continue
		}
		if best == nil || r.Priority > best.Priority ||
			(r.Priority == best.Priority && r.CreatedAt.After(best.CreatedAt)) {
			best = r
		}
	}
	return best
}
