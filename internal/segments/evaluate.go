package segments

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

// ProfileStore is the read-only view of customer profiles.
type ProfileStore interface {
	ActiveProfiles(ctx context.Context) ([]*models.Customer, error)
}

// ActivityQuery filters the ledger aggregation. Since nil means all time.
type ActivityQuery struct {
	Since   *time.Time
	Kinds   []string
	Sources []string
}

// Activity aggregates one customer's completed, non-deleted ledger entries.
type Activity struct {
	CustomerID uuid.UUID
	Count      int64
	Points     int64
	Spend      decimal.Decimal
}

type ActivityStore interface {
	AggregateActivity(ctx context.Context, q ActivityQuery) ([]Activity, error)
}

// Evaluator computes the eligible customers for a criteria.
type Evaluator struct {
	profiles ProfileStore
	activity ActivityStore
	now      func() time.Time
}

func NewEvaluator(profiles ProfileStore, activity ActivityStore) *Evaluator {
	return &Evaluator{profiles: profiles, activity: activity, now: time.Now}
}

var _ Visitor = (*Evaluator)(nil)

func (e *Evaluator) Evaluate(ctx context.Context, c Criteria) ([]Match, error) {
	return c.Accept(ctx, e)
}

func (e *Evaluator) Transaction(ctx context.Context, c *TransactionCriteria) ([]Match, error) {
	rows, err := e.activity.AggregateActivity(ctx, ActivityQuery{
		Since:   c.Period.Since(e.now()),
		Kinds:   c.Kinds,
		Sources: c.Sources,
	})
	if err != nil {
		return nil, err
	}
	var out []Match
	seen := make(map[uuid.UUID]struct{}, len(rows))
	for _, a := range rows {
		seen[a.CustomerID] = struct{}{}
		if c.Satisfied(a) {
			out = append(out, activityMatch(a))
		}
	}
	// Customers with no entries in the window aggregate to zero, which
	// satisfies criteria made only of upper bounds.
	if !c.Satisfied(Activity{}) {
		return out, nil
	}
	profiles, err := e.profiles.ActiveProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if _, ok := seen[p.ID]; ok || !p.IsActive() {
			continue
		}
		out = append(out, activityMatch(Activity{CustomerID: p.ID}))
	}
	return out, nil
}

func activityMatch(a Activity) Match {
	return Match{CustomerID: a.CustomerID, Metadata: map[string]any{
		"transaction_count": a.Count,
		"total_points":      a.Points,
		"total_spend":       a.Spend.StringFixed(2),
	}}
}

// Satisfied applies the thresholds to one aggregate. Bounds are inclusive.
func (c *TransactionCriteria) Satisfied(a Activity) bool {
	if c.MinTransactions != nil && a.Count < *c.MinTransactions {
		return false
	}
	if c.MaxTransactions != nil && a.Count > *c.MaxTransactions {
		return false
	}
	if c.MinPoints != nil && a.Points < *c.MinPoints {
		return false
	}
	if c.MaxPoints != nil && a.Points > *c.MaxPoints {
		return false
	}
	if c.MinSpend != nil && a.Spend.LessThan(*c.MinSpend) {
		return false
	}
	if c.MaxSpend != nil && a.Spend.GreaterThan(*c.MaxSpend) {
		return false
	}
	return true
}

func (e *Evaluator) Engagement(ctx context.Context, c *EngagementCriteria) ([]Match, error) {
	var activeSince time.Time
	if c.ActiveWithinDays != nil {
		activeSince = e.now().AddDate(0, 0, -*c.ActiveWithinDays)
	}
	return e.filterProfiles(ctx, func(p *models.Customer) map[string]any {
		if c.MinScore != nil && p.EngagementScore < *c.MinScore {
			return nil
		}
		if c.MaxScore != nil && p.EngagementScore > *c.MaxScore {
			return nil
		}
		if c.ActiveWithinDays != nil && (p.LastActiveAt == nil || p.LastActiveAt.Before(activeSince)) {
			return nil
		}
		meta := map[string]any{"engagement_score": p.EngagementScore}
		if p.LastActiveAt != nil {
			meta["last_active_at"] = p.LastActiveAt.UTC().Format(time.RFC3339)
		}
		return meta
	})
}

func (e *Evaluator) AppType(ctx context.Context, c *AppTypeCriteria) ([]Match, error) {
	return e.filterProfiles(ctx, func(p *models.Customer) map[string]any {
		matched := containsAny(p.AppTypes, c.AppTypes)
		if len(matched) == 0 {
			return nil
		}
		return map[string]any{"app_types": matched}
	})
}

func (e *Evaluator) Device(ctx context.Context, c *DeviceCriteria) ([]Match, error) {
	return e.filterProfiles(ctx, func(p *models.Customer) map[string]any {
		if p.DeviceType == "" || !slices.Contains(c.DeviceTypes, p.DeviceType) {
			return nil
		}
		return map[string]any{"device_type": p.DeviceType}
	})
}

func (e *Evaluator) Custom(ctx context.Context, c *CustomCriteria) ([]Match, error) {
	return e.filterProfiles(ctx, func(p *models.Customer) map[string]any {
		ok, held := c.Matches(p)
		if !ok {
			return nil
		}
		return map[string]any{"matched_predicates": held, "match": c.Match}
	})
}

// filterProfiles keeps active profiles for which keep returns metadata.
func (e *Evaluator) filterProfiles(ctx context.Context, keep func(p *models.Customer) map[string]any) ([]Match, error) {
	profiles, err := e.profiles.ActiveProfiles(ctx)
	if err != nil {
		return nil, err
	}
	var out []Match
	for _, p := range profiles {
		if !p.IsActive() {
			continue
		}
		if meta := keep(p); meta != nil {
			out = append(out, Match{CustomerID: p.ID, Metadata: meta})
		}
	}
	return out, nil
}
