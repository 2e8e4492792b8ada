// Package segments maintains customer segments: criteria definitions, the
// eligibility evaluation behind them and reconciliation of the stored
// memberships against it.
package segments

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

// Criteria variants.
const (
	TypeTransaction = "transaction"
	TypeEngagement  = "engagement"
	TypeAppType     = "app_type"
	TypeDevice      = "device"
	TypeCustom      = "custom"
)

// Match is one customer satisfying a criteria, with variant-specific detail
// stored on the membership row.
type Match struct {
	CustomerID uuid.UUID
	Metadata   map[string]any
}

// Visitor is implemented by every consumer of criteria. Adding a variant adds
// a method here, so each consumer must handle it before the build passes.
type Visitor interface {
	Transaction(ctx context.Context, c *TransactionCriteria) ([]Match, error)
	Engagement(ctx context.Context, c *EngagementCriteria) ([]Match, error)
	AppType(ctx context.Context, c *AppTypeCriteria) ([]Match, error)
	Device(ctx context.Context, c *DeviceCriteria) ([]Match, error)
	Custom(ctx context.Context, c *CustomCriteria) ([]Match, error)
}

// Criteria is the closed set of segment definitions.
type Criteria interface {
	Type() string
	Accept(ctx context.Context, v Visitor) ([]Match, error)
	validate() error
}

// Period is a trailing window over the ledger.
type Period string

const (
	PeriodLast7Days   Period = "last_7_days"
	PeriodLast30Days  Period = "last_30_days"
	PeriodLast90Days  Period = "last_90_days"
	PeriodLast180Days Period = "last_180_days"
	PeriodLast365Days Period = "last_365_days"
	PeriodAllTime     Period = "all_time"
)

var periodDays = map[Period]int{
	PeriodLast7Days:   7,
	PeriodLast30Days:  30,
	PeriodLast90Days:  90,
	PeriodLast180Days: 180,
	PeriodLast365Days: 365,
}

// Since returns the start of the window, or nil for all_time.
func (p Period) Since(now time.Time) *time.Time {
	days, ok := periodDays[p]
	if !ok {
		return nil
	}
	t := now.AddDate(0, 0, -days)
	return &t
}

// TransactionCriteria selects customers by aggregated completed ledger activity.
type TransactionCriteria struct {
	Period          Period           `json:"period"`
	Kinds           []string         `json:"kinds,omitempty"`
	Sources         []string         `json:"sources,omitempty"`
	MinTransactions *int64           `json:"min_transactions,omitempty"`
	MaxTransactions *int64           `json:"max_transactions,omitempty"`
	MinPoints       *int64           `json:"min_points,omitempty"`
	MaxPoints       *int64           `json:"max_points,omitempty"`
	MinSpend        *decimal.Decimal `json:"min_spend,omitempty"`
	MaxSpend        *decimal.Decimal `json:"max_spend,omitempty"`
}

type EngagementCriteria struct {
	MinScore         *int `json:"min_score,omitempty"`
	MaxScore         *int `json:"max_score,omitempty"`
	ActiveWithinDays *int `json:"active_within_days,omitempty"`
}

type AppTypeCriteria struct {
	AppTypes []string `json:"app_types"`
}

type DeviceCriteria struct {
	DeviceTypes []string `json:"device_types"`
}

const (
	MatchAll = "all"
	MatchAny = "any"
)

type CustomCriteria struct {
	Match      string      `json:"match"`
	Predicates []Predicate `json:"predicates"`
}

func (*TransactionCriteria) Type() string { return TypeTransaction }
func (*EngagementCriteria) Type() string  { return TypeEngagement }
func (*AppTypeCriteria) Type() string     { return TypeAppType }
func (*DeviceCriteria) Type() string      { return TypeDevice }
func (*CustomCriteria) Type() string      { return TypeCustom }

func (c *TransactionCriteria) Accept(ctx context.Context, v Visitor) ([]Match, error) {
	return v.Transaction(ctx, c)
}

func (c *EngagementCriteria) Accept(ctx context.Context, v Visitor) ([]Match, error) {
	return v.Engagement(ctx, c)
}

func (c *AppTypeCriteria) Accept(ctx context.Context, v Visitor) ([]Match, error) {
	return v.AppType(ctx, c)
}

func (c *DeviceCriteria) Accept(ctx context.Context, v Visitor) ([]Match, error) {
	return v.Device(ctx, c)
}

func (c *CustomCriteria) Accept(ctx context.Context, v Visitor) ([]Match, error) {
	return v.Custom(ctx, c)
}

func (c *TransactionCriteria) validate() error {
	if c.Period == "" {
		c.Period = PeriodAllTime
	}
	if _, ok := periodDays[c.Period]; !ok && c.Period != PeriodAllTime {
		return invalid("period", "unknown period "+string(c.Period))
	}
	for _, k := range c.Kinds {
		if !models.ValidEntryKind(k) {
			return invalid("kinds", "unknown kind "+k)
		}
	}
	if bad(c.MinTransactions, c.MaxTransactions) {
		return invalid("max_transactions", "must not be below min_transactions")
	}
	if bad(c.MinPoints, c.MaxPoints) {
		return invalid("max_points", "must not be below min_points")
	}
	if c.MinSpend != nil && c.MaxSpend != nil && c.MaxSpend.LessThan(*c.MinSpend) {
		return invalid("max_spend", "must not be below min_spend")
	}
	if c.MinTransactions == nil && c.MaxTransactions == nil && c.MinPoints == nil &&
		c.MaxPoints == nil && c.MinSpend == nil && c.MaxSpend == nil {
		return invalid("criteria", "at least one threshold is required")
	}
	return nil
}

func (c *EngagementCriteria) validate() error {
	if c.MinScore != nil && c.MaxScore != nil && *c.MaxScore < *c.MinScore {
		return invalid("max_score", "must not be below min_score")
	}
	if c.ActiveWithinDays != nil && *c.ActiveWithinDays <= 0 {
		return invalid("active_within_days", "must be positive")
	}
	if c.MinScore == nil && c.MaxScore == nil && c.ActiveWithinDays == nil {
		return invalid("criteria", "at least one condition is required")
	}
	return nil
}

func (c *AppTypeCriteria) validate() error {
	if len(c.AppTypes) == 0 {
		return invalid("app_types", "must not be empty")
	}
	return nil
}

func (c *DeviceCriteria) validate() error {
	if len(c.DeviceTypes) == 0 {
		return invalid("device_types", "must not be empty")
	}
	return nil
}

func (c *CustomCriteria) validate() error {
	if c.Match == "" {
		c.Match = MatchAll
	}
	if c.Match != MatchAll && c.Match != MatchAny {
		return invalid("match", "must be all or any")
	}
	if len(c.Predicates) == 0 {
		return invalid("predicates", "must not be empty")
	}
	for i := range c.Predicates {
		if err := c.Predicates[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func bad[T int64 | int](lo, hi *T) bool {
	return lo != nil && hi != nil && *hi < *lo
}

func invalid(field, msg string) error {
	return &models.ErrValidation{Field: "criteria." + field, Message: msg}
}

// ParseCriteria validates raw against the variant's JSON schema and decodes
// it into the matching Criteria.
func ParseCriteria(raw json.RawMessage) (Criteria, error) {
	typ, err := validateSchema(raw)
	if err != nil {
		return nil, err
	}
	var c Criteria
	switch typ {
	case TypeTransaction:
		c = &TransactionCriteria{}
	case TypeEngagement:
		c = &EngagementCriteria{}
	case TypeAppType:
		c = &AppTypeCriteria{}
	case TypeDevice:
		c = &DeviceCriteria{}
	case TypeCustom:
		c = &CustomCriteria{}
	default:
		return nil, invalid("type", fmt.Sprintf("unknown criteria type %q", typ))
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, invalid("type", err.Error())
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// MarshalCriteria renders c in its tagged JSON form.
func MarshalCriteria(c Criteria) (json.RawMessage, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(c.Type())
	return json.Marshal(fields)
}

func containsAny(have, want []string) []string {
	var out []string
	for _, w := range want {
		if slices.Contains(have, w) {
			out = append(out, w)
		}
	}
	return out
}
