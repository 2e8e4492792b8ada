package conversion

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/audit"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/db"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
)

var tracer = otel.Tracer("loyalty/conversion")

type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.ConversionRule) error
	SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (*models.ConversionRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*models.ConversionRule, error)
	ListActiveRules(ctx context.Context, now time.Time) ([]*models.ConversionRule, error)
	ListRules(ctx context.Context) ([]*models.ConversionRule, error)
}

type HistoryStore interface {
	InsertHistory(ctx context.Context, tx pgx.Tx, h *models.ConversionHistory) error
	ListHistory(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.ConversionHistory, error)
}

type CustomerStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Customer, error)
	AddCoins(ctx context.Context, tx pgx.Tx, id uuid.UUID, coins int64) (int64, error)
}

// PointsLedger posts the redeem entry that pays for a conversion.
type PointsLedger interface {
	PostTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

type RefSource interface {
	ConversionRef() string
}

// Request asks to convert Points; RuleID pins a rule, otherwise the rule in
// force is selected.
type Request struct {
	CustomerID uuid.UUID  `json:"customer_id"`
	Points     int64      `json:"points"`
	RuleID     *uuid.UUID `json:"rule_id,omitempty"`
}

type Quote struct {
	Rule        *models.ConversionRule `json:"rule"`
	Calculation Calculation            `json:"calculation"`
}

type Result struct {
	Conversion    *models.ConversionHistory `json:"conversion"`
	PointsBalance int64                     `json:"points_balance"`
	CoinBalance   int64                     `json:"coin_balance"`
}

type Service struct {
	tx        db.Transactor
	rules     RuleStore
	history   HistoryStore
	customers CustomerStore
	ledger    PointsLedger
	refs      RefSource
	audit     audit.Sink
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(
	tx db.Transactor,
	rules RuleStore,
	history HistoryStore,
	customers CustomerStore,
	ledger PointsLedger,
	refs RefSource,
	sink audit.Sink,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		tx:        tx,
		rules:     rules,
		history:   history,
		customers: customers,
		ledger:    ledger,
		refs:      refs,
		audit:     sink,
		metrics:   metrics,
		logger:    logger.Named("conversion"),
		now:       time.Now,
	}
}

// resolveRule returns the pinned rule if it is active, else the rule in force.
func (s *Service) resolveRule(ctx context.Context, ruleID *uuid.UUID) (*models.ConversionRule, error) {
	now := s.now()
	if ruleID != nil {
		rule, err := s.rules.GetRule(ctx, *ruleID)
		if err != nil {
			return nil, err
		}
		if !rule.ActiveAt(now) {
			return nil, &models.ErrValidation{Field: "rule_id", Message: "conversion rule is not active"}
		}
		return rule, nil
	}
	candidates, err := s.rules.ListActiveRules(ctx, now)
	if err != nil {
		return nil, err
	}
	rule := SelectRule(candidates, now)
	if rule == nil {
		return nil, &models.ErrNotFound{Resource: "conversion rule", ID: "active"}
	}
	return rule, nil
}

// CalculateConversion resolves the rule and computes the conversion without side effects.
func (s *Service) CalculateConversion(ctx context.Context, points int64, ruleID *uuid.UUID) (*Quote, error) {
	rule, err := s.resolveRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if err := CheckLimits(points, rule); err != nil {
		return nil, err
	}
	return &Quote{Rule: rule, Calculation: Calculate(points, rule)}, nil
}

// Convert debits points through the ledger and credits coins in one
// transaction. Nothing is written when any step fails.
func (s *Service) Convert(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "conversion.Convert")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer_id", req.CustomerID.String()),
		attribute.Int64("points", req.Points),
	)

	res, err := s.convert(ctx, req)
	s.metrics.IncrConversion(outcome(err), coinsOf(res))
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("conversion rejected",
			zap.String("customer_id", req.CustomerID.String()),
			zap.Int64("points", req.Points),
			zap.String("kind", models.KindOf(err)),
			zap.Error(err),
		)
	}
	ev := audit.Event{
		Action:     "conversion.convert",
		TargetType: "customer",
		TargetID:   req.CustomerID.String(),
		Before:     req,
	}
	if res != nil {
		ev.After = res.Conversion
	}
	s.audit.Record(ctx, ev.Outcome(err))
	return res, err
}

func (s *Service) convert(ctx context.Context, req Request) (*Result, error) {
	if req.CustomerID == uuid.Nil {
		return nil, &models.ErrValidation{Field: "customer_id", Message: "is required"}
	}
	rule, err := s.resolveRule(ctx, req.RuleID)
	if err != nil {
		return nil, err
	}
	if err := CheckLimits(req.Points, rule); err != nil {
		return nil, err
	}
	calc := Calculate(req.Points, rule)

	res := &Result{}
	err = s.tx.InTx(ctx, func(tx pgx.Tx) error {
		c, err := s.customers.GetByIDForUpdate(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if c.PointsBalance < req.Points {
			return &models.ErrInsufficientFunds{Available: c.PointsBalance, Required: req.Points}
		}

		h := &models.ConversionHistory{
			CustomerID:    req.CustomerID,
			RuleID:        rule.ID,
			PointsSpent:   req.Points,
			BaseCoins:     calc.BaseCoins,
			BonusCoins:    calc.BonusCoins,
			TotalCoins:    calc.TotalCoins,
			PointsPerCoin: calc.PointsPerCoin,
			Reference:     s.refs.ConversionRef(),
			Status:        models.ConversionCompleted,
		}
		if err := s.history.InsertHistory(ctx, tx, h); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]any{
			"conversion_id": h.ID,
			"rule_id":       rule.ID,
			"total_coins":   calc.TotalCoins,
		})
		if err := s.ledger.PostTx(ctx, tx, &models.LedgerEntry{
			CustomerID:    req.CustomerID,
			Kind:          models.EntryRedeem,
			Points:        req.Points,
			Source:        models.SourceConversion,
			TransactionID: h.Reference,
			Metadata:      meta,
			Note:          "converted to coins",
		}); err != nil {
			return err
		}

		coins, err := s.customers.AddCoins(ctx, tx, req.CustomerID, calc.TotalCoins)
		if err != nil {
			return err
		}
		res.Conversion = h
		res.PointsBalance = c.PointsBalance - req.Points
		res.CoinBalance = coins
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("points converted",
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("reference", res.Conversion.Reference),
		zap.Int64("points", req.Points),
		zap.Int64("coins", calc.TotalCoins),
	)
	return res, nil
}

func (s *Service) CreateRule(ctx context.Context, rule *models.ConversionRule) error {
	if rule.StartDate.IsZero() {
		rule.StartDate = s.now()
	}
	if err := ValidateRule(rule); err != nil {
		return err
	}
	err := s.rules.CreateRule(ctx, rule)
	s.audit.Record(ctx, audit.Event{
		Action:     "conversion.rule_create",
		TargetType: "conversion_rule",
		TargetID:   rule.ID.String(),
		After:      rule,
	}.Outcome(err))
	return err
}

func (s *Service) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (*models.ConversionRule, error) {
	rule, err := s.rules.SetRuleActive(ctx, id, active)
	s.audit.Record(ctx, audit.Event{
		Action:     "conversion.rule_set_active",
		TargetType: "conversion_rule",
		TargetID:   id.String(),
		After:      rule,
	}.Outcome(err))
	return rule, err
}

func (s *Service) ListRules(ctx context.Context) ([]*models.ConversionRule, error) {
	return s.rules.ListRules(ctx)
}

func (s *Service) ListHistory(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.ConversionHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.history.ListHistory(ctx, customerID, limit)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return models.KindOf(err)
}

func coinsOf(res *Result) int64 {
	if res == nil || res.Conversion == nil {
		return 0
	}
	return res.Conversion.TotalCoins
}
