package conversion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/db"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ruleColumns = `id, name, points_per_coin, min_points, max_points, bonus_percentage,
	start_date, end_date, is_active, priority, created_at, updated_at`

func scanRule(row pgx.Row) (*models.ConversionRule, error) {
	var r models.ConversionRule
	err := row.Scan(&r.ID, &r.Name, &r.PointsPerCoin, &r.MinPoints, &r.MaxPoints, &r.BonusPercentage,
		&r.StartDate, &r.EndDate, &r.IsActive, &r.Priority, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Repository) CreateRule(ctx context.Context, rule *models.ConversionRule) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversion_rules (name, points_per_coin, min_points, max_points, bonus_percentage, start_date, end_date, is_active, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, rule.Name, rule.PointsPerCoin, rule.MinPoints, rule.MaxPoints, rule.BonusPercentage,
		rule.StartDate, rule.EndDate, rule.IsActive, rule.Priority,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	return models.Infra("create conversion rule", err)
}

func (r *Repository) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (*models.ConversionRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `
		UPDATE conversion_rules SET is_active = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+ruleColumns, id, active))
	return rule, ruleErr(err, id)
}

func (r *Repository) GetRule(ctx context.Context, id uuid.UUID) (*models.ConversionRule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM conversion_rules WHERE id = $1`, id))
	return rule, ruleErr(err, id)
}

// ListActiveRules returns rules whose activity window contains now.
func (r *Repository) ListActiveRules(ctx context.Context, now time.Time) ([]*models.ConversionRule, error) {
	return r.listRules(ctx, `
		SELECT `+ruleColumns+` FROM conversion_rules
		WHERE is_active AND start_date <= $1 AND (end_date IS NULL OR end_date > $1)
		ORDER BY priority DESC, created_at DESC
	`, now)
}

func (r *Repository) ListRules(ctx context.Context) ([]*models.ConversionRule, error) {
	return r.listRules(ctx, `SELECT `+ruleColumns+` FROM conversion_rules ORDER BY created_at DESC`)
}

func (r *Repository) listRules(ctx context.Context, query string, args ...any) ([]*models.ConversionRule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, models.Infra("list conversion rules", err)
	}
	defer rows.Close()
	var list []*models.ConversionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, models.Infra("scan conversion rule", err)
		}
		list = append(list, rule)
	}
	return list, models.Infra("list conversion rules", rows.Err())
}

// InsertHistory runs inside the caller's transaction.
func (r *Repository) InsertHistory(ctx context.Context, tx pgx.Tx, h *models.ConversionHistory) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO conversion_history (customer_id, rule_id, points_spent, base_coins, bonus_coins, total_coins, points_per_coin, reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, h.CustomerID, h.RuleID, h.PointsSpent, h.BaseCoins, h.BonusCoins, h.TotalCoins, h.PointsPerCoin, h.Reference, h.Status,
	).Scan(&h.ID, &h.CreatedAt)
	if _, ok := db.IsUniqueViolation(err); ok {
		return &models.ErrConflict{Resource: "conversion", Key: h.Reference}
	}
	return models.Infra("insert conversion history", err)
}

func (r *Repository) ListHistory(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.ConversionHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, rule_id, points_spent, base_coins, bonus_coins, total_coins, points_per_coin, reference, status, created_at
		FROM conversion_history WHERE customer_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, models.Infra("list conversion history", err)
	}
	defer rows.Close()
	var list []*models.ConversionHistory
	for rows.Next() {
		var h models.ConversionHistory
		if err := rows.Scan(&h.ID, &h.CustomerID, &h.RuleID, &h.PointsSpent, &h.BaseCoins, &h.BonusCoins,
			&h.TotalCoins, &h.PointsPerCoin, &h.Reference, &h.Status, &h.CreatedAt); err != nil {
			return nil, models.Infra("scan conversion history", err)
		}
		list = append(list, &h)
	}
	return list, models.Infra("list conversion history", rows.Err())
}

func ruleErr(err error, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.ErrNotFound{Resource: "conversion rule", ID: id.String()}
	}
	return models.Infra("conversion rule", err)
}
