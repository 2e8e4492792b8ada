package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/db"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

type CustomerRepo struct {
	pool *pgxpool.Pool
}

func NewCustomerRepo(pool *pgxpool.Pool) *CustomerRepo {
	return &CustomerRepo{pool: pool}
}

const customerColumns = `id, name, email, status, tier, app_types, device_type, engagement_score,
	last_active_at, attributes, points_balance, coin_balance, created_at, updated_at`

func scanCustomer(row pgx.Row) (*models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Status, &c.Tier, &c.AppTypes, &c.DeviceType, &c.EngagementScore,
		&c.LastActiveAt, &c.Attributes, &c.PointsBalance, &c.CoinBalance, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a profile with zero balances; balances only move through the
// ledger and conversion paths.
func (r *CustomerRepo) Create(ctx context.Context, c *models.Customer) error {
	if c.AppTypes == nil {
		c.AppTypes = []string{}
	}
	attrs := c.Attributes
	if len(attrs) == 0 {
		attrs = []byte(`{}`)
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customers (name, email, status, tier, app_types, device_type, engagement_score, last_active_at, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, points_balance, coin_balance, created_at, updated_at
	`, c.Name, c.Email, c.Status, c.Tier, c.AppTypes, c.DeviceType, c.EngagementScore, c.LastActiveAt, attrs,
	).Scan(&c.ID, &c.PointsBalance, &c.CoinBalance, &c.CreatedAt, &c.UpdatedAt)
	if _, ok := db.IsUniqueViolation(err); ok {
		return &models.ErrConflict{Resource: "customer", Key: c.Email}
	}
	return models.Infra("create customer", err)
}

func (r *CustomerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	return c, customerErr(err, id)
}

// GetByIDForUpdate locks the customer row; every balance write for the
// customer serializes on it.
func (r *CustomerRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Customer, error) {
	c, err := scanCustomer(tx.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id))
	return c, customerErr(err, id)
}

// AdjustPoints applies delta and returns the new balance. The conditional
// update refuses to go below zero.
func (r *CustomerRepo) AdjustPoints(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE customers SET points_balance = points_balance + $1, updated_at = now()
		WHERE id = $2 AND points_balance + $1 >= 0
		RETURNING points_balance
	`, delta, id).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var current int64
		if err := tx.QueryRow(ctx, `SELECT points_balance FROM customers WHERE id = $1`, id).Scan(&current); err != nil {
			return 0, customerErr(err, id)
		}
		return 0, &models.ErrInsufficientFunds{Available: current, Required: -delta}
	}
	return balance, models.Infra("adjust points", err)
}

func (r *CustomerRepo) AddCoins(ctx context.Context, tx pgx.Tx, id uuid.UUID, coins int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE customers SET coin_balance = coin_balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING coin_balance
	`, coins, id).Scan(&balance)
	return balance, customerErr(err, id)
}

// ActiveProfiles returns every active customer for segment evaluation.
func (r *CustomerRepo) ActiveProfiles(ctx context.Context) ([]*models.Customer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, models.Infra("list active customers", err)
	}
	defer rows.Close()
	var list []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, models.Infra("scan customer", err)
		}
		list = append(list, c)
	}
	return list, models.Infra("list active customers", rows.Err())
}

func customerErr(err error, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.ErrNotFound{Resource: "customer", ID: id.String()}
	}
	return models.Infra("customer", err)
}
