package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/db"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

// ListFilter narrows ListEntries. Cursor is the created_at of the last entry
// on the previous page.
type ListFilter struct {
	CustomerID     uuid.UUID
	Kind           string
	Status         string
	IncludeDeleted bool
	Before         *time.Time
	Limit          int
}

// ExpiryQuery selects earn entries past their window. TierCutoffs overrides
// DefaultCutoff for customers in the named tier.
type ExpiryQuery struct {
	DefaultCutoff time.Time
	TierCutoffs   map[string]time.Time
	Limit         int
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, customer_id, kind, points, status, source, transaction_id,
	spend_amount::text, metadata, note, is_deleted, expires_entry_id, created_at, updated_at`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var (
		e     models.LedgerEntry
		spend string
	)
	err := row.Scan(&e.ID, &e.CustomerID, &e.Kind, &e.Points, &e.Status, &e.Source, &e.TransactionID,
		&spend, &e.Metadata, &e.Note, &e.IsDeleted, &e.ExpiresEntryID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if e.SpendAmount, err = decimal.NewFromString(spend); err != nil {
		return nil, fmt.Errorf("parse spend_amount %q: %w", spend, err)
	}
	return &e, nil
}

// Insert runs inside the caller's transaction. A duplicate transaction_id or
// a second compensation for the same earn entry is reported as a conflict.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	metadata := e.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (customer_id, kind, points, status, source, transaction_id, spend_amount, metadata, note, expires_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, e.CustomerID, e.Kind, e.Points, e.Status, e.Source, e.TransactionID, e.SpendAmount.String(), metadata, e.Note, e.ExpiresEntryID,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if constraint, ok := db.IsUniqueViolation(err); ok {
		if constraint == "ledger_entries_expires_entry_id_key" {
			return &models.ErrConflict{Resource: "expiration", Key: e.ExpiresEntryID.String()}
		}
		return &models.ErrConflict{Resource: "ledger entry", Key: e.TransactionID}
	}
	if err != nil {
		return models.Infra("insert ledger entry", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id))
	return e, notFound(err, id)
}

// GetByIDForUpdate locks the entry row for the rest of tx.
func (r *Repository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.LedgerEntry, error) {
	e, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, id))
	return e, notFound(err, id)
}

func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, note string) (*models.LedgerEntry, error) {
	e, err := scanEntry(tx.QueryRow(ctx, `
		UPDATE ledger_entries SET status = $2, note = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+entryColumns, id, status, note))
	return e, notFound(err, id)
}

func (r *Repository) SoftDelete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `UPDATE ledger_entries SET is_deleted = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return models.Infra("soft delete ledger entry", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.ErrNotFound{Resource: "ledger entry", ID: id.String()}
	}
	return nil
}

func (r *Repository) List(ctx context.Context, f ListFilter) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE customer_id = $1
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4 OR NOT is_deleted)
		  AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at DESC
		LIMIT $6
	`, f.CustomerID, f.Kind, f.Status, f.IncludeDeleted, f.Before, f.Limit)
	if err != nil {
		return nil, models.Infra("list ledger entries", err)
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, models.Infra("scan ledger entry", err)
		}
		list = append(list, e)
	}
	return list, models.Infra("list ledger entries", rows.Err())
}

// SumCompleted recomputes the balance from the log.
func (r *Repository) SumCompleted(ctx context.Context, customerID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE
			WHEN kind = 'earn' THEN abs(points)
			WHEN kind IN ('redeem', 'expire') THEN -abs(points)
			ELSE points END), 0)::bigint
		FROM ledger_entries
		WHERE customer_id = $1 AND status = 'completed' AND NOT is_deleted
	`, customerID).Scan(&sum)
	return sum, models.Infra("sum ledger entries", err)
}

// ListExpirable returns completed earn entries older than their tier cutoff
// that have no compensating expire entry yet, oldest first.
func (r *Repository) ListExpirable(ctx context.Context, q ExpiryQuery) ([]*models.LedgerEntry, error) {
	tiers := make([]string, 0, len(q.TierCutoffs))
	cutoffs := make([]time.Time, 0, len(q.TierCutoffs))
	for tier, cutoff := range q.TierCutoffs {
		tiers = append(tiers, tier)
		cutoffs = append(cutoffs, cutoff)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.customer_id, e.kind, e.points, e.status, e.source, e.transaction_id,
		       e.spend_amount::text, e.metadata, e.note, e.is_deleted, e.expires_entry_id, e.created_at, e.updated_at
		FROM ledger_entries e
		JOIN customers c ON c.id = e.customer_id
		LEFT JOIN unnest($1::text[], $2::timestamptz[]) AS w(tier, cutoff) ON w.tier = c.tier
		WHERE e.kind = 'earn' AND e.status = 'completed' AND NOT e.is_deleted
		  AND e.created_at < COALESCE(w.cutoff, $3)
		  AND NOT EXISTS (SELECT 1 FROM ledger_entries x WHERE x.expires_entry_id = e.id)
		ORDER BY e.created_at, e.id
		LIMIT $4
	`, tiers, cutoffs, q.DefaultCutoff, q.Limit)
	if err != nil {
		return nil, models.Infra("list expirable entries", err)
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, models.Infra("scan ledger entry", err)
		}
		list = append(list, e)
	}
	return list, models.Infra("list expirable entries", rows.Err())
}

func (r *Repository) ExpirationOfForUpdate(ctx context.Context, tx pgx.Tx, earnID uuid.UUID) (*models.LedgerEntry, error) {
	e, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE expires_entry_id = $1 FOR UPDATE`, earnID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Infra("ledger expiration", err)
	}
	return e, nil
}

func notFound(err error, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.ErrNotFound{Resource: "ledger entry", ID: id.String()}
	}
	return models.Infra("ledger entry", err)
}
