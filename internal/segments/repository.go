package segments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/db"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const segmentColumns = `id, name, description, criteria, status, customer_count, last_refreshed,
	auto_refresh_enabled, auto_refresh_frequency, created_at, updated_at`

func scanSegment(row pgx.Row) (*models.CustomerSegment, error) {
	var s models.CustomerSegment
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Criteria, &s.Status, &s.CustomerCount, &s.LastRefreshed,
		&s.AutoRefreshEnabled, &s.AutoRefreshFrequency, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) Create(ctx context.Context, s *models.CustomerSegment) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customer_segments (name, description, criteria, status, auto_refresh_enabled, auto_refresh_frequency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, customer_count, created_at, updated_at
	`, s.Name, s.Description, []byte(s.Criteria), s.Status, s.AutoRefreshEnabled, s.AutoRefreshFrequency,
	).Scan(&s.ID, &s.CustomerCount, &s.CreatedAt, &s.UpdatedAt)
	if _, ok := db.IsUniqueViolation(err); ok {
		return &models.ErrConflict{Resource: "segment", Key: s.Name}
	}
	return models.Infra("create segment", err)
}

func (r *Repository) Update(ctx context.Context, s *models.CustomerSegment) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE customer_segments
		SET name = $2, description = $3, criteria = $4, status = $5,
		    auto_refresh_enabled = $6, auto_refresh_frequency = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, s.ID, s.Name, s.Description, []byte(s.Criteria), s.Status, s.AutoRefreshEnabled, s.AutoRefreshFrequency,
	).Scan(&s.UpdatedAt)
	if _, ok := db.IsUniqueViolation(err); ok {
		return &models.ErrConflict{Resource: "segment", Key: s.Name}
	}
	return segmentErr(err, s.ID)
}

// Delete removes the segment; memberships go with it by cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM customer_segments WHERE id = $1`, id)
	if err != nil {
		return models.Infra("delete segment", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.ErrNotFound{Resource: "segment", ID: id.String()}
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.CustomerSegment, error) {
	s, err := scanSegment(r.pool.QueryRow(ctx, `SELECT `+segmentColumns+` FROM customer_segments WHERE id = $1`, id))
	return s, segmentErr(err, id)
}

// GetByIDForUpdate holds the segment row lock until tx ends; reconciliation
// runs for a segment are serialized on it.
func (r *Repository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CustomerSegment, error) {
	s, err := scanSegment(tx.QueryRow(ctx, `SELECT `+segmentColumns+` FROM customer_segments WHERE id = $1 FOR UPDATE`, id))
	return s, segmentErr(err, id)
}

func (r *Repository) List(ctx context.Context, status string) ([]*models.CustomerSegment, error) {
	return r.list(ctx, `SELECT `+segmentColumns+` FROM customer_segments
		WHERE ($1 = '' OR status = $1) ORDER BY name`, status)
}

func (r *Repository) ListAutoRefresh(ctx context.Context) ([]*models.CustomerSegment, error) {
	return r.list(ctx, `SELECT `+segmentColumns+` FROM customer_segments
		WHERE status = 'active' AND auto_refresh_enabled ORDER BY id`)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*models.CustomerSegment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, models.Infra("list segments", err)
	}
	defer rows.Close()
	var list []*models.CustomerSegment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, models.Infra("scan segment", err)
		}
		list = append(list, s)
	}
	return list, models.Infra("list segments", rows.Err())
}

func (r *Repository) MemberIDs(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `SELECT customer_id FROM segment_memberships WHERE segment_id = $1`, segmentID)
	if err != nil {
		return nil, models.Infra("list member ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, models.Infra("list member ids", err)
}

// AddMembers bulk-inserts memberships with COPY.
func (r *Repository) AddMembers(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID, matches []Match, at time.Time) error {
	if len(matches) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(matches))
	for _, m := range matches {
		meta, err := json.Marshal(m.Metadata)
		if err != nil {
			return models.Infra("encode membership metadata", err)
		}
		rows = append(rows, []any{segmentID, m.CustomerID, at, meta})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"segment_memberships"},
		[]string{"segment_id", "customer_id", "added_at", "metadata"},
		pgx.CopyFromRows(rows),
	)
	return models.Infra("insert memberships", err)
}

func (r *Repository) RemoveMembers(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID, customerIDs []uuid.UUID) error {
	if len(customerIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `DELETE FROM segment_memberships WHERE segment_id = $1 AND customer_id = ANY($2)`,
		segmentID, customerIDs)
	return models.Infra("delete memberships", err)
}

func (r *Repository) MarkRefreshed(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID, count int, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE customer_segments SET customer_count = $2, last_refreshed = $3, updated_at = now()
		WHERE id = $1
	`, segmentID, count, at)
	return models.Infra("mark segment refreshed", err)
}

// ListMembers returns one page of members joined with their profile summary.
func (r *Repository) ListMembers(ctx context.Context, segmentID uuid.UUID, offset, limit int) ([]*models.SegmentMember, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM segment_memberships WHERE segment_id = $1`, segmentID).Scan(&total); err != nil {
		return nil, 0, models.Infra("count members", err)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.name, c.email, c.tier, c.points_balance, m.added_at, m.metadata
		FROM segment_memberships m
		JOIN customers c ON c.id = m.customer_id
		WHERE m.segment_id = $1
		ORDER BY m.added_at DESC, c.id
		OFFSET $2 LIMIT $3
	`, segmentID, offset, limit)
	if err != nil {
		return nil, 0, models.Infra("list members", err)
	}
	defer rows.Close()
	var list []*models.SegmentMember
	for rows.Next() {
		var m models.SegmentMember
		if err := rows.Scan(&m.CustomerID, &m.Name, &m.Email, &m.Tier, &m.PointsBalance, &m.AddedAt, &m.Metadata); err != nil {
			return nil, 0, models.Infra("scan member", err)
		}
		list = append(list, &m)
	}
	return list, total, models.Infra("list members", rows.Err())
}

// AggregateActivity sums completed, non-deleted ledger entries per customer.
func (r *Repository) AggregateActivity(ctx context.Context, q ActivityQuery) ([]Activity, error) {
	if q.Kinds == nil {
		q.Kinds = []string{}
	}
	if q.Sources == nil {
		q.Sources = []string{}
	}
	rows, err := r.pool.Query(ctx, `
		SELECT customer_id, count(*), COALESCE(SUM(points), 0)::bigint, COALESCE(SUM(spend_amount), 0)::text
		FROM ledger_entries
		WHERE status = 'completed' AND NOT is_deleted
		  AND ($1::timestamptz IS NULL OR created_at >= $1)
		  AND (cardinality($2::text[]) = 0 OR kind = ANY($2))
		  AND (cardinality($3::text[]) = 0 OR source = ANY($3))
		GROUP BY customer_id
	`, q.Since, q.Kinds, q.Sources)
	if err != nil {
		return nil, models.Infra("aggregate activity", err)
	}
	defer rows.Close()
	var list []Activity
	for rows.Next() {
		var (
			a     Activity
			spend string
		)
		if err := rows.Scan(&a.CustomerID, &a.Count, &a.Points, &spend); err != nil {
			return nil, models.Infra("scan activity", err)
		}
		if a.Spend, err = decimal.NewFromString(spend); err != nil {
			return nil, models.Infra("parse spend", err)
		}
		list = append(list, a)
	}
	return list, models.Infra("aggregate activity", rows.Err())
}

func segmentErr(err error, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.ErrNotFound{Resource: "segment", ID: id.String()}
	}
	return models.Infra("segment", err)
}
