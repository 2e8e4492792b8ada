package jobs

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tidwall/gjson"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

// JobStatus is a read of one row in River's job table.
type JobStatus struct {
	ID          int64      `json:"id"`
	Kind        string     `json:"kind"`
	Queue       string     `json:"queue"`
	State       string     `json:"state"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	Errors      []string   `json:"errors,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Repository reads job state straight from river_job.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const jobColumns = `id, kind, queue, state::text, attempt, max_attempts,
	coalesce(array_to_json(errors)::text, '[]'), args::text, created_at, finalized_at`

func scanJob(row pgx.Row) (*JobStatus, error) {
	var (
		j          JobStatus
		errs, args string
	)
	if err := row.Scan(&j.ID, &j.Kind, &j.Queue, &j.State, &j.Attempt, &j.MaxAttempts,
		&errs, &args, &j.CreatedAt, &j.FinalizedAt); err != nil {
		return nil, err
	}
	for _, e := range gjson.Get(errs, "#.error").Array() {
		j.Errors = append(j.Errors, e.String())
	}
	j.Reason = gjson.Get(args, "reason").String()
	return &j, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*JobStatus, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM river_job WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.ErrNotFound{Resource: "job", ID: strconv.FormatInt(id, 10)}
	}
	return j, models.Infra("get job", err)
}

// ListSegmentRefreshes returns the most recent refresh jobs of a segment.
func (r *Repository) ListSegmentRefreshes(ctx context.Context, segmentID string, limit int) ([]*JobStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM river_job
		WHERE kind = $1 AND args->>'segment_id' = $2
		ORDER BY id DESC
		LIMIT $3
	`, KindSegmentRefresh, segmentID, limit)
	if err != nil {
		return nil, models.Infra("list refresh jobs", err)
	}
	defer rows.Close()
	var list []*JobStatus
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, models.Infra("scan job", err)
		}
		list = append(list, j)
	}
	return list, models.Infra("list refresh jobs", rows.Err())
}
