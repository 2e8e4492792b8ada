package segments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/db"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
)

var tracer = otel.Tracer("loyalty/segments")

// MembershipStore is the write side used by reconciliation. Methods taking a
// tx run inside the reconciliation transaction.
type MembershipStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CustomerSegment, error)
	MemberIDs(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID) ([]uuid.UUID, error)
	AddMembers(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID, matches []Match, at time.Time) error
	RemoveMembers(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID, customerIDs []uuid.UUID) error
	MarkRefreshed(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID, count int, at time.Time) error
}

type Reconciler struct {
	tx        db.Transactor
	store     MembershipStore
	evaluator *Evaluator
	metrics   *observability.Metrics
	logger    *zap.Logger
	group     singleflight.Group
	now       func() time.Time
}

func NewReconciler(tx db.Transactor, store MembershipStore, evaluator *Evaluator, metrics *observability.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		tx:        tx,
		store:     store,
		evaluator: evaluator,
		metrics:   metrics,
		logger:    logger.Named("segments"),
		now:       time.Now,
	}
}

// ProcessSegment brings the stored membership of one segment in line with its
// criteria. Segments that are not active are left untouched. The whole run is
// one transaction holding the segment row lock, so concurrent runs for the
// same segment queue up behind each other and a failed run changes nothing.
// Concurrent calls in this process share a single run.
func (r *Reconciler) ProcessSegment(ctx context.Context, segmentID uuid.UUID) (*models.RefreshResult, error) {
	v, err, _ := r.group.Do(segmentID.String(), func() (any, error) {
		return r.process(ctx, segmentID)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*models.RefreshResult)
	return &res, nil
}

func (r *Reconciler) process(ctx context.Context, segmentID uuid.UUID) (*models.RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "segments.ProcessSegment")
	defer span.End()
	span.SetAttributes(attribute.String("segment_id", segmentID.String()))

	start := time.Now()
	res := &models.RefreshResult{SegmentID: segmentID}
	err := r.tx.InTx(ctx, func(tx pgx.Tx) error {
		seg, err := r.store.GetByIDForUpdate(ctx, tx, segmentID)
		if err != nil {
			return err
		}
		if seg.Status != models.SegmentActive {
			res.Skipped = true
			res.Total = seg.CustomerCount
			return nil
		}
		criteria, err := ParseCriteria(seg.Criteria)
		if err != nil {
			return err
		}
		matches, err := r.evaluator.Evaluate(ctx, criteria)
		if err != nil {
			return err
		}
		existing, err := r.store.MemberIDs(ctx, tx, segmentID)
		if err != nil {
			return err
		}

		toAdd, toRemove := diffMembers(matches, existing)
		now := r.now()
		if err := r.store.AddMembers(ctx, tx, segmentID, toAdd, now); err != nil {
			return err
		}
		if err := r.store.RemoveMembers(ctx, tx, segmentID, toRemove); err != nil {
			return err
		}
		res.Added = len(toAdd)
		res.Removed = len(toRemove)
		res.Total = len(existing) + res.Added - res.Removed
		return r.store.MarkRefreshed(ctx, tx, segmentID, res.Total, now)
	})

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
	case res.Skipped:
		outcome = "skipped"
	}
	r.metrics.RecordSegmentRefresh(outcome, time.Since(start), res.Added, res.Removed)
	if err != nil {
		return nil, err
	}
	r.logger.Info("segment reconciled",
		zap.String("segment_id", segmentID.String()),
		zap.Bool("skipped", res.Skipped),
		zap.Int("added", res.Added),
		zap.Int("removed", res.Removed),
		zap.Int("total", res.Total),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

// diffMembers splits the eligible set against the stored one. Duplicate
// matches for one customer collapse to the first.
func diffMembers(matches []Match, existing []uuid.UUID) (toAdd []Match, toRemove []uuid.UUID) {
	current := make(map[uuid.UUID]struct{}, len(existing))
	for _, id := range existing {
		current[id] = struct{}{}
	}
	eligible := make(map[uuid.UUID]struct{}, len(matches))
	for _, m := range matches {
		if _, dup := eligible[m.CustomerID]; dup {
			continue
		}
		eligible[m.CustomerID] = struct{}{}
		if _, ok := current[m.CustomerID]; !ok {
			toAdd = append(toAdd, m)
		}
	}
	for _, id := range existing {
		if _, ok := eligible[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}
