// Package execution holds the River workers that run queued jobs.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/config"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/jobs"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/segments"
)

// SegmentProcessor is implemented by *segments.Reconciler.
type SegmentProcessor interface {
	ProcessSegment(ctx context.Context, segmentID uuid.UUID) (*models.RefreshResult, error)
}

type RefreshSegmentWorker struct {
	river.WorkerDefaults[jobs.RefreshSegmentArgs]
	segments SegmentProcessor
	policy   jobs.RetryPolicy
	logger   *zap.Logger
}

func NewRefreshSegmentWorker(p SegmentProcessor, policy jobs.RetryPolicy, logger *zap.Logger) *RefreshSegmentWorker {
	return &RefreshSegmentWorker{segments: p, policy: policy, logger: logger.Named("worker")}
}

func (w *RefreshSegmentWorker) Work(ctx context.Context, job *river.Job[jobs.RefreshSegmentArgs]) (err error) {
	ctx, span := startJobSpan(ctx, job.JobRow)
	defer func() { endJobSpan(span, err) }()

	res, err := w.segments.ProcessSegment(ctx, job.Args.SegmentID)
	if err != nil {
		// a deleted segment or criteria that no longer parses will not heal on retry
		switch models.KindOf(err) {
		case models.KindNotFound, models.KindValidation:
			return river.JobCancel(err)
		}
		return fmt.Errorf("refresh segment %s: %w", job.Args.SegmentID, err)
	}
	w.logger.Info("segment refresh job done",
		zap.Int64("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.String("reason", job.Args.Reason),
		zap.Int("added", res.Added),
		zap.Int("removed", res.Removed),
	)
	return nil
}

func (w *RefreshSegmentWorker) NextRetry(job *river.Job[jobs.RefreshSegmentArgs]) time.Time {
	return time.Now().Add(w.policy.Delay(job.Attempt))
}

// DueLister is implemented by *segments.Repository.
type DueLister interface {
	ListAutoRefresh(ctx context.Context) ([]*models.CustomerSegment, error)
}

type RefreshEnqueuer interface {
	EnqueueSegmentRefresh(ctx context.Context, segmentID uuid.UUID, reason string) (*jobs.Ticket, error)
}

// SweepWorker queues a refresh for every auto-refresh segment due in the
// job's hourly slot.
type SweepWorker struct {
	river.WorkerDefaults[jobs.RefreshSweepArgs]
	segments DueLister
	queue    RefreshEnqueuer
	cfg      config.Segments
	logger   *zap.Logger
}

func NewSweepWorker(segs DueLister, queue RefreshEnqueuer, cfg config.Segments, logger *zap.Logger) *SweepWorker {
	return &SweepWorker{segments: segs, queue: queue, cfg: cfg, logger: logger.Named("worker")}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[jobs.RefreshSweepArgs]) error {
	at := job.Args.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC().Truncate(time.Hour)

	list, err := w.segments.ListAutoRefresh(ctx)
	if err != nil {
		return err
	}

	workers := w.cfg.RefreshWorkers
	if workers < 1 {
		workers = 1
	}
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(workers)
	queued := 0
	for _, seg := range list {
		if !segments.DueForRefresh(seg, at, w.cfg) {
			continue
		}
		queued++
		id := seg.ID
		p.Go(func(ctx context.Context) error {
			_, err := w.queue.EnqueueSegmentRefresh(ctx, id, "scheduled")
			return err
		})
	}
	err = p.Wait()
	w.logger.Info("refresh sweep",
		zap.Time("slot", at),
		zap.Int("candidates", len(list)),
		zap.Int("queued", queued),
		zap.Error(err),
	)
	return err
}

// Expirer is implemented by ledger.Service.
type Expirer interface {
	ExpirePoints(ctx context.Context, now time.Time) (*models.ExpirationReport, error)
}

type ExpirePointsWorker struct {
	river.WorkerDefaults[jobs.ExpirePointsArgs]
	ledger Expirer
	policy jobs.RetryPolicy
	logger *zap.Logger
}

func NewExpirePointsWorker(l Expirer, policy jobs.RetryPolicy, logger *zap.Logger) *ExpirePointsWorker {
	return &ExpirePointsWorker{ledger: l, policy: policy, logger: logger.Named("worker")}
}

func (w *ExpirePointsWorker) Work(ctx context.Context, job *river.Job[jobs.ExpirePointsArgs]) (err error) {
	ctx, span := startJobSpan(ctx, job.JobRow)
	defer func() { endJobSpan(span, err) }()

	asOf := job.Args.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	report, err := w.ledger.ExpirePoints(ctx, asOf)
	if err != nil {
		// expiration resumes where it stopped, so a retry only redoes the remainder
		return err
	}
	w.logger.Info("points expiration job done",
		zap.Int64("job_id", job.ID),
		zap.Int64("points", report.TotalPointsExpired),
		zap.Int("transactions", report.TransactionCount),
		zap.Int("customers", report.CustomersAffected),
	)
	return nil
}

func (w *ExpirePointsWorker) NextRetry(job *river.Job[jobs.ExpirePointsArgs]) time.Time {
	return time.Now().Add(w.policy.Delay(job.Attempt))
}

// Register adds all workers to a River worker set.
func Register(workers *river.Workers, refresh *RefreshSegmentWorker, sweep *SweepWorker, expire *ExpirePointsWorker) {
	river.AddWorker(workers, refresh)
	river.AddWorker(workers, sweep)
	river.AddWorker(workers, expire)
}

var errNoSchedule = errors.New("periodic interval must be positive")

// PeriodicJobs schedules the hourly refresh sweep and the expiration pass.
func PeriodicJobs(sweepEvery, expireEvery time.Duration, policy jobs.RetryPolicy) ([]*river.PeriodicJob, error) {
	if sweepEvery <= 0 || expireEvery <= 0 {
		return nil, errNoSchedule
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(sweepEvery),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.RefreshSweepArgs{At: time.Now().UTC().Truncate(time.Hour)}, &river.InsertOpts{MaxAttempts: policy.MaxAttempts}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(expireEvery),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.ExpirePointsArgs{AsOf: time.Now().UTC()}, &river.InsertOpts{MaxAttempts: policy.MaxAttempts}
			},
			nil,
		),
	}, nil
}
