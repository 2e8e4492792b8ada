package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"
)

var ErrNotBound = errors.New("job queue is not bound to a river client")

// Inserter is satisfied by *river.Client.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Ticket identifies a queued job. Wait blocks until the job reaches a final
// state.
type Ticket struct {
	JobID     int64  `json:"job_id"`
	Kind      string `json:"kind"`
	Queue     string `json:"queue"`
	Duplicate bool   `json:"duplicate"`

	tracker *Tracker
}

// Wait returns the final outcome of the job or the context's error.
func (t *Ticket) Wait(ctx context.Context) (*Outcome, error) {
	if t.tracker == nil {
		return nil, errors.New("ticket is not tracked")
	}
	return t.tracker.Wait(ctx, t.JobID)
}

// Queue inserts jobs on River. The client is bound after construction since
// the client's workers need the queue themselves.
type Queue struct {
	mu       sync.RWMutex
	inserter Inserter

	tracker *Tracker
	policy  RetryPolicy
	logger  *zap.Logger
}

func NewQueue(tracker *Tracker, policy RetryPolicy, logger *zap.Logger) *Queue {
	return &Queue{tracker: tracker, policy: policy, logger: logger.Named("jobs")}
}

func (q *Queue) Bind(inserter Inserter) {
	q.mu.Lock()
	q.inserter = inserter
	q.mu.Unlock()
}

// Enqueue inserts args with the queue's retry limit. A job that is already
// waiting or running with the same unique args is returned as a duplicate.
func (q *Queue) Enqueue(ctx context.Context, args river.JobArgs) (*Ticket, error) {
	q.mu.RLock()
	ins := q.inserter
	q.mu.RUnlock()
	if ins == nil {
		return nil, ErrNotBound
	}

	opts := &river.InsertOpts{MaxAttempts: q.policy.MaxAttempts}
	if withOpts, ok := args.(river.JobArgsWithInsertOpts); ok {
		o := withOpts.InsertOpts()
		o.MaxAttempts = q.policy.MaxAttempts
		opts = &o
	}
	res, err := ins.Insert(ctx, args, opts)
	if err != nil {
		return nil, err
	}

	ticket := &Ticket{
		JobID:     res.Job.ID,
		Kind:      res.Job.Kind,
		Queue:     res.Job.Queue,
		Duplicate: res.UniqueSkippedAsDuplicate,
		tracker:   q.tracker,
	}
	q.logger.Debug("job enqueued",
		zap.Int64("job_id", ticket.JobID),
		zap.String("kind", ticket.Kind),
		zap.Bool("duplicate", ticket.Duplicate),
	)
	return ticket, nil
}

func (q *Queue) EnqueueSegmentRefresh(ctx context.Context, segmentID uuid.UUID, reason string) (*Ticket, error) {
	return q.Enqueue(ctx, RefreshSegmentArgs{SegmentID: segmentID, Reason: reason})
}

func (q *Queue) Policy() RetryPolicy { return q.policy }
