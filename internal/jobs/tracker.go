package jobs

import (
	"context"
	"strconv"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
)

// Final job states as reported in Outcome.State.
const (
	StateCompleted = "completed"
	StateDiscarded = "discarded"
	StateCancelled = "cancelled"
)

// Outcome is the final state of a job.
type Outcome struct {
	JobID      int64     `json:"job_id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	Errors     []string  `json:"errors,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func (o *Outcome) Succeeded() bool { return o.State == StateCompleted }

// Tracker consumes River's event stream and keeps recent outcomes so tickets
// can wait on them.
type Tracker struct {
	outcomes  cmap.ConcurrentMap[string, *Outcome]
	signals   cmap.ConcurrentMap[string, *signal]
	retention time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// signal is shared by the waiters of one job. waiters is only touched under
// the map's shard lock; the entry is removed with its last waiter.
type signal struct {
	done    chan struct{}
	waiters int
}

func NewTracker(metrics *observability.Metrics, logger *zap.Logger) *Tracker {
	return &Tracker{
		outcomes:  cmap.New[*Outcome](),
		signals:   cmap.New[*signal](),
		retention: 15 * time.Minute,
		metrics:   metrics,
		logger:    logger.Named("jobs"),
	}
}

// SubscribedKinds are the River events Run expects.
var SubscribedKinds = []river.EventKind{
	river.EventKindJobCompleted,
	river.EventKindJobFailed,
	river.EventKindJobCancelled,
}

// Run consumes events until ctx is done or the channel closes.
func (t *Tracker) Run(ctx context.Context, events <-chan *river.Event) {
	prune := time.NewTicker(time.Minute)
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-prune.C:
			t.prune(now)
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev != nil && ev.Job != nil {
				t.observe(ev.Job)
			}
		}
	}
}

// observe records one job event. Failed attempts that will be retried are
// counted but do not finish the job.
func (t *Tracker) observe(job *rivertype.JobRow) {
	var state string
	switch job.State {
	case rivertype.JobStateCompleted:
		state = StateCompleted
	case rivertype.JobStateDiscarded:
		state = StateDiscarded
	case rivertype.JobStateCancelled:
		state = StateCancelled
	default:
		t.metrics.IncrJob(job.Kind, "retry")
		t.logger.Warn("job attempt failed",
			zap.Int64("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Int("attempt", job.Attempt),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Strings("errors", attemptErrors(job)),
		)
		return
	}

	out := &Outcome{
		JobID:      job.ID,
		Kind:       job.Kind,
		State:      state,
		Attempts:   job.Attempt,
		Errors:     attemptErrors(job),
		FinishedAt: time.Now(),
	}
	if job.FinalizedAt != nil {
		out.FinishedAt = *job.FinalizedAt
	}
	t.finish(out)

	t.metrics.IncrJob(job.Kind, state)
	fields := []zap.Field{
		zap.Int64("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempts", job.Attempt),
	}
	if state == StateCompleted {
		t.logger.Info("job completed", fields...)
		return
	}
	t.logger.Error("job failed permanently", append(fields, zap.String("state", state), zap.Strings("errors", out.Errors))...)
}

func (t *Tracker) finish(out *Outcome) {
	key := strconv.FormatInt(out.JobID, 10)
	if !t.outcomes.SetIfAbsent(key, out) {
		return
	}
	if sig, ok := t.signals.Pop(key); ok {
		close(sig.done)
	}
}

// Wait blocks until the job's outcome is known.
func (t *Tracker) Wait(ctx context.Context, jobID int64) (*Outcome, error) {
	key := strconv.FormatInt(jobID, 10)
	if out, ok := t.outcomes.Get(key); ok {
		return out, nil
	}
	sig := t.signals.Upsert(key, nil, func(exists bool, cur, _ *signal) *signal {
		if !exists {
			cur = &signal{done: make(chan struct{})}
		}
		cur.waiters++
		return cur
	})
	defer t.release(key, sig)
	// finish may have run before the signal was registered
	if out, ok := t.outcomes.Get(key); ok {
		return out, nil
	}
	select {
	case <-sig.done:
		out, _ := t.outcomes.Get(key)
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Tracker) release(key string, sig *signal) {
	t.signals.RemoveCb(key, func(_ string, cur *signal, exists bool) bool {
		if !exists || cur != sig {
			return false
		}
		cur.waiters--
		return cur.waiters == 0
	})
}

// Outcome returns the recorded outcome of a job, if any.
func (t *Tracker) Outcome(jobID int64) (*Outcome, bool) {
	return t.outcomes.Get(strconv.FormatInt(jobID, 10))
}

func (t *Tracker) prune(now time.Time) {
	for key, out := range t.outcomes.Items() {
		if now.Sub(out.FinishedAt) > t.retention {
			t.outcomes.Remove(key)
		}
	}
}

func attemptErrors(job *rivertype.JobRow) []string {
	var out []string
	for _, e := range job.Errors {
		out = append(out, e.Error)
	}
	return out
}
