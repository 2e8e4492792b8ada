// Package audit records before/after snapshots of mutating operations.
// Recording never fails the caller; sinks log and count what they drop.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

type Event struct {
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Before     any       `json:"before,omitempty"`
	After      any       `json:"after,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Sink interface {
	Record(ctx context.Context, ev Event)
}

// Outcome fills Status and Error from err.
func (ev Event) Outcome(err error) Event {
	if err != nil {
		ev.Status = StatusFailure
		ev.Error = err.Error()
		return ev
	}
	ev.Status = StatusSuccess
	return ev
}

type actorKey struct{}

const SystemActor = "system"

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored in ctx, or SystemActor for background work.
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return SystemActor
}

// LogSink writes events to the process log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Record(ctx context.Context, ev Event) {
	fill(ctx, &ev)
	s.logger.Info(ev.Action,
		zap.String("actor", ev.Actor),
		zap.String("target_type", ev.TargetType),
		zap.String("target_id", ev.TargetID),
		zap.String("status", ev.Status),
		zap.String("error", ev.Error),
		zap.Any("before", ev.Before),
		zap.Any("after", ev.After),
	)
}

type nopSink struct{}

func (nopSink) Record(context.Context, Event) {}

// Nop discards every event.
var Nop Sink = nopSink{}

func fill(ctx context.Context, ev *Event) {
	if ev.Actor == "" {
		ev.Actor = ActorFrom(ctx)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.Status == "" {
		ev.Status = StatusSuccess
	}
}
