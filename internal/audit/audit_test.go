package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type countingDrops struct{ n int }

func (c *countingDrops) IncrAuditDropped() { c.n++ }

func TestKafkaSink_PublishesWithActorFromContext(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, "loyalty.audit", nil, zap.NewNop())

	ctx := WithActor(context.Background(), "admin-42")
	sink.Record(ctx, Event{Action: "segment.create", TargetType: "segment", TargetID: "seg-1"})

	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "loyalty.audit" || string(msg.Key) != "seg-1" {
		t.Errorf("topic/key = %s/%s", msg.Topic, msg.Key)
	}
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Actor != "admin-42" || ev.Status != StatusSuccess {
		t.Errorf("event = %+v", ev)
	}
}

func TestKafkaSink_FailuresAreCountedNotReturned(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	drops := &countingDrops{}
	sink := NewKafkaSink(w, "loyalty.audit", drops, zap.NewNop())

	for i := 0; i < 10; i++ {
		sink.Record(context.Background(), Event{Action: "ledger.delete", TargetID: "e"})
	}
	if drops.n != 10 {
		t.Errorf("drops = %d, want 10", drops.n)
	}
}

func TestActorFrom_DefaultsToSystem(t *testing.T) {
	if got := ActorFrom(context.Background()); got != SystemActor {
		t.Errorf("ActorFrom = %q", got)
	}
}

func TestEvent_Outcome(t *testing.T) {
	ev := Event{Action: "x"}.Outcome(errors.New("boom"))
	if ev.Status != StatusFailure || ev.Error != "boom" {
		t.Errorf("failure outcome = %+v", ev)
	}
	ev = Event{Action: "x"}.Outcome(nil)
	if ev.Status != StatusSuccess {
		t.Errorf("success outcome = %+v", ev)
	}
}
