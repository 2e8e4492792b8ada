package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DropCounter counts events lost to publish failures.
type DropCounter interface {
	IncrAuditDropped()
}

// KafkaSink publishes events keyed by target id so a target's history stays
// ordered within one partition. Publishing sits behind a circuit breaker.
type KafkaSink struct {
	writer  MessageWriter
	topic   string
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	drops   DropCounter
	logger  *zap.Logger
}

func NewKafkaWriter(brokers []string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka audit sink requires at least one broker")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, nil
}

func NewKafkaSink(w MessageWriter, topic string, drops DropCounter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		writer:  w,
		topic:   topic,
		breaker: newBreaker("audit-kafka"),
		timeout: 3 * time.Second,
		drops:   drops,
		logger:  logger.Named("audit"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

func (s *KafkaSink) Record(ctx context.Context, ev Event) {
	fill(ctx, &ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		s.drop(ev, fmt.Errorf("marshal: %w", err))
		return
	}

	// detach from request cancellation; the write has its own deadline
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.writer.WriteMessages(wctx, kafka.Message{
			Topic: s.topic,
			Key:   []byte(ev.TargetID),
			Value: payload,
			Time:  ev.OccurredAt,
		})
	})
	if err != nil {
		s.drop(ev, err)
	}
}

func (s *KafkaSink) drop(ev Event, err error) {
	if s.drops != nil {
		s.drops.IncrAuditDropped()
	}
	level := s.logger.Warn
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		level = s.logger.Debug
	}
	level("audit event dropped",
		zap.String("action", ev.Action),
		zap.String("target_id", ev.TargetID),
		zap.Error(err),
	)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
