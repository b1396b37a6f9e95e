// Package kafka delivers outbox events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"signet/internal/outbox/metrics"
	"signet/internal/outbox/models"
	"signet/pkg/platform/circuit"
)

// ErrShed marks events dropped from a batch while the broker circuit is
// open. Shed events stay failed in the outbox and are retried later.
var ErrShed = errors.New("kafka circuit open: event shed")

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher produces bus events to a single topic, keyed by envelope so all
// events of one envelope land on the same partition in order. A circuit
// breaker guards the broker: while open, only the first event of each batch
// is produced as a probe and the rest are shed.
type Publisher struct {
	producer producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for delivery problems.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithBreaker replaces the default breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

// New creates a publisher for the given topic. The producer is satisfied by
// *kgo.Client.
func New(producer producer, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("kafka"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish produces the events synchronously and reports a result per event,
// in input order. Failed deliveries are reported per event rather than
// failing the batch, so the caller can mark each record individually.
func (p *Publisher) Publish(ctx context.Context, events []models.BusEvent) []models.PublishResult {
	if len(events) == 0 {
		return nil
	}

	toSend := events
	shed := 0
	if p.breaker.IsOpen() {
		// Probe with the first event only. Its outcome drives the
		// breaker; everything else waits for the next cycle.
		toSend = events[:1]
		shed = len(events) - 1
		if shed > 0 {
			p.warn(ctx, "kafka circuit open, shedding batch", "shed", shed)
			for range shed {
				p.metrics.IncrementShed()
			}
		}
	}

	records := make([]*kgo.Record, 0, len(toSend))
	eventIDs := make(map[*kgo.Record]uuid.UUID, len(toSend))
	for _, e := range toSend {
		rec := p.record(e)
		records = append(records, rec)
		eventIDs[rec] = e.ID
	}

	// ProduceSync reports results in completion order, not submission
	// order; correlate through the record pointers.
	outcome := make(map[uuid.UUID]error, len(toSend))
	for _, res := range p.producer.ProduceSync(ctx, records...) {
		id, ok := eventIDs[res.Record]
		if !ok {
			continue
		}
		outcome[id] = res.Err
		if res.Err != nil {
			p.warn(ctx, "kafka produce failed", "event_id", id, "error", res.Err)
			if _, change := p.breaker.RecordFailure(); change.Opened {
				p.warn(ctx, "kafka circuit opened")
			}
			continue
		}
		if _, change := p.breaker.RecordSuccess(); change.Closed {
			p.info(ctx, "kafka circuit closed")
		}
	}

	results := make([]models.PublishResult, 0, len(events))
	for i, e := range events {
		if i >= len(toSend) {
			results = append(results, models.PublishResult{ID: e.ID, Err: ErrShed})
			continue
		}
		err, ok := outcome[e.ID]
		if !ok {
			err = fmt.Errorf("no produce result for event %s", e.ID)
		}
		results = append(results, models.PublishResult{ID: e.ID, Err: err})
	}
	return results
}

func (p *Publisher) record(e models.BusEvent) *kgo.Record {
	headers := []kgo.RecordHeader{
		{Key: "event_type", Value: []byte(e.Type)},
	}
	if e.TraceID != "" {
		headers = append(headers, kgo.RecordHeader{Key: "trace_id", Value: []byte(e.TraceID)})
	}
	return &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(e.Key),
		Value:     e.Payload,
		Headers:   headers,
		Timestamp: e.OccurredAt,
	}
}

func (p *Publisher) warn(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.WarnContext(ctx, msg, args...)
	}
}

func (p *Publisher) info(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.InfoContext(ctx, msg, args...)
	}
}

// NewClient connects to the brokers with durable produce settings.
func NewClient(brokers []string, clientID string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
