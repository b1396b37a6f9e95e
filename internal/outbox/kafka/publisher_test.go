package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"signet/internal/outbox/models"
	"signet/pkg/platform/circuit"
)

// fakeProducer returns results in reverse submission order, the way a real
// client may complete them, and fails records whose key is in failKeys.
type fakeProducer struct {
	mu       sync.Mutex
	batches  [][]*kgo.Record
	failKeys map[string]bool
	failAll  bool
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, rs)

	results := make(kgo.ProduceResults, 0, len(rs))
	for i := len(rs) - 1; i >= 0; i-- {
		var err error
		if p.failAll || p.failKeys[string(rs[i].Key)] {
			err = errors.New("broker down")
		}
		results = append(results, kgo.ProduceResult{Record: rs[i], Err: err})
	}
	return results
}

func (p *fakeProducer) produced() []*kgo.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []*kgo.Record
	for _, b := range p.batches {
		all = append(all, b...)
	}
	return all
}

type PublisherSuite struct {
	suite.Suite
	producer  *fakeProducer
	publisher *Publisher
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.producer = &fakeProducer{failKeys: map[string]bool{}}
	s.publisher = New(s.producer, "signet.envelope-events")
}

func newBusEvent(key, eventType string) models.BusEvent {
	return models.BusEvent{
		ID:         uuid.New(),
		Key:        key,
		Type:       eventType,
		Payload:    []byte(`{"status":"sent"}`),
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		TraceID:    "4bf92f3577b34da6a3ce929d0e0e4736",
	}
}

func (s *PublisherSuite) TestPublish() {
	ctx := context.Background()
	events := []models.BusEvent{
		newBusEvent("env-a", "envelope.sent"),
		newBusEvent("env-b", "party.signed"),
	}

	results := s.publisher.Publish(ctx, events)
	s.Require().Len(results, 2)
	for i, r := range results {
		s.Equal(events[i].ID, r.ID)
		s.NoError(r.Err)
	}

	records := s.producer.produced()
	s.Require().Len(records, 2)
	s.Equal("signet.envelope-events", records[0].Topic)
	s.Equal([]byte("env-a"), records[0].Key)
	s.JSONEq(`{"status":"sent"}`, string(records[0].Value))
	s.True(records[0].Timestamp.Equal(events[0].OccurredAt))

	headers := map[string]string{}
	for _, h := range records[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	s.Equal("envelope.sent", headers["event_type"])
	s.Equal("4bf92f3577b34da6a3ce929d0e0e4736", headers["trace_id"])
}

func (s *PublisherSuite) TestPublishEmptyBatch() {
	s.Nil(s.publisher.Publish(context.Background(), nil))
	s.Empty(s.producer.batches)
}

func (s *PublisherSuite) TestResultsCorrelateAcrossCompletionOrder() {
	ctx := context.Background()
	events := []models.BusEvent{
		newBusEvent("env-a", "envelope.sent"),
		newBusEvent("env-b", "party.signed"),
		newBusEvent("env-c", "envelope.completed"),
	}
	s.producer.failKeys["env-b"] = true

	results := s.publisher.Publish(ctx, events)
	s.Require().Len(results, 3)
	s.NoError(results[0].Err)
	s.Error(results[1].Err)
	s.NoError(results[2].Err)
	s.Equal(events[1].ID, results[1].ID)
}

func (s *PublisherSuite) TestOpenBreakerShedsAllButProbe() {
	ctx := context.Background()
	breaker := circuit.New("kafka", circuit.WithFailureThreshold(1))
	s.publisher = New(s.producer, "signet.envelope-events", WithBreaker(breaker))

	s.producer.failAll = true
	s.publisher.Publish(ctx, []models.BusEvent{newBusEvent("env-a", "envelope.sent")})
	s.Require().True(breaker.IsOpen())

	events := []models.BusEvent{
		newBusEvent("env-a", "envelope.sent"),
		newBusEvent("env-b", "party.signed"),
		newBusEvent("env-c", "envelope.completed"),
	}
	results := s.publisher.Publish(ctx, events)
	s.Require().Len(results, 3)

	s.Run("only the probe reaches the broker", func() {
		last := s.producer.batches[len(s.producer.batches)-1]
		s.Require().Len(last, 1)
		s.Equal([]byte("env-a"), last[0].Key)
	})

	s.Run("shed events report ErrShed", func() {
		s.Error(results[0].Err)
		s.False(errors.Is(results[0].Err, ErrShed), "the probe fails with the broker error, not ErrShed")
		s.True(errors.Is(results[1].Err, ErrShed))
		s.True(errors.Is(results[2].Err, ErrShed))
	})
}

func (s *PublisherSuite) TestBreakerClosesAfterSuccessfulProbes() {
	ctx := context.Background()
	breaker := circuit.New("kafka",
		circuit.WithFailureThreshold(1),
		circuit.WithSuccessThreshold(2),
	)
	s.publisher = New(s.producer, "signet.envelope-events", WithBreaker(breaker))

	s.producer.failAll = true
	s.publisher.Publish(ctx, []models.BusEvent{newBusEvent("env-a", "envelope.sent")})
	s.Require().True(breaker.IsOpen())

	s.producer.failAll = false
	for range 2 {
		results := s.publisher.Publish(ctx, []models.BusEvent{newBusEvent("env-a", "envelope.sent")})
		s.Require().NoError(results[0].Err)
	}
	s.Require().False(breaker.IsOpen())

	events := []models.BusEvent{
		newBusEvent("env-a", "envelope.sent"),
		newBusEvent("env-b", "party.signed"),
	}
	results := s.publisher.Publish(ctx, events)
	s.Require().Len(results, 2)
	s.NoError(results[0].Err)
	s.NoError(results[1].Err)

	last := s.producer.batches[len(s.producer.batches)-1]
	s.Len(last, 2)
}
