package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"signet/internal/outbox/metrics"
	"signet/internal/outbox/models"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

const defaultBatchSize = 50

// Store persists outbox records. Stage must participate in the ambient
// transaction when the context carries one; the status marks are conditional
// updates that never move a dispatched record.
type Store interface {
	Stage(ctx context.Context, records ...*models.Record) error
	ListDispatchable(ctx context.Context, maxAttempts int, limit int) ([]models.Record, error)
	ListFailed(ctx context.Context, limit int) ([]models.Record, error)
	MarkDispatched(ctx context.Context, recordID uuid.UUID) error
	MarkFailed(ctx context.Context, recordID uuid.UUID, lastError string) error
}

// Publisher delivers events to the bus and reports a per-event outcome, so
// one event's failure never hides its siblings' acknowledgements.
type Publisher interface {
	Publish(ctx context.Context, events []models.BusEvent) []models.PublishResult
}

// Dispatcher stages records inside lifecycle transactions and drains them to
// the bus. Publish failures are recorded on the failing record and retried
// up to the attempts ceiling; beyond it records stay failed for operator
// redispatch.
type Dispatcher struct {
	store       Store
	publisher   Publisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

type Option func(d *Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithMaxAttempts sets the automatic retry ceiling for failed records.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// New constructs a Dispatcher.
func New(store Store, publisher Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store, publisher: publisher, maxAttempts: 5}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stage normalizes and persists records as pending, inside the caller's
// transaction when the context carries one. The trace id of the active span
// rides along so bus consumers can join the producing request.
func (d *Dispatcher) Stage(ctx context.Context, records ...*models.Record) error {
	now := requestcontext.Now(ctx)
	for _, r := range records {
		if r.EventType == "" {
			return dErrors.New(dErrors.CodeValidation, "outbox record requires an event type")
		}
		if len(r.Payload) == 0 {
			return dErrors.New(dErrors.CodeValidation, "outbox record requires a payload")
		}
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.OccurredAt.IsZero() {
			r.OccurredAt = now
		}
		if r.TraceID == "" {
			r.TraceID = traceIDFromContext(ctx)
		}
		r.Status = models.StatusPending
		r.Attempts = 0
		r.CreatedAt = now
	}

	if err := d.store.Stage(ctx, records...); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to stage outbox records")
	}
	for _, r := range records {
		d.metrics.IncrementStaged(r.EventType)
	}
	return nil
}

// DispatchPending publishes one batch of dispatchable records: pending ones
// plus failed ones still below the attempts ceiling. It returns how many the
// bus acknowledged; per-record failures are recorded, not propagated.
func (d *Dispatcher) DispatchPending(ctx context.Context, maxBatch int) (int, error) {
	if maxBatch <= 0 {
		maxBatch = defaultBatchSize
	}
	records, err := d.store.ListDispatchable(ctx, d.maxAttempts, maxBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list dispatchable records")
	}
	return d.dispatch(ctx, records), nil
}

// RedispatchFailed publishes failed records regardless of the attempts
// ceiling. This is the operator path for records the automatic retries gave
// up on.
func (d *Dispatcher) RedispatchFailed(ctx context.Context, maxBatch int) (int, error) {
	if maxBatch <= 0 {
		maxBatch = defaultBatchSize
	}
	records, err := d.store.ListFailed(ctx, maxBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list failed records")
	}
	return d.dispatch(ctx, records), nil
}

// ProcessImmediately handles one change-stream image of an outbox row.
// Malformed records are skipped with a warning so a poison entry cannot
// stall the stream; publish failures are recorded on the row and picked up
// by the polling path.
func (d *Dispatcher) ProcessImmediately(ctx context.Context, raw json.RawMessage) error {
	var record models.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		d.warn(ctx, "skipping malformed outbox stream record", "error", err)
		d.metrics.IncrementSkipped()
		return nil
	}
	if record.ID == uuid.Nil || record.EventType == "" {
		d.warn(ctx, "skipping outbox stream record with missing identity",
			"record_id", record.ID, "event_type", record.EventType)
		d.metrics.IncrementSkipped()
		return nil
	}
	if record.Status != models.StatusPending {
		// Replays and status-update images have already been handled.
		return nil
	}
	d.dispatch(ctx, []models.Record{record})
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, records []models.Record) int {
	if len(records) == 0 {
		return 0
	}
	start := time.Now()

	events := make([]models.BusEvent, 0, len(records))
	byID := make(map[uuid.UUID]models.Record, len(records))
	for _, r := range records {
		events = append(events, r.BusEvent())
		byID[r.ID] = r
	}

	dispatched := 0
	for _, result := range d.publisher.Publish(ctx, events) {
		record, ok := byID[result.ID]
		if !ok {
			continue
		}
		if result.Err != nil {
			d.metrics.IncrementFailed(record.EventType)
			d.warn(ctx, "outbox publish failed",
				"record_id", record.ID,
				"event_type", record.EventType,
				"attempts", record.Attempts+1,
				"error", result.Err,
			)
			if err := d.store.MarkFailed(ctx, record.ID, result.Err.Error()); err != nil {
				d.warn(ctx, "failed to mark outbox record failed", "record_id", record.ID, "error", err)
			}
			continue
		}
		if err := d.store.MarkDispatched(ctx, record.ID); err != nil {
			// The bus has the event; the next cycle re-marks or re-sends.
			// At-least-once is the contract under failure.
			d.warn(ctx, "failed to mark outbox record dispatched", "record_id", record.ID, "error", err)
			continue
		}
		d.metrics.IncrementDispatched(record.EventType)
		dispatched++
	}

	d.metrics.ObserveCycleLatency(time.Since(start))
	return dispatched
}

func (d *Dispatcher) warn(ctx context.Context, msg string, args ...any) {
	if d.logger != nil {
		d.logger.WarnContext(ctx, msg, args...)
	}
}

func traceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
