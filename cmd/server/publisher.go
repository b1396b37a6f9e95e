package main

import (
	"context"
	"log/slog"

	"signet/internal/outbox/models"
)

// logPublisher stands in for the event bus when no brokers are configured.
// It acknowledges every event after writing it to the log, so lifecycle
// flows and the outbox drain keep working in development without Kafka.
type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Publish(ctx context.Context, events []models.BusEvent) []models.PublishResult {
	results := make([]models.PublishResult, len(events))
	for i, ev := range events {
		p.logger.InfoContext(ctx, "envelope event",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"envelope_key", ev.Key,
			"occurred_at", ev.OccurredAt,
		)
		results[i] = models.PublishResult{ID: ev.ID}
	}
	return results
}
