package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	auditservice "signet/internal/audit/service"
	auditpostgres "signet/internal/audit/store/postgres"
	envelopeservice "signet/internal/envelope/service"
	envelopepostgres "signet/internal/envelope/store/postgres"
	outboxmodels "signet/internal/outbox/models"
	outboxservice "signet/internal/outbox/service"
	outboxpostgres "signet/internal/outbox/store/postgres"
	partyservice "signet/internal/party/service"
	partypostgres "signet/internal/party/store/postgres"
	"signet/internal/platform/logger"
	"signet/pkg/platform/tx"
)

var expireLimit int

var expireCmd = &cobra.Command{
	Use:   "expire-due",
	Short: "Expire envelopes whose deadline has passed",
	Long: `expire-due runs one expiry sweep. Expired envelopes get their audit
event and outbox record staged as usual; the server relay drains the
staged records to the bus.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, _, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		log := logger.New("warn")
		parties := partyservice.New(partypostgres.New(db), partyservice.WithLogger(log))
		trail := auditservice.New(auditpostgres.New(db), auditservice.WithLogger(log))
		dispatcher := outboxservice.New(outboxpostgres.New(db), refusePublisher{},
			outboxservice.WithLogger(log),
		)
		envelopes := envelopeservice.New(envelopepostgres.New(db), parties, trail, dispatcher, tx.NewSQLRunner(db),
			envelopeservice.WithLogger(log),
		)

		n, err := envelopes.ExpireDue(ctx, expireLimit)
		if err != nil {
			return fmt.Errorf("expire due: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "expired %d envelopes\n", n)
		return nil
	},
}

// refusePublisher fails every publish. The expiry sweep only stages outbox
// records, it never drains them, so nothing in this command reaches the
// publisher. The failure result is a tripwire in case that changes.
type refusePublisher struct{}

func (refusePublisher) Publish(_ context.Context, events []outboxmodels.BusEvent) []outboxmodels.PublishResult {
	results := make([]outboxmodels.PublishResult, len(events))
	for i, ev := range events {
		results[i] = outboxmodels.PublishResult{ID: ev.ID, Err: errors.New("signetctl does not publish")}
	}
	return results
}

func init() {
	expireCmd.Flags().IntVar(&expireLimit, "limit", 200, "maximum envelopes per sweep")
	rootCmd.AddCommand(expireCmd)
}
