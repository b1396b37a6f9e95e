package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	outboxkafka "signet/internal/outbox/kafka"
	outboxservice "signet/internal/outbox/service"
	outboxpostgres "signet/internal/outbox/store/postgres"
	"signet/internal/platform/logger"
)

var redispatchLimit int

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Operate on the event outbox",
}

var redispatchCmd = &cobra.Command{
	Use:   "redispatch",
	Short: "Re-publish failed outbox records past the retry ceiling",
	Long: `redispatch picks up records the automatic retries gave up on and
publishes them to the bus again. It publishes directly, so the Kafka
brokers must be configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, cfg, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("SIGNET_KAFKA_BROKERS is required, redispatch publishes to the bus")
		}

		log := logger.New(cfg.Server.LogLevel)
		client, err := outboxkafka.NewClient(cfg.Kafka.Brokers, "signetctl")
		if err != nil {
			return fmt.Errorf("kafka client: %w", err)
		}
		defer client.Close()

		publisher := outboxkafka.New(client, cfg.Kafka.Topic, outboxkafka.WithLogger(log))
		dispatcher := outboxservice.New(outboxpostgres.New(db), publisher,
			outboxservice.WithLogger(log),
			outboxservice.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		)

		n, err := dispatcher.RedispatchFailed(ctx, redispatchLimit)
		if err != nil {
			return fmt.Errorf("redispatch: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "redispatched %d records\n", n)
		return nil
	},
}

func init() {
	redispatchCmd.Flags().IntVar(&redispatchLimit, "limit", 50, "maximum records per run")
	outboxCmd.AddCommand(redispatchCmd)
	rootCmd.AddCommand(outboxCmd)
}
