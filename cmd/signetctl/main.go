package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"signet/internal/platform/config"
)

var rootCmd = &cobra.Command{
	Use:   "signetctl",
	Short: "Operations tooling for the signet e-signature service",
	Long: `signetctl runs next to the signet server against the same storage.
It replays audit chains, re-publishes failed outbox records, and expires
overdue envelopes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openDB loads env configuration and connects to Postgres. Every signetctl
// command works on live storage, so a DSN is mandatory.
func openDB(ctx context.Context) (*sql.DB, config.Config, error) {
	cfg := config.FromEnv()
	if cfg.Postgres.DSN == "" {
		return nil, cfg, errors.New("SIGNET_POSTGRES_DSN is required")
	}

	db, err := sql.Open("pgx", cfg.Postgres.DSN)
	if err != nil {
		return nil, cfg, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, cfg, fmt.Errorf("ping postgres: %w", err)
	}
	return db, cfg, nil
}
