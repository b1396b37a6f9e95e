// Package migrations carries the database schema as embedded SQL files.
// Every statement is idempotent, so applying the set repeatedly converges
// and a partially migrated database heals on the next run.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"embed"
)

//go:embed *.sql
var files embed.FS

// Apply executes every migration file in lexical order.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
