package cli

import (
	"context"
	"fmt"
	"time"
)

// Migrator applies pending schema migrations and returns their names.
type Migrator func(ctx context.Context) ([]string, error)

// MigrateCommand runs the embedded migrations.
func MigrateCommand(ctx context.Context, migrate Migrator, opts OutputOptions) int {
	opts.defaults()
	applied, err := migrate(ctx)
	for _, name := range applied {
		_, _ = fmt.Fprintf(opts.Stdout, "applied %s\n", name)
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "migrate: %v\n", err)
		return 1
	}
	if len(applied) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "schema up to date")
	}
	return 0
}

// IdempotencyCleaner drops idempotency keys older than a retention window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupCommand prunes stale idempotency keys.
func CleanupCommand(ctx context.Context, store IdempotencyCleaner, olderThan time.Duration, opts OutputOptions) int {
	opts.defaults()
	if olderThan < time.Hour {
		_, _ = fmt.Fprintln(opts.Stderr, "idempotency cleanup: --older-than must be at least 1h")
		return 1
	}
	removed, err := store.Cleanup(ctx, olderThan)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "idempotency cleanup: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "removed %d idempotency keys older than %s\n", removed, olderThan)
	return 0
}
