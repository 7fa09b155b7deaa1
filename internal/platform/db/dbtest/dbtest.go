//go:build integration

// Package dbtest gives integration tests a migrated Postgres schema of their own.
// Tests skip unless PG_TEST_DSN points at a database the caller may create schemas in.
package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/arstatement/internal/platform/db"
)

// DSNEnv names the connection string variable.
const DSNEnv = "PG_TEST_DSN"

// Pool returns a pool whose search_path is a fresh schema with every migration
// applied. The schema is dropped when the test ends.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", DSNEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(admin.Close)

	// Extensions are database-wide; keep them in public so every schema sees them.
	_, err = admin.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS btree_gist WITH SCHEMA public`)
	require.NoError(t, err)
	schema := "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, `CREATE SCHEMA `+schema)
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"
	cfg.MaxConns = 16
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
	})

	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)
	return pool
}

// SeedPeriod inserts an OPEN March 2024 period for tenantID and returns its id.
func SeedPeriod(t *testing.T, pool *pgxpool.Pool, tenantID int64) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `INSERT INTO statement_periods
	(tenant_id, year, sequence, label, start_date, end_date, cutoff_date, created_by)
VALUES ($1, 2024, 3, 'March 2024', '2024-03-01', '2024-03-31', '2024-04-02', 1) RETURNING id`, tenantID).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedRun inserts a PENDING run of runType under periodID and returns its id.
func SeedRun(t *testing.T, pool *pgxpool.Pool, tenantID, periodID int64, runType string, runNumber int) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `INSERT INTO statement_runs
	(tenant_id, period_id, run_type, run_number, started_by)
VALUES ($1, $2, $3, $4, 1) RETURNING id`, tenantID, periodID, runType, runNumber).Scan(&id)
	require.NoError(t, err)
	return id
}

// Race runs fn n times at once and returns each call's error by index.
func Race(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	start := make(chan struct{})
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			<-start
			errs[i] = fn(i)
		}()
	}
	close(start)
	for i := 0; i < n; i++ {
		<-done
	}
	return errs
}
