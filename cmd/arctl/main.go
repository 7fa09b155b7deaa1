package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/arstatement/cmd/arctl/cli"
	"github.com/odyssey-erp/arstatement/internal/app"
	"github.com/odyssey-erp/arstatement/internal/platform/db"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

const usage = `usage: arctl <command> [flags]

commands:
  migrate                         apply pending database migrations
  jobs stats [--json]             show queue depth
  jobs sweep                      enqueue the close checklist sweep now
  runs dispatch --run ID          re-enqueue a PENDING statement run
  idempotency cleanup [--older-than 720h]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	out := cli.OutputOptions{Stdout: stdout, Stderr: stderr}

	switch command(args) {
	case "migrate":
		return withPool(ctx, cfg, stderr, func(pool *pgxpool.Pool) int {
			return cli.MigrateCommand(ctx, func(ctx context.Context) ([]string, error) {
				return db.Migrate(ctx, pool)
			}, out)
		})
	case "jobs stats":
		fs := flag.NewFlagSet("jobs stats", flag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.BoolVar(&out.JSONOutput, "json", false, "print JSON")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		return withJobs(cfg, stderr, func(jobsCLI *cli.JobsCLI) int {
			return jobsCLI.StatsCommand(out)
		})
	case "jobs sweep":
		return withJobs(cfg, stderr, func(jobsCLI *cli.JobsCLI) int {
			return jobsCLI.SweepCommand(ctx, out)
		})
	case "runs dispatch":
		fs := flag.NewFlagSet("runs dispatch", flag.ContinueOnError)
		fs.SetOutput(stderr)
		runID := fs.Int64("run", 0, "statement run id")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		return withJobs(cfg, stderr, func(jobsCLI *cli.JobsCLI) int {
			return jobsCLI.DispatchCommand(ctx, *runID, out)
		})
	case "idempotency cleanup":
		fs := flag.NewFlagSet("idempotency cleanup", flag.ContinueOnError)
		fs.SetOutput(stderr)
		olderThan := fs.Duration("older-than", 30*24*time.Hour, "retention window")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		return withPool(ctx, cfg, stderr, func(pool *pgxpool.Pool) int {
			return cli.CleanupCommand(ctx, shared.NewIdempotencyStore(pool), *olderThan, out)
		})
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
}

func command(args []string) string {
	if args[0] == "migrate" || len(args) < 2 {
		return args[0]
	}
	return args[0] + " " + args[1]
}

func withPool(ctx context.Context, cfg *app.Config, stderr io.Writer, fn func(*pgxpool.Pool) int) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "connect postgres: %v\n", err)
		return 1
	}
	defer pool.Close()
	return fn(pool)
}

func withJobs(cfg *app.Config, stderr io.Writer, fn func(*cli.JobsCLI) int) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "redis: %v\n", err)
		return 1
	}
	defer closeQuietly(jobsCLI.Close)
	return fn(jobsCLI)
}

func closeQuietly(closeFn func() error) {
	if err := closeFn(); err != nil {
		slog.Default().Warn("arctl close", slog.Any("error", err))
	}
}
