package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/arstatement/internal/app"
	checklisthttp "github.com/odyssey-erp/arstatement/internal/checklist/http"
	"github.com/odyssey-erp/arstatement/internal/observability"
	periodshttp "github.com/odyssey-erp/arstatement/internal/periods/http"
	"github.com/odyssey-erp/arstatement/internal/platform/cache"
	"github.com/odyssey-erp/arstatement/internal/platform/db"
	"github.com/odyssey-erp/arstatement/internal/runs"
	runshttp "github.com/odyssey-erp/arstatement/internal/runs/http"
	statementshttp "github.com/odyssey-erp/arstatement/internal/statements/http"
	"github.com/odyssey-erp/arstatement/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services, err := app.NewServices(cfg, logger, pool, redisClient, metrics.Registerer())
	if err != nil {
		logger.Error("wire services", slog.Any("error", err))
		os.Exit(1)
	}

	var (
		inspector *asynq.Inspector
		inline    *runs.InlineDispatcher
	)
	redisOpts, err := cache.QueueOptions(cfg.RedisAddr)
	if err != nil {
		logger.Error("queue options", slog.Any("error", err))
		os.Exit(1)
	}
	switch cfg.RunDispatch {
	case app.DispatchInline:
		inline = runs.NewInlineDispatcher(services.Runs, logger)
		services.Runs.WithDispatcher(inline)
	default:
		queue := jobs.NewClient(redisOpts)
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("queue client close", slog.Any("error", err))
			}
		}()
		services.Runs.WithDispatcher(queue)
		inspector = asynq.NewInspector(redisOpts)
		defer func() {
			_ = inspector.Close()
		}()
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		PeriodHandler:    periodshttp.NewHandler(logger, services.Periods),
		RunHandler:       runshttp.NewHandler(logger, services.Runs, services.Statements, services.Idempotency).WithStartRateLimit(cfg.RateLimitRunsPerMinute),
		StatementHandler: statementshttp.NewHandler(logger, services.Statements),
		ChecklistHandler: checklisthttp.NewHandler(logger, services.Checklist),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		HealthChecks: map[string]app.HealthCheck{
			"postgres": pool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.AppAddr), slog.String("run_dispatch", cfg.RunDispatch))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
	if inline != nil {
		logger.Info("waiting for inline statement runs")
		inline.Wait()
	}
}
