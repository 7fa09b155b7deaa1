package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/arstatement/internal/checklist"
	jobmetrics "github.com/odyssey-erp/arstatement/internal/jobs"
	"github.com/odyssey-erp/arstatement/internal/periods"
	"github.com/odyssey-erp/arstatement/internal/receivables"
	"github.com/odyssey-erp/arstatement/internal/runs"
	"github.com/odyssey-erp/arstatement/internal/shared"
	"github.com/odyssey-erp/arstatement/internal/statements"
)

// Services is the domain graph shared by the API server and the worker.
type Services struct {
	Periods     *periods.Service
	Statements  *statements.Service
	Runs        *runs.Orchestrator
	Checklist   *checklist.Service
	Idempotency *shared.IdempotencyStore
	JobMetrics  *jobmetrics.Metrics
}

// NewServices wires repositories and services. The run dispatcher is left to the
// caller: the API server enqueues or runs inline, the worker only processes.
func NewServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, registerer prometheus.Registerer) (*Services, error) {
	tolerance, err := cfg.GLTolerance()
	if err != nil {
		return nil, err
	}
	metrics := jobmetrics.NewMetrics(registerer)
	audit := shared.NewAuditLogger(pool)
	receivablesRepo := receivables.NewRepository(pool)

	periodService := periods.NewService(periods.NewRepository(pool), audit, logger)

	statementRepo := statements.NewRepository(pool)
	statementService := statements.NewService(statementRepo, logger)

	registry := checklist.NewDefaultRegistry(checklist.NewCheckSource(pool), checklist.CheckOptions{
		StrictUnknown: cfg.ChecklistStrictUnknownChecks,
		GLTolerance:   tolerance,
	})
	checklistService := checklist.NewService(checklist.NewRepository(pool), periodService, receivablesRepo, registry, logger)
	checklistService.WithAudit(audit)
	checklistService.WithMetrics(metrics)
	if cfg.CloseRequireChecklist {
		periodService.WithCloseGate(checklistService)
	}

	orchestrator := runs.NewOrchestrator(runs.NewRepository(pool), periodService, receivablesRepo, statementRepo, logger, runs.Options{
		FlushEvery:  cfg.RunProgressFlushEvery,
		Concurrency: cfg.RunConcurrency,
		LockTTL:     10 * time.Minute,
	})
	orchestrator.WithCompletionHook(checklistService)
	orchestrator.WithMetrics(metrics)
	if redisClient != nil {
		orchestrator.WithProgress(runs.NewRedisProgress(redisClient, logger))
		orchestrator.WithLocker(runs.NewRedisLocker(redisClient))
	}

	return &Services{
		Periods:     periodService,
		Statements:  statementService,
		Runs:        orchestrator,
		Checklist:   checklistService,
		Idempotency: shared.NewIdempotencyStore(pool),
		JobMetrics:  metrics,
	}, nil
}
