package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/arstatement/internal/jobs"
	"github.com/odyssey-erp/arstatement/internal/runs"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

// StatementRunJob executes queued statement runs through the orchestrator.
type StatementRunJob struct {
	Processor runs.Processor
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewStatementRunJob constructs the job handler.
func NewStatementRunJob(processor runs.Processor, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatementRunJob {
	return &StatementRunJob{Processor: processor, Logger: logger, Metrics: metrics}
}

// Handle processes a TaskStatementRun task. Business outcomes are final: once a run
// left PENDING, or when it no longer exists, the task is not retried.
func (j *StatementRunJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Processor == nil {
		return errors.New("statement run: processor not configured")
	}
	var payload StatementRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.RunID <= 0 {
		j.log().Error("invalid statement run payload", slog.String("payload", string(task.Payload())))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStatementRun)
	err := j.Processor.Process(ctx, payload.RunID)
	if err == nil {
		return tracker.End(nil)
	}
	j.log().Error("statement run", slog.Int64("run_id", payload.RunID), slog.Any("error", err))
	if errors.Is(err, runs.ErrRunTerminal) || errors.Is(err, shared.ErrNotFound) {
		return tracker.End(fmt.Errorf("statement run %d: %v: %w", payload.RunID, err, asynq.SkipRetry))
	}
	return tracker.End(err)
}

func (j *StatementRunJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatementRunJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatementRun))
	}
	return slog.Default().With(slog.String("job", TaskStatementRun))
}
