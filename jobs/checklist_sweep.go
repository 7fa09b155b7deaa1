package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/arstatement/internal/jobs"
)

// ChecklistSweeper runs automated checks over every open checklist.
type ChecklistSweeper interface {
	SweepAutoChecks(ctx context.Context) (int, error)
}

// ChecklistSweepJob is the cron-driven checklist sweep.
type ChecklistSweepJob struct {
	Sweeper ChecklistSweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewChecklistSweepJob constructs the job handler.
func NewChecklistSweepJob(sweeper ChecklistSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *ChecklistSweepJob {
	return &ChecklistSweepJob{
		Sweeper: sweeper,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep.
func (j *ChecklistSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("checklist sweep: dependencies not configured")
	}
	tracker := j.metrics().Track(TaskChecklistSweep)
	start := j.now()
	visited, err := j.Sweeper.SweepAutoChecks(ctx)
	if err != nil {
		j.log().Error("sweep checklists", slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("swept close checklists", slog.Int("checklists", visited), slog.Duration("duration", j.now().Sub(start)))
	return tracker.End(nil)
}

func (j *ChecklistSweepJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ChecklistSweepJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskChecklistSweep))
	}
	return slog.Default().With(slog.String("job", TaskChecklistSweep))
}

func (j *ChecklistSweepJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ChecklistSweepJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
