package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/arstatement/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueStatements carries statement run tasks so long runs do not starve periodic work.
	QueueStatements = "statements"

	// TaskStatementRun processes one persisted statement run.
	TaskStatementRun = "ar:statement-run"
	// TaskChecklistSweep re-runs automated checks across open close checklists.
	TaskChecklistSweep = "ar:checklist-sweep"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StatementRunPayload identifies the run to process.
type StatementRunPayload struct {
	RunID int64 `json:"run_id"`
}

// ChecklistSweepPayload is empty today; the sweep always covers every open checklist.
type ChecklistSweepPayload struct{}

// NewStatementRunTask constructs an Asynq task for a statement run.
func NewStatementRunTask(runID int64) (*asynq.Task, error) {
	if runID <= 0 {
		return nil, fmt.Errorf("statement run task: invalid run id %d", runID)
	}
	data, err := json.Marshal(StatementRunPayload{RunID: runID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatementRun, data, asynq.Queue(QueueStatements)), nil
}

// NewChecklistSweepTask constructs the nightly checklist sweep task.
func NewChecklistSweepTask() (*asynq.Task, error) {
	data, err := json.Marshal(ChecklistSweepPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskChecklistSweep, data, asynq.Queue(QueueDefault)), nil
}

func statementRunTaskID(runID int64) string {
	return fmt.Sprintf("statement-run-%d", runID)
}
