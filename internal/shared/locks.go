package shared

import "fmt"

// StatementRunLockKey builds the redis key guarding a single run from concurrent processing.
func StatementRunLockKey(runID int64) string {
	return fmt.Sprintf("ar:run:%d:lock", runID)
}

// RunProgressChannel names the pub/sub channel carrying progress for one run.
func RunProgressChannel(runID int64) string {
	return fmt.Sprintf("ar:statement-run:%d:progress", runID)
}
