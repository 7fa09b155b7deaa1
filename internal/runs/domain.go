// Package runs drives statement runs: batch generation of statements for a period.
package runs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/arstatement/internal/shared"
	"github.com/odyssey-erp/arstatement/internal/statements"
)

// RunType aliases the generation mode shared with the statement generator.
type RunType = statements.RunType

const (
	RunTypePreview = statements.RunTypePreview
	RunTypeFinal   = statements.RunTypeFinal
)

// RunStatus captures the lifecycle of a statement run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusCancelled  RunStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunError is one entry of the run's error log.
type RunError struct {
	ProfileID int64  `json:"profile_id"`
	Message   string `json:"message"`
}

// Totals are the arithmetic sums across generated statements.
type Totals struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Debits         decimal.Decimal `json:"debits"`
	Credits        decimal.Decimal `json:"credits"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// Progress is the mutable counter snapshot of a run.
type Progress struct {
	Processed int        `json:"processed_count"`
	Generated int        `json:"generated_count"`
	Skipped   int        `json:"skipped_count"`
	Errors    []RunError `json:"errors"`
	Totals    Totals     `json:"totals"`
}

// ErrorCount returns the number of logged profile errors.
func (p Progress) ErrorCount() int {
	return len(p.Errors)
}

// Run is one execution of the generation batch against a period.
type Run struct {
	ID            int64      `json:"id"`
	TenantID      int64      `json:"tenant_id"`
	PeriodID      int64      `json:"period_id"`
	RunType       RunType    `json:"run_type"`
	RunNumber     int        `json:"run_number"`
	Status        RunStatus  `json:"status"`
	ProfileIDs    []int64    `json:"profile_ids"`
	TotalProfiles int        `json:"total_profiles"`
	Progress      Progress   `json:"progress"`
	StartedBy     int64      `json:"started_by"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	SupersededAt  *time.Time `json:"superseded_at,omitempty"`
}

// StartInput requests a new run.
type StartInput struct {
	TenantID   int64   `json:"-" validate:"required,gt=0"`
	PeriodID   int64   `json:"-" validate:"required,gt=0"`
	RunType    RunType `json:"run_type" validate:"required,oneof=PREVIEW FINAL"`
	ProfileIDs []int64 `json:"profile_ids" validate:"omitempty,dive,gt=0"`
	ActorID    int64   `json:"-" validate:"required,gt=0"`
}

// ProgressEvent is published on the run's progress channel.
type ProgressEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	RunID     int64     `json:"run_id"`
	Status    RunStatus `json:"status"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Generated int       `json:"generated"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	At        time.Time `json:"at"`
}

// NewProgressEvent snapshots a run for observers.
func NewProgressEvent(run Run, at time.Time) ProgressEvent {
	return ProgressEvent{
		EventID:   uuid.New(),
		RunID:     run.ID,
		Status:    run.Status,
		Processed: run.Progress.Processed,
		Total:     run.TotalProfiles,
		Generated: run.Progress.Generated,
		Skipped:   run.Progress.Skipped,
		Errors:    run.Progress.ErrorCount(),
		At:        at,
	}
}

var (
	ErrRunNotFound       = fmt.Errorf("runs: run not found: %w", shared.ErrNotFound)
	ErrFinalRunExists    = fmt.Errorf("runs: completed final run already exists: %w", shared.ErrConflict)
	ErrFinalRunActive    = fmt.Errorf("runs: final run already in progress: %w", shared.ErrConflict)
	ErrPeriodNotRunnable = fmt.Errorf("runs: period is closed: %w", shared.ErrConflict)
	ErrRunNotCancellable = fmt.Errorf("runs: run is not pending or in progress: %w", shared.ErrConflict)
	ErrRunLocked         = fmt.Errorf("runs: run is being processed elsewhere: %w", shared.ErrConflict)
)

// ErrRunTerminal marks processing failures after the run left PENDING; retrying cannot help.
var ErrRunTerminal = errors.New("runs: run aborted")

// resolveStatus applies the completion rule: FAILED only when nothing was generated and errors occurred.
func resolveStatus(p Progress) RunStatus {
	if p.ErrorCount() > 0 && p.Generated == 0 {
		return RunStatusFailed
	}
	return RunStatusCompleted
}
