package checklist

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

// Phase groups steps for display; enforcement never depends on phase order.
type Phase string

const (
	PhasePreClose       Phase = "PRE_CLOSE"
	PhaseCutOff         Phase = "CUT_OFF"
	PhaseReceivables    Phase = "RECEIVABLES"
	PhaseTax            Phase = "TAX"
	PhaseReconciliation Phase = "RECONCILIATION"
	PhaseReporting      Phase = "REPORTING"
	PhaseClose          Phase = "CLOSE"
	PhaseStatements     Phase = "STATEMENTS"
)

// Enforcement decides whether a step blocks the close.
type Enforcement string

const (
	EnforcementRequired Enforcement = "REQUIRED"
	EnforcementOptional Enforcement = "OPTIONAL"
)

// Verification is the only way a step may reach a terminal status.
type Verification string

const (
	VerificationAuto         Verification = "AUTO"
	VerificationManual       Verification = "MANUAL"
	VerificationSystemAction Verification = "SYSTEM_ACTION"
)

// StepStatus tracks one step.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepPassed    StepStatus = "PASSED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
	StepSignedOff StepStatus = "SIGNED_OFF"
)

// Status of the checklist as a whole.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// FinalRunStepKey is signed off by the system when a FINAL run completes.
const FinalRunStepKey = "final_statement_run"

// CheckResult is the outcome stored on an AUTO step.
type CheckResult struct {
	Passed    bool           `json:"passed"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Step is one verification unit of a checklist.
type Step struct {
	ID           int64        `json:"id"`
	ChecklistID  int64        `json:"checklist_id"`
	Key          string       `json:"key"`
	Phase        Phase        `json:"phase"`
	Label        string       `json:"label"`
	Description  string       `json:"description,omitempty"`
	Enforcement  Enforcement  `json:"enforcement"`
	Verification Verification `json:"verification"`
	Status       StepStatus   `json:"status"`
	LastResult   *CheckResult `json:"last_result,omitempty"`
	SignedOffBy  *int64       `json:"signed_off_by,omitempty"`
	SignedOffAt  *time.Time   `json:"signed_off_at,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	SortOrder    int          `json:"sort_order"`
}

func (s Step) done() bool {
	return s.Status == StepPassed || s.Status == StepSignedOff || s.Status == StepSkipped
}

func (s Step) satisfied() bool {
	return s.Status == StepPassed || s.Status == StepSignedOff
}

// Checklist is the close checklist of one period.
type Checklist struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	PeriodID    int64      `json:"period_id"`
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Steps       []Step     `json:"steps"`
}

// Step returns a pointer into Steps for in-place mutation.
func (c *Checklist) Step(id int64) (*Step, bool) {
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return &c.Steps[i], true
		}
	}
	return nil, false
}

// DeriveStatus computes the checklist status from step statuses alone.
func DeriveStatus(steps []Step) Status {
	done := 0
	for _, s := range steps {
		if s.done() {
			done++
		}
	}
	switch {
	case done == 0:
		return StatusNotStarted
	case done < len(steps):
		return StatusInProgress
	default:
		return StatusCompleted
	}
}

// recompute applies DeriveStatus and maintains the lifecycle timestamps. A checklist
// that has started never returns to NOT_STARTED; losing every done step leaves it
// IN_PROGRESS. It reports whether anything changed.
func (c *Checklist) recompute(at time.Time) bool {
	next := DeriveStatus(c.Steps)
	if next == StatusNotStarted && c.Status != StatusNotStarted {
		next = StatusInProgress
	}
	if next == c.Status {
		return false
	}
	c.Status = next
	switch next {
	case StatusInProgress:
		if c.StartedAt == nil {
			c.StartedAt = &at
		}
		c.CompletedAt = nil
	case StatusCompleted:
		if c.StartedAt == nil {
			c.StartedAt = &at
		}
		c.CompletedAt = &at
	}
	return true
}

// Eligibility answers whether the checklist lets the period close.
type Eligibility struct {
	CanClose          bool     `json:"can_close"`
	BlockingSteps     []string `json:"blocking_steps"`
	CompletedRequired int      `json:"completed_required"`
	TotalRequired     int      `json:"total_required"`
}

// Evaluate blocks on every REQUIRED step not PASSED or SIGNED_OFF.
func Evaluate(steps []Step) Eligibility {
	out := Eligibility{BlockingSteps: []string{}}
	for _, s := range steps {
		if s.Enforcement != EnforcementRequired {
			continue
		}
		out.TotalRequired++
		if s.satisfied() {
			out.CompletedRequired++
			continue
		}
		out.BlockingSteps = append(out.BlockingSteps, s.Label)
	}
	out.CanClose = len(out.BlockingSteps) == 0
	return out
}

// SignOffInput records a manual or system sign-off.
type SignOffInput struct {
	TenantID int64  `validate:"required,gt=0"`
	StepID   int64  `validate:"required,gt=0"`
	ActorID  int64  `validate:"required,gt=0"`
	Notes    string `validate:"max=2000"`
}

// AutoCheckSummary reports a RunAllAutoChecks batch.
type AutoCheckSummary struct {
	ChecklistID int64         `json:"checklist_id"`
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Errored     int           `json:"errored"`
	Outcomes    []StepOutcome `json:"outcomes"`
	Status      Status        `json:"status"`
}

// StepOutcome is the per-step line of an AutoCheckSummary.
type StepOutcome struct {
	StepID  int64  `json:"step_id"`
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

var (
	ErrChecklistNotFound = fmt.Errorf("checklist: checklist not found: %w", shared.ErrNotFound)
	ErrStepNotFound      = fmt.Errorf("checklist: step not found: %w", shared.ErrNotFound)
	ErrChecklistExists   = fmt.Errorf("checklist: checklist already exists for period: %w", shared.ErrConflict)
	ErrPeriodClosed      = fmt.Errorf("checklist: period is closed: %w", shared.ErrConflict)
	ErrStepAlreadyDone   = fmt.Errorf("checklist: step already passed or signed off: %w", shared.ErrConflict)
	ErrAutoStepSignOff   = fmt.Errorf("checklist: automatic steps cannot be signed off: %w", shared.ErrValidation)
	ErrRequiredSkip      = fmt.Errorf("checklist: required steps cannot be skipped: %w", shared.ErrValidation)
	ErrNotAutoStep       = fmt.Errorf("checklist: step is not automatically verified: %w", shared.ErrValidation)
	ErrInvalidTemplate   = fmt.Errorf("checklist: invalid template: %w", shared.ErrValidation)
)
