// Package periods manages statement periods: billing windows that are opened, closed and reopened.
package periods

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

// PeriodStatus enumerates statement period lifecycle stages.
type PeriodStatus string

const (
	PeriodStatusOpen     PeriodStatus = "OPEN"
	PeriodStatusClosed   PeriodStatus = "CLOSED"
	PeriodStatusReopened PeriodStatus = "REOPENED"
)

// Rollup carries period totals copied from the final run at close.
type Rollup struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	TotalDebits    decimal.Decimal `json:"total_debits"`
	TotalCredits   decimal.Decimal `json:"total_credits"`
}

// Period is one billing cycle for a tenant.
type Period struct {
	ID           int64        `json:"id"`
	TenantID     int64        `json:"tenant_id"`
	Year         int          `json:"year"`
	Sequence     int          `json:"sequence"`
	Label        string       `json:"label"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	CutoffDate   time.Time    `json:"cutoff_date"`
	Status       PeriodStatus `json:"status"`
	ClosedBy     *int64       `json:"closed_by,omitempty"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
	ReopenedBy   *int64       `json:"reopened_by,omitempty"`
	ReopenedAt   *time.Time   `json:"reopened_at,omitempty"`
	ReopenReason string       `json:"reopen_reason,omitempty"`
	Rollup       *Rollup      `json:"rollup,omitempty"`
	CreatedBy    int64        `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// AcceptsRuns reports whether new statement runs may target the period.
func (p Period) AcceptsRuns() bool {
	return p.Status == PeriodStatusOpen || p.Status == PeriodStatusReopened
}

// Window returns the transaction window [start, cutoff].
func (p Period) Window() (time.Time, time.Time) {
	return p.StartDate, p.CutoffDate
}

// CreatePeriodInput captures the payload to open a new period.
type CreatePeriodInput struct {
	TenantID   int64     `json:"-" validate:"required,gt=0"`
	Year       int       `json:"year" validate:"required,gte=2000,lte=2999"`
	Sequence   int       `json:"sequence" validate:"required,gte=1,lte=99"`
	Label      string    `json:"label" validate:"required,max=120"`
	StartDate  time.Time `json:"start_date" validate:"required"`
	EndDate    time.Time `json:"end_date" validate:"required"`
	CutoffDate time.Time `json:"cutoff_date" validate:"required"`
	ActorID    int64     `json:"-" validate:"required,gt=0"`
}

// UpdateDatesInput patches the mutable fields of an OPEN period.
type UpdateDatesInput struct {
	TenantID   int64      `json:"-"`
	PeriodID   int64      `json:"-"`
	Label      *string    `json:"label,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	CutoffDate *time.Time `json:"cutoff_date,omitempty"`
}

// ListFilter narrows period listings.
type ListFilter struct {
	TenantID int64
	Year     int
	Status   PeriodStatus
	Limit    int
	Offset   int
}

var (
	ErrPeriodNotFound       = fmt.Errorf("periods: period not found: %w", shared.ErrNotFound)
	ErrPeriodOverlap        = fmt.Errorf("periods: period overlaps an existing period: %w", shared.ErrConflict)
	ErrDuplicateSequence    = fmt.Errorf("periods: sequence already used for year: %w", shared.ErrConflict)
	ErrPeriodClosed         = fmt.Errorf("periods: period is closed: %w", shared.ErrConflict)
	ErrPeriodNotOpen        = fmt.Errorf("periods: period is not open: %w", shared.ErrConflict)
	ErrPeriodNotClosed      = fmt.Errorf("periods: period is not closed: %w", shared.ErrConflict)
	ErrNoCompletedFinalRun  = fmt.Errorf("periods: no completed final run for period: %w", shared.ErrConflict)
	ErrPeriodHasRuns        = fmt.Errorf("periods: period has statement runs: %w", shared.ErrConflict)
	ErrChecklistIncomplete  = fmt.Errorf("periods: close checklist incomplete: %w", shared.ErrConflict)
	ErrInvalidDateOrder     = fmt.Errorf("periods: start must precede end and cutoff must not precede end: %w", shared.ErrValidation)
	ErrReopenReasonRequired = fmt.Errorf("periods: reopen reason required: %w", shared.ErrValidation)
	ErrActorRequired        = fmt.Errorf("periods: actor required: %w", shared.ErrValidation)
)

// ValidateOrdering enforces start < end <= cutoff.
func ValidateOrdering(start, end, cutoff time.Time) error {
	if !start.Before(end) || cutoff.Before(end) {
		return ErrInvalidDateOrder
	}
	return nil
}

// Overlaps reports whether the inclusive ranges [aStart,aEnd] and [bStart,bEnd] intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

func overlapError(conflict Period) error {
	return fmt.Errorf("%w: %s (%s to %s)", ErrPeriodOverlap, conflict.Label,
		conflict.StartDate.Format(time.DateOnly), conflict.EndDate.Format(time.DateOnly))
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
