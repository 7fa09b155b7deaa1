package periods

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/arstatement/internal/platform/db"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

// Repository defines period data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, tenantID, id int64) (Period, error)
	List(ctx context.Context, filter ListFilter) ([]Period, error)
	FindByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error)
}

// TxRepository defines operations executed inside a period transaction.
type TxRepository interface {
	// LockTenant serialises period creation and date edits within a tenant.
	LockTenant(ctx context.Context, tenantID int64) error
	LoadForUpdate(ctx context.Context, tenantID, id int64) (Period, error)
	// RangeConflict returns the first period overlapping [start,end], ignoring excludeID.
	RangeConflict(ctx context.Context, tenantID int64, start, end time.Time, excludeID int64) (*Period, error)
	SequenceExists(ctx context.Context, tenantID int64, year, sequence int) (bool, error)
	Insert(ctx context.Context, p Period) (Period, error)
	UpdateDates(ctx context.Context, p Period) error
	// CurrentFinalRunTotals returns totals of the COMPLETED, non-superseded FINAL run.
	CurrentFinalRunTotals(ctx context.Context, periodID int64) (Rollup, bool, error)
	MarkClosed(ctx context.Context, periodID int64, rollup Rollup, actorID int64, at time.Time) error
	MarkReopened(ctx context.Context, periodID int64, reason string, actorID int64, at time.Time) error
	SupersedeFinalRuns(ctx context.Context, periodID int64, at time.Time) error
	CountRuns(ctx context.Context, periodID int64) (int, error)
	Delete(ctx context.Context, periodID int64) error
}

// AuditRecorder persists audit entries for period transitions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CloseGate decides whether the close checklist allows a period to close.
type CloseGate interface {
	CanClosePeriodFor(ctx context.Context, tenantID, periodID int64) (bool, []string, error)
}

// Service orchestrates the statement period lifecycle.
type Service struct {
	repo   Repository
	audit  AuditRecorder
	gate   CloseGate
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithCloseGate makes close additionally require checklist readiness.
func (s *Service) WithCloseGate(gate CloseGate) {
	s.gate = gate
}

// GetPeriod returns a single period.
func (s *Service) GetPeriod(ctx context.Context, tenantID, id int64) (Period, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// ListPeriods returns paginated periods for the tenant.
func (s *Service) ListPeriods(ctx context.Context, filter ListFilter) ([]Period, error) {
	filter.Limit, filter.Offset = shared.NormalizePage(filter.Limit, filter.Offset)
	return s.repo.List(ctx, filter)
}

// FindByDate returns the period whose [start,end] covers date.
func (s *Service) FindByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	return s.repo.FindByDate(ctx, tenantID, truncateDate(date))
}

// CreatePeriod inserts a new OPEN period after validating ordering, uniqueness and overlap.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Period{}, err
	}
	in.Label = strings.TrimSpace(in.Label)
	start, end, cutoff := truncateDate(in.StartDate), truncateDate(in.EndDate), truncateDate(in.CutoffDate)
	if err := ValidateOrdering(start, end, cutoff); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockTenant(ctx, in.TenantID); err != nil {
			return err
		}
		exists, err := tx.SequenceExists(ctx, in.TenantID, in.Year, in.Sequence)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %d/%02d", ErrDuplicateSequence, in.Year, in.Sequence)
		}
		conflict, err := tx.RangeConflict(ctx, in.TenantID, start, end, 0)
		if err != nil {
			return err
		}
		if conflict != nil {
			return overlapError(*conflict)
		}
		now := s.now().UTC()
		period, err = tx.Insert(ctx, Period{
			TenantID:   in.TenantID,
			Year:       in.Year,
			Sequence:   in.Sequence,
			Label:      in.Label,
			StartDate:  start,
			EndDate:    end,
			CutoffDate: cutoff,
			Status:     PeriodStatusOpen,
			CreatedBy:  in.ActorID,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		return err
	})
	if err != nil {
		return Period{}, mapTxError(err)
	}
	return period, nil
}

// UpdatePeriodDates merges the patch into an OPEN period and revalidates it.
func (s *Service) UpdatePeriodDates(ctx context.Context, in UpdateDatesInput) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockTenant(ctx, in.TenantID); err != nil {
			return err
		}
		current, err := tx.LoadForUpdate(ctx, in.TenantID, in.PeriodID)
		if err != nil {
			return err
		}
		if current.Status != PeriodStatusOpen {
			return ErrPeriodNotOpen
		}
		if in.Label != nil {
			label := strings.TrimSpace(*in.Label)
			if label == "" {
				return shared.NewValidationError("periods: label must not be blank")
			}
			current.Label = label
		}
		if in.StartDate != nil {
			current.StartDate = truncateDate(*in.StartDate)
		}
		if in.EndDate != nil {
			current.EndDate = truncateDate(*in.EndDate)
		}
		if in.CutoffDate != nil {
			current.CutoffDate = truncateDate(*in.CutoffDate)
		}
		if err := ValidateOrdering(current.StartDate, current.EndDate, current.CutoffDate); err != nil {
			return err
		}
		conflict, err := tx.RangeConflict(ctx, in.TenantID, current.StartDate, current.EndDate, current.ID)
		if err != nil {
			return err
		}
		if conflict != nil {
			return overlapError(*conflict)
		}
		current.UpdatedAt = s.now().UTC()
		if err := tx.UpdateDates(ctx, current); err != nil {
			return err
		}
		period = current
		return nil
	})
	if err != nil {
		return Period{}, mapTxError(err)
	}
	return period, nil
}

// ClosePeriod closes a period that has a completed FINAL run.
func (s *Service) ClosePeriod(ctx context.Context, tenantID, periodID, actorID int64) (Period, error) {
	if actorID <= 0 {
		return Period{}, ErrActorRequired
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadForUpdate(ctx, tenantID, periodID)
		if err != nil {
			return err
		}
		if current.Status == PeriodStatusClosed {
			return ErrPeriodClosed
		}
		rollup, ok, err := tx.CurrentFinalRunTotals(ctx, current.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoCompletedFinalRun
		}
		if s.gate != nil {
			canClose, blocking, err := s.gate.CanClosePeriodFor(ctx, tenantID, current.ID)
			if err != nil {
				return err
			}
			if !canClose {
				return fmt.Errorf("%w: %s", ErrChecklistIncomplete, strings.Join(blocking, ", "))
			}
		}
		at := s.now().UTC()
		if err := tx.MarkClosed(ctx, current.ID, rollup, actorID, at); err != nil {
			return err
		}
		current.Status = PeriodStatusClosed
		current.ClosedBy = &actorID
		current.ClosedAt = &at
		current.Rollup = &rollup
		current.UpdatedAt = at
		period = current
		return nil
	})
	if err != nil {
		return Period{}, mapTxError(err)
	}
	s.recordAudit(ctx, period, actorID, "period.close", map[string]any{
		"closing_balance": period.Rollup.ClosingBalance.String(),
	})
	return period, nil
}

// ReopenPeriod moves a CLOSED period to REOPENED and supersedes its final run.
func (s *Service) ReopenPeriod(ctx context.Context, tenantID, periodID int64, reason string, actorID int64) (Period, error) {
	if actorID <= 0 {
		return Period{}, ErrActorRequired
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Period{}, ErrReopenReasonRequired
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadForUpdate(ctx, tenantID, periodID)
		if err != nil {
			return err
		}
		if current.Status != PeriodStatusClosed {
			return ErrPeriodNotClosed
		}
		at := s.now().UTC()
		if err := tx.MarkReopened(ctx, current.ID, reason, actorID, at); err != nil {
			return err
		}
		if err := tx.SupersedeFinalRuns(ctx, current.ID, at); err != nil {
			return err
		}
		current.Status = PeriodStatusReopened
		current.ReopenedBy = &actorID
		current.ReopenedAt = &at
		current.ReopenReason = reason
		current.UpdatedAt = at
		period = current
		return nil
	})
	if err != nil {
		return Period{}, mapTxError(err)
	}
	s.recordAudit(ctx, period, actorID, "period.reopen", map[string]any{"reason": reason})
	return period, nil
}

// DeletePeriod removes an OPEN period that no run references.
func (s *Service) DeletePeriod(ctx context.Context, tenantID, periodID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadForUpdate(ctx, tenantID, periodID)
		if err != nil {
			return err
		}
		if current.Status != PeriodStatusOpen {
			return ErrPeriodNotOpen
		}
		runs, err := tx.CountRuns(ctx, current.ID)
		if err != nil {
			return err
		}
		if runs > 0 {
			return fmt.Errorf("%w: %d run(s)", ErrPeriodHasRuns, runs)
		}
		return tx.Delete(ctx, current.ID)
	})
	return mapTxError(err)
}

func (s *Service) recordAudit(ctx context.Context, p Period, actorID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: p.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "statement_period",
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("period audit failed", slog.String("action", action), slog.Int64("period_id", p.ID), slog.Any("error", err))
	}
}

// mapTxError turns lost races into conflicts so callers can retry explicitly.
func mapTxError(err error) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err, "statement_periods_year_seq_key") {
		return ErrDuplicateSequence
	}
	if db.IsExclusionViolation(err, "statement_periods_no_overlap") {
		return ErrPeriodOverlap
	}
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("periods: concurrent update: %w", shared.ErrConflict)
	}
	return err
}
