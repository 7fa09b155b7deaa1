package checklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	jobmetrics "github.com/odyssey-erp/arstatement/internal/jobs"
	"github.com/odyssey-erp/arstatement/internal/periods"
	"github.com/odyssey-erp/arstatement/internal/platform/db"
	"github.com/odyssey-erp/arstatement/internal/receivables"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

// PeriodReader resolves the period an automated check inspects.
type PeriodReader interface {
	GetPeriod(ctx context.Context, tenantID, id int64) (periods.Period, error)
}

// AuditRecorder persists audit entries for sign-offs.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the close checklist engine.
type Service struct {
	repo     Repository
	periods  PeriodReader
	settings receivables.Settings
	registry *Registry
	audit    AuditRecorder
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service instance. settings may be nil, in which case
// every checklist uses the default template.
func NewService(repo Repository, periodReader PeriodReader, settings receivables.Settings, registry *Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(false)
	}
	return &Service{
		repo:     repo,
		periods:  periodReader,
		settings: settings,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithAudit records sign-offs and skips.
func (s *Service) WithAudit(audit AuditRecorder) { s.audit = audit }

// WithMetrics counts automated check outcomes.
func (s *Service) WithMetrics(m *jobmetrics.Metrics) { s.metrics = m }

// Get returns a checklist with its steps.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Checklist, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// GetByPeriod returns the checklist of a period.
func (s *Service) GetByPeriod(ctx context.Context, tenantID, periodID int64) (Checklist, error) {
	return s.repo.GetByPeriod(ctx, tenantID, periodID)
}

// CreateForPeriod instantiates the tenant's template, or the default one, for an unclosed period.
func (s *Service) CreateForPeriod(ctx context.Context, tenantID, periodID int64) (Checklist, error) {
	tpl, custom, err := s.template(ctx, tenantID)
	if err != nil {
		return Checklist{}, err
	}
	var created Checklist
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.LockPeriod(ctx, tenantID, periodID)
		if err != nil {
			return err
		}
		if status == periods.PeriodStatusClosed {
			return ErrPeriodClosed
		}
		exists, err := tx.ExistsForPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: period %d", ErrChecklistExists, periodID)
		}
		created, err = tx.Insert(ctx, Checklist{
			TenantID:  tenantID,
			PeriodID:  periodID,
			Status:    StatusNotStarted,
			CreatedAt: s.now().UTC(),
			Steps:     tpl.Instantiate(),
		})
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err, "close_checklists_period_key") {
			return Checklist{}, fmt.Errorf("%w: period %d", ErrChecklistExists, periodID)
		}
		return Checklist{}, err
	}
	s.logger.Info("close checklist created",
		slog.Int64("checklist_id", created.ID), slog.Int64("period_id", periodID),
		slog.Bool("custom_template", custom), slog.Int("steps", len(created.Steps)))
	return created, nil
}

func (s *Service) template(ctx context.Context, tenantID int64) (Template, bool, error) {
	if s.settings == nil {
		return DefaultTemplate(), false, nil
	}
	raw, err := s.settings.ChecklistTemplate(ctx, tenantID)
	if err != nil {
		return Template{}, false, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "[]" || trimmed == "{}" {
		return DefaultTemplate(), false, nil
	}
	tpl, err := ParseTemplate(raw)
	if err != nil {
		return Template{}, false, err
	}
	return tpl, true, nil
}

// SignOffStep completes a MANUAL or SYSTEM_ACTION step on behalf of an actor.
func (s *Service) SignOffStep(ctx context.Context, in SignOffInput) (Checklist, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Checklist{}, err
	}
	c, err := s.mutateStep(ctx, in.TenantID, in.StepID, func(step *Step, at time.Time) error {
		if step.Verification == VerificationAuto {
			return ErrAutoStepSignOff
		}
		if step.Status == StepSignedOff || step.Status == StepPassed {
			return ErrStepAlreadyDone
		}
		actor := in.ActorID
		step.Status = StepSignedOff
		step.SignedOffBy = &actor
		step.SignedOffAt = &at
		step.Notes = strings.TrimSpace(in.Notes)
		return nil
	})
	if err != nil {
		return Checklist{}, err
	}
	s.recordAudit(ctx, in.TenantID, in.ActorID, "checklist.step.sign_off", in.StepID, map[string]any{"checklist_id": c.ID})
	return c, nil
}

// SkipStep marks an OPTIONAL step as not applicable.
func (s *Service) SkipStep(ctx context.Context, tenantID, stepID, actorID int64, notes string) (Checklist, error) {
	c, err := s.mutateStep(ctx, tenantID, stepID, func(step *Step, _ time.Time) error {
		if step.Enforcement == EnforcementRequired {
			return ErrRequiredSkip
		}
		step.Status = StepSkipped
		step.Notes = strings.TrimSpace(notes)
		return nil
	})
	if err != nil {
		return Checklist{}, err
	}
	s.recordAudit(ctx, tenantID, actorID, "checklist.step.skip", stepID, map[string]any{"checklist_id": c.ID})
	return c, nil
}

// RunAutoVerification executes the registered check of an AUTO step and stores its result.
func (s *Service) RunAutoVerification(ctx context.Context, tenantID, stepID int64) (Checklist, error) {
	owner, err := s.repo.ForStep(ctx, tenantID, stepID)
	if err != nil {
		return Checklist{}, err
	}
	step, ok := owner.Step(stepID)
	if !ok {
		return Checklist{}, ErrStepNotFound
	}
	if step.Verification != VerificationAuto {
		return Checklist{}, ErrNotAutoStep
	}
	period, err := s.periods.GetPeriod(ctx, tenantID, owner.PeriodID)
	if err != nil {
		return Checklist{}, err
	}
	result, err := s.registry.Run(ctx, step.Key, CheckScope{TenantID: tenantID, Period: period})
	if err != nil {
		s.metrics.AddCheckResult(step.Key, "error")
		return Checklist{}, fmt.Errorf("checklist: run check %s: %w", step.Key, err)
	}
	outcome := "failed"
	if result.Passed {
		outcome = "passed"
	}
	s.metrics.AddCheckResult(step.Key, outcome)

	return s.mutateStep(ctx, tenantID, stepID, func(step *Step, at time.Time) error {
		if step.Verification != VerificationAuto {
			return ErrNotAutoStep
		}
		result.CheckedAt = at
		step.LastResult = &result
		if result.Passed {
			step.Status = StepPassed
		} else {
			step.Status = StepFailed
		}
		return nil
	})
}

// RunAllAutoChecks verifies every PENDING AUTO step; one step's error never stops the batch.
func (s *Service) RunAllAutoChecks(ctx context.Context, tenantID, checklistID int64) (AutoCheckSummary, error) {
	c, err := s.repo.Get(ctx, tenantID, checklistID)
	if err != nil {
		return AutoCheckSummary{}, err
	}
	summary := AutoCheckSummary{ChecklistID: c.ID, Outcomes: []StepOutcome{}, Status: c.Status}
	for _, step := range c.Steps {
		if step.Verification != VerificationAuto || step.Status != StepPending {
			continue
		}
		summary.Total++
		line := StepOutcome{StepID: step.ID, Key: step.Key}
		updated, err := s.RunAutoVerification(ctx, tenantID, step.ID)
		if err != nil {
			s.logger.Warn("auto check failed to run",
				slog.Int64("checklist_id", c.ID), slog.String("step", step.Key), slog.Any("error", err))
			summary.Errored++
			line.Outcome = "error"
			line.Message = err.Error()
			summary.Outcomes = append(summary.Outcomes, line)
			continue
		}
		summary.Status = updated.Status
		if done, ok := updated.Step(step.ID); ok && done.Status == StepPassed {
			summary.Passed++
			line.Outcome = "passed"
			line.Message = done.LastResult.Message
		} else {
			summary.Failed++
			line.Outcome = "failed"
			if ok && done.LastResult != nil {
				line.Message = done.LastResult.Message
			}
		}
		summary.Outcomes = append(summary.Outcomes, line)
	}
	s.logger.Info("auto checks finished",
		slog.Int64("checklist_id", c.ID), slog.Int("total", summary.Total),
		slog.Int("passed", summary.Passed), slog.Int("failed", summary.Failed), slog.Int("errored", summary.Errored))
	return summary, nil
}

// SweepAutoChecks runs RunAllAutoChecks over every open checklist and returns how many were visited.
func (s *Service) SweepAutoChecks(ctx context.Context) (int, error) {
	targets, err := s.repo.Sweepable(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := s.RunAllAutoChecks(ctx, t.TenantID, t.ChecklistID); err != nil {
			s.logger.Warn("checklist sweep", slog.Int64("checklist_id", t.ChecklistID), slog.Any("error", err))
		}
	}
	return len(targets), nil
}

// CanClosePeriod evaluates a checklist's required steps.
func (s *Service) CanClosePeriod(ctx context.Context, tenantID, checklistID int64) (Eligibility, error) {
	c, err := s.repo.Get(ctx, tenantID, checklistID)
	if err != nil {
		return Eligibility{}, err
	}
	return Evaluate(c.Steps), nil
}

// CanClosePeriodFor is the period close gate; a period without a checklist cannot close.
func (s *Service) CanClosePeriodFor(ctx context.Context, tenantID, periodID int64) (bool, []string, error) {
	c, err := s.repo.GetByPeriod(ctx, tenantID, periodID)
	if errors.Is(err, ErrChecklistNotFound) {
		return false, []string{"close checklist not created"}, nil
	}
	if err != nil {
		return false, nil, err
	}
	e := Evaluate(c.Steps)
	return e.CanClose, e.BlockingSteps, nil
}

// OnFinalRunCompleted signs off the final statement run step on behalf of the system.
// Periods without a checklist, or without that step, are left alone.
func (s *Service) OnFinalRunCompleted(ctx context.Context, tenantID, periodID, runID int64) error {
	c, err := s.repo.GetByPeriod(ctx, tenantID, periodID)
	if errors.Is(err, ErrChecklistNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, step := range c.Steps {
		if step.Key != FinalRunStepKey || step.Verification != VerificationSystemAction {
			continue
		}
		_, err := s.mutateStep(ctx, tenantID, step.ID, func(step *Step, at time.Time) error {
			if step.Status == StepSignedOff {
				return errNothingToDo
			}
			step.Status = StepSignedOff
			step.SignedOffAt = &at
			step.SignedOffBy = nil
			step.Notes = "completed by final statement run " + strconv.FormatInt(runID, 10)
			return nil
		})
		if errors.Is(err, errNothingToDo) {
			return nil
		}
		if err == nil {
			s.logger.Info("final run step signed off", slog.Int64("checklist_id", c.ID), slog.Int64("run_id", runID))
		}
		return err
	}
	return nil
}

var errNothingToDo = errors.New("checklist: nothing to do")

// mutateStep locks the owning checklist, applies fn to the step and recomputes status
// in the same transaction.
func (s *Service) mutateStep(ctx context.Context, tenantID, stepID int64, fn func(step *Step, at time.Time) error) (Checklist, error) {
	owner, err := s.repo.ForStep(ctx, tenantID, stepID)
	if err != nil {
		return Checklist{}, err
	}
	var out Checklist
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.LockChecklist(ctx, tenantID, owner.ID)
		if err != nil {
			return err
		}
		step, ok := c.Step(stepID)
		if !ok {
			return ErrStepNotFound
		}
		at := s.now().UTC()
		if err := fn(step, at); err != nil {
			return err
		}
		if err := tx.SaveStep(ctx, *step); err != nil {
			return err
		}
		if c.recompute(at) {
			if err := tx.SaveStatus(ctx, c); err != nil {
				return err
			}
		}
		out = c
		return nil
	})
	if err != nil {
		if db.IsSerializationFailure(err) {
			return Checklist{}, fmt.Errorf("checklist: concurrent update: %w", shared.ErrConflict)
		}
		return Checklist{}, err
	}
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, stepID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "close_checklist_step",
		EntityID: strconv.FormatInt(stepID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("record checklist audit", slog.String("action", action), slog.Any("error", err))
	}
}
