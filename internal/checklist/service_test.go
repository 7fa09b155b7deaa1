package checklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/arstatement/internal/periods"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

var fixedNow = time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestService(t *testing.T, src CheckSource, settings stubSettings) (*Service, *memoryChecklistRepo) {
	t.Helper()
	repo := newMemoryChecklistRepo(marchScope().Period)
	var registry *Registry
	if src != nil {
		registry = NewDefaultRegistry(src, CheckOptions{})
	}
	svc := NewService(repo, repo, settings, registry, nil)
	svc.WithNow(func() time.Time { return fixedNow })
	return svc, repo
}

// balancedSource passes every built-in check.
func balancedSource() *stubCheckSource {
	gl := decimal.RequireFromString("1250.00")
	return &stubCheckSource{ar: gl, gl: &gl}
}

func stepByKey(t *testing.T, c Checklist, key string) Step {
	t.Helper()
	for _, s := range c.Steps {
		if s.Key == key {
			return s
		}
	}
	t.Fatalf("step %s not found", key)
	return Step{}
}

func TestCreateForPeriodUsesDefaultTemplate(t *testing.T) {
	svc, _ := newTestService(t, nil, stubSettings{})
	ctx := context.Background()

	c, err := svc.CreateForPeriod(ctx, 1, 3)
	require.NoError(t, err)
	require.Equal(t, StatusNotStarted, c.Status)
	require.Len(t, c.Steps, 19)

	_, err = svc.CreateForPeriod(ctx, 1, 3)
	require.ErrorIs(t, err, ErrChecklistExists)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.CreateForPeriod(ctx, 2, 3)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateForPeriodUsesCustomTemplate(t *testing.T) {
	svc, _ := newTestService(t, nil, stubSettings{template: []byte(`{"steps":[` +
		`{"key":"member_audit","phase":"PRE_CLOSE","label":"Member audit","enforcement":"REQUIRED","verification":"MANUAL"}]}`)})

	c, err := svc.CreateForPeriod(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Len(t, c.Steps, 1)
	require.Equal(t, "member_audit", c.Steps[0].Key)
}

func TestCreateForPeriodRejectsClosedPeriod(t *testing.T) {
	svc, repo := newTestService(t, nil, stubSettings{})
	p := repo.periods[3]
	p.Status = periods.PeriodStatusClosed
	repo.periods[3] = p

	_, err := svc.CreateForPeriod(context.Background(), 1, 3)
	require.ErrorIs(t, err, ErrPeriodClosed)
}

func TestSignOffStepRules(t *testing.T) {
	svc, _ := newTestService(t, nil, stubSettings{})
	audit := &recordingAudit{}
	svc.WithAudit(audit)
	ctx := context.Background()
	c, err := svc.CreateForPeriod(ctx, 1, 3)
	require.NoError(t, err)

	auto := stepByKey(t, c, "no_orphan_payments")
	_, err = svc.SignOffStep(ctx, SignOffInput{TenantID: 1, StepID: auto.ID, ActorID: 42})
	require.ErrorIs(t, err, ErrAutoStepSignOff)

	manual := stepByKey(t, c, "controller_sign_off")
	_, err = svc.SignOffStep(ctx, SignOffInput{TenantID: 1, StepID: manual.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	c, err = svc.SignOffStep(ctx, SignOffInput{TenantID: 1, StepID: manual.ID, ActorID: 42, Notes: " approved "})
	require.NoError(t, err)
	signed := stepByKey(t, c, "controller_sign_off")
	require.Equal(t, StepSignedOff, signed.Status)
	require.Equal(t, int64(42), *signed.SignedOffBy)
	require.Equal(t, "approved", signed.Notes)
	require.Equal(t, StatusInProgress, c.Status)
	require.Equal(t, fixedNow, *c.StartedAt)

	_, err = svc.SignOffStep(ctx, SignOffInput{TenantID: 1, StepID: manual.ID, ActorID: 42})
	require.ErrorIs(t, err, ErrStepAlreadyDone)

	_, err = svc.SignOffStep(ctx, SignOffInput{TenantID: 2, StepID: manual.ID, ActorID: 42})
	require.ErrorIs(t, err, ErrStepNotFound)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "checklist.step.sign_off", audit.logs[0].Action)
}

func TestSkipStepRules(t *testing.T) {
	svc, _ := newTestService(t, nil, stubSettings{})
	ctx := context.Background()
	c, err := svc.CreateForPeriod(ctx, 1, 3)
	require.NoError(t, err)

	_, err = svc.SkipStep(ctx, 1, stepByKey(t, c, "cutoff_confirmed").ID, 42, "")
	require.ErrorIs(t, err, ErrRequiredSkip)

	c, err = svc.SkipStep(ctx, 1, stepByKey(t, c, "apply_late_fees").ID, 42, "no late fees this month")
	require.NoError(t, err)
	require.Equal(t, StepSkipped, stepByKey(t, c, "apply_late_fees").Status)
	require.Equal(t, StatusInProgress, c.Status)
}

func TestRunAutoVerificationStoresResult(t *testing.T) {
	src := balancedSource()
	src.orphans = []string{"P-1"}
	svc, _ := newTestService(t, src, stubSettings{})
	ctx := context.Background()
	c, err := svc.CreateForPeriod(ctx, 1, 3)
	require.NoError(t, err)

	step := stepByKey(t, c, "no_orphan_payments")
	c, err = svc.RunAutoVerification(ctx, 1, step.ID)
	require.NoError(t, err)
	failed := stepByKey(t, c, "no_orphan_payments")
	require.Equal(t, StepFailed, failed.Status)
	require.NotNil(t, failed.LastResult)
	require.False(t, failed.LastResult.Passed)
	require.Equal(t, fixedNow, failed.LastResult.CheckedAt)
	require.Equal(t, StatusNotStarted, c.Status)

	src.orphans = nil
	c, err = svc.RunAutoVerification(ctx, 1, step.ID)
	require.NoError(t, err)
	require.Equal(t, StepPassed, stepByKey(t, c, "no_orphan_payments").Status)
	require.Equal(t, StatusInProgress, c.Status)

	_, err = svc.RunAutoVerification(ctx, 1, stepByKey(t, c, "controller_sign_off").ID)
	require.ErrorIs(t, err, ErrNotAutoStep)
}

func TestRunAllAutoChecksContinuesPastErrors(t *testing.T) {
	src := balancedSource()
	src.err = errors.New("batch table unavailable")
	src.taxNumbers = []string{"T1", "T3"}
	svc, _ := newTestService(t, src, stubSettings{})
	ctx := context.Background()
	c, err := svc.CreateForPeriod(ctx, 1, 3)
	require.NoError(t, err)

	summary, err := svc.RunAllAutoChecks(ctx, 1, c.ID)
	require.NoError(t, err)
	require.Equal(t, 6, summary.Total)
	require.Equal(t, 1, summary.Errored)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 4, summary.Passed)
	require.Len(t, summary.Outcomes, 6)

	c, err = svc.Get(ctx, 1, c.ID)
	require.NoError(t, err)
	require.Equal(t, StepPending, stepByKey(t, c, "batch_settlement").Status)
	require.Equal(t, StepFailed, stepByKey(t, c, "tax_invoice_sequence").Status)

	// Only PENDING steps are retried by the batch.
	src.err = nil
	summary, err = svc.RunAllAutoChecks(ctx, 1, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Passed)
}

func TestCloseEligibilityAndFinalRunHook(t *testing.T) {
	svc, _ := newTestService(t, balancedSource(), stubSettings{})
	ctx := context.Background()

	ok, blocking, err := svc.CanClosePeriodFor(ctx, 1, 3)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"close checklist not created"}, blocking)

	c, err := svc.CreateForPeriod(ctx, 1, 3)
	require.NoError(t, err)
	e, err := svc.CanClosePeriod(ctx, 1, c.ID)
	require.NoError(t, err)
	require.False(t, e.CanClose)
	require.Equal(t, 11, e.TotalRequired)
	require.Len(t, e.BlockingSteps, 11)

	_, err = svc.RunAllAutoChecks(ctx, 1, c.ID)
	require.NoError(t, err)
	for _, key := range []string{"confirm_member_changes", "cutoff_confirmed", "bank_reconciliation", "controller_sign_off"} {
		_, err = svc.SignOffStep(ctx, SignOffInput{TenantID: 1, StepID: stepByKey(t, c, key).ID, ActorID: 42})
		require.NoError(t, err)
	}
	ok, blocking, err = svc.CanClosePeriodFor(ctx, 1, 3)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"Final statement run completed"}, blocking)

	require.NoError(t, svc.OnFinalRunCompleted(ctx, 1, 3, 77))
	require.NoError(t, svc.OnFinalRunCompleted(ctx, 1, 3, 78))
	c, err = svc.GetByPeriod(ctx, 1, 3)
	require.NoError(t, err)
	final := stepByKey(t, c, FinalRunStepKey)
	require.Equal(t, StepSignedOff, final.Status)
	require.Nil(t, final.SignedOffBy)
	require.Contains(t, final.Notes, "77")

	ok, blocking, err = svc.CanClosePeriodFor(ctx, 1, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, blocking)

	require.NoError(t, svc.OnFinalRunCompleted(ctx, 1, 99, 80))
}

func TestSweepAutoChecksVisitsOpenChecklists(t *testing.T) {
	svc, repo := newTestService(t, balancedSource(), stubSettings{})
	ctx := context.Background()
	c, err := svc.CreateForPeriod(ctx, 1, 3)
	require.NoError(t, err)

	visited, err := svc.SweepAutoChecks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, visited)
	c, err = svc.Get(ctx, 1, c.ID)
	require.NoError(t, err)
	require.Equal(t, StepPassed, stepByKey(t, c, "no_orphan_payments").Status)
	require.Equal(t, StepPassed, stepByKey(t, c, "ar_gl_reconciliation").Status)

	p := repo.periods[3]
	p.Status = periods.PeriodStatusClosed
	repo.periods[3] = p
	visited, err = svc.SweepAutoChecks(ctx)
	require.NoError(t, err)
	require.Zero(t, visited)
}
