package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/arstatement/internal/jobs"
	"github.com/odyssey-erp/arstatement/internal/periods"
	"github.com/odyssey-erp/arstatement/internal/platform/db"
	"github.com/odyssey-erp/arstatement/internal/receivables"
	"github.com/odyssey-erp/arstatement/internal/shared"
	"github.com/odyssey-erp/arstatement/internal/statements"
)

// PeriodReader loads the period a run targets.
type PeriodReader interface {
	GetPeriod(ctx context.Context, tenantID, id int64) (periods.Period, error)
}

// StatementStore persists generated statements.
type StatementStore interface {
	Insert(ctx context.Context, st statements.Statement) (statements.Statement, error)
	InsertNumbered(ctx context.Context, st statements.Statement, prefix string) (statements.Statement, error)
}

// CompletionHook is notified once a FINAL run completes.
type CompletionHook interface {
	OnFinalRunCompleted(ctx context.Context, tenantID, periodID, runID int64) error
}

// Options tune run processing.
type Options struct {
	// FlushEvery is the number of processed profiles between durable progress writes.
	FlushEvery int
	// Concurrency above one processes profiles in parallel.
	Concurrency int
	LockTTL     time.Duration
}

const (
	defaultFlushEvery = 10
	defaultLockTTL    = 10 * time.Minute
)

// Orchestrator starts, processes and cancels statement runs.
type Orchestrator struct {
	repo       Repository
	periods    PeriodReader
	source     receivables.Source
	store      StatementStore
	dispatcher Dispatcher
	progress   ProgressPublisher
	locker     Locker
	hook       CompletionHook
	metrics    *jobmetrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	opts       Options
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(repo Repository, periodReader PeriodReader, source receivables.Source, store StatementStore, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &Orchestrator{
		repo:    repo,
		periods: periodReader,
		source:  source,
		store:   store,
		logger:  logger,
		now:     time.Now,
		opts:    opts,
	}
}

// WithNow overrides the clock for deterministic tests.
func (o *Orchestrator) WithNow(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// WithDispatcher sets how started runs are handed off for processing.
func (o *Orchestrator) WithDispatcher(d Dispatcher) { o.dispatcher = d }

// WithProgress sets the progress event publisher.
func (o *Orchestrator) WithProgress(p ProgressPublisher) { o.progress = p }

// WithLocker sets the duplicate-processing guard.
func (o *Orchestrator) WithLocker(l Locker) { o.locker = l }

// WithCompletionHook registers the FINAL completion listener.
func (o *Orchestrator) WithCompletionHook(h CompletionHook) { o.hook = h }

// WithMetrics attaches job metrics.
func (o *Orchestrator) WithMetrics(m *jobmetrics.Metrics) { o.metrics = m }

// Get returns a run scoped to the tenant.
func (o *Orchestrator) Get(ctx context.Context, tenantID, runID int64) (Run, error) {
	return o.repo.Get(ctx, tenantID, runID)
}

// List returns the runs of a period, newest first.
func (o *Orchestrator) List(ctx context.Context, tenantID, periodID int64) ([]Run, error) {
	return o.repo.List(ctx, tenantID, periodID)
}

// Start persists a PENDING run and dispatches it; the returned run is the job handle.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (Run, error) {
	in.RunType = RunType(strings.ToUpper(strings.TrimSpace(string(in.RunType))))
	if err := shared.ValidateStruct(in); err != nil {
		return Run{}, err
	}
	var run Run
	err := o.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.LockPeriod(ctx, in.TenantID, in.PeriodID)
		if err != nil {
			return err
		}
		if !period.AcceptsRuns() {
			return ErrPeriodNotRunnable
		}
		if in.RunType == RunTypeFinal {
			current, err := tx.CurrentFinalRun(ctx, period.ID)
			if err != nil {
				return err
			}
			if current != nil {
				return fmt.Errorf("%w: run #%d", ErrFinalRunExists, current.RunNumber)
			}
			active, err := tx.ActiveFinalRun(ctx, period.ID)
			if err != nil {
				return err
			}
			if active != nil {
				return fmt.Errorf("%w: run #%d", ErrFinalRunActive, active.RunNumber)
			}
		}
		profiles, err := o.source.ActiveProfiles(ctx, in.TenantID, in.ProfileIDs)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(profiles))
		for _, p := range profiles {
			ids = append(ids, p.ID)
		}
		number, err := tx.NextRunNumber(ctx, period.ID)
		if err != nil {
			return err
		}
		run, err = tx.Insert(ctx, Run{
			TenantID:      in.TenantID,
			PeriodID:      period.ID,
			RunType:       in.RunType,
			RunNumber:     number,
			Status:        RunStatusPending,
			ProfileIDs:    ids,
			TotalProfiles: len(ids),
			StartedBy:     in.ActorID,
			CreatedAt:     o.now().UTC(),
		})
		return err
	})
	if err != nil {
		return Run{}, mapStartError(err)
	}
	o.logger.Info("statement run created",
		slog.Int64("run_id", run.ID), slog.Int64("period_id", run.PeriodID),
		slog.String("run_type", string(run.RunType)), slog.Int("run_number", run.RunNumber),
		slog.Int("total_profiles", run.TotalProfiles))
	o.publish(ctx, run)

	if o.dispatcher == nil {
		return run, nil
	}
	if err := o.dispatcher.DispatchRun(ctx, run.ID); err != nil {
		o.logger.Error("dispatch statement run", slog.Int64("run_id", run.ID), slog.Any("error", err))
		runErr := RunError{Message: "dispatch: " + err.Error()}
		if failErr := o.repo.FailPending(ctx, run.ID, runErr, o.now().UTC()); failErr != nil {
			o.logger.Error("mark undispatched run failed", slog.Int64("run_id", run.ID), slog.Any("error", failErr))
		}
		run.Status = RunStatusFailed
		run.Progress.Errors = []RunError{runErr}
		return run, fmt.Errorf("runs: dispatch run %d: %w", run.ID, err)
	}
	return run, nil
}

// Cancel stops a PENDING or IN_PROGRESS run; statements already written remain.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, runID, actorID int64) (Run, error) {
	run, err := o.repo.Get(ctx, tenantID, runID)
	if err != nil {
		return Run{}, err
	}
	if run.Status.Terminal() {
		return Run{}, fmt.Errorf("%w: status %s", ErrRunNotCancellable, run.Status)
	}
	ok, err := o.repo.Cancel(ctx, tenantID, runID, o.now().UTC())
	if err != nil {
		return Run{}, err
	}
	if !ok {
		return Run{}, ErrRunNotCancellable
	}
	run, err = o.repo.Get(ctx, tenantID, runID)
	if err != nil {
		return Run{}, err
	}
	o.logger.Info("statement run cancelled", slog.Int64("run_id", runID), slog.Int64("actor_id", actorID))
	o.publish(ctx, run)
	return run, nil
}

// Subscribe streams progress events of a tenant's run.
func (o *Orchestrator) Subscribe(ctx context.Context, tenantID, runID int64) (<-chan ProgressEvent, func(), error) {
	if _, err := o.repo.Get(ctx, tenantID, runID); err != nil {
		return nil, nil, err
	}
	if o.progress == nil {
		return nil, nil, errors.New("runs: progress events not configured")
	}
	return o.progress.Subscribe(ctx, runID)
}

// Process generates statements for every target profile of a PENDING run.
func (o *Orchestrator) Process(ctx context.Context, runID int64) error {
	lease, err := o.acquire(ctx, runID)
	if errors.Is(err, ErrRunLocked) {
		o.logger.Info("statement run locked by another worker", slog.Int64("run_id", runID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("runs: lock run %d: %w", runID, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("release run lock", slog.Int64("run_id", runID), slog.Any("error", err))
		}
	}()

	run, err := o.repo.Load(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == RunStatusInProgress {
		// Holding the lock means the worker that started this run is gone.
		return o.abort(ctx, run, errors.New("processing interrupted before completion"))
	}
	if run.Status != RunStatusPending {
		o.logger.Info("statement run not pending; skipping", slog.Int64("run_id", runID), slog.String("status", string(run.Status)))
		return nil
	}
	period, err := o.periods.GetPeriod(ctx, run.TenantID, run.PeriodID)
	if err != nil {
		return err
	}
	var profiles []receivables.Profile
	if len(run.ProfileIDs) > 0 {
		if profiles, err = o.source.ActiveProfiles(ctx, run.TenantID, run.ProfileIDs); err != nil {
			return err
		}
	}
	started, err := o.repo.MarkInProgress(ctx, runID, o.now().UTC())
	if err != nil {
		return err
	}
	if !started {
		return nil
	}
	run.Status = RunStatusInProgress
	o.publish(ctx, run)

	agg := &aggregator{flushEvery: o.opts.FlushEvery, flush: o.flusher(ctx, run, lease)}
	// Profiles deactivated after the run was created have nothing to report.
	if gone := len(run.ProfileIDs) - len(profiles); gone > 0 {
		agg.progress.Processed += gone
		agg.progress.Skipped += gone
	}
	cancelled := o.iterate(ctx, &run, period, profiles, agg)
	run.Progress = agg.snapshot()

	if err := ctx.Err(); err != nil {
		return o.abort(ctx, run, fmt.Errorf("processing interrupted: %w", err))
	}
	if cancelled {
		return o.finishCancelled(ctx, run)
	}
	final := run.Progress
	status := resolveStatus(final)
	completed, err := o.repo.Complete(ctx, runID, status, final, o.now().UTC())
	if err != nil && db.IsUniqueViolation(err, "statement_runs_current_final_key") {
		final.Errors = append(final.Errors, RunError{Message: "another final run completed for this period"})
		status = RunStatusFailed
		completed, err = o.repo.Complete(ctx, runID, status, final, o.now().UTC())
	}
	if err != nil {
		// Left IN_PROGRESS; the retried delivery finds it under the lock and fails it.
		return fmt.Errorf("runs: complete run %d: %w", runID, err)
	}
	if !completed {
		return o.finishCancelled(ctx, run)
	}
	run.Status = status
	run.Progress = final
	o.publish(ctx, run)
	o.metrics.AddProfileOutcome(string(run.RunType), "generated", final.Generated)
	o.metrics.AddProfileOutcome(string(run.RunType), "skipped", final.Skipped)
	o.metrics.AddProfileOutcome(string(run.RunType), "error", final.ErrorCount())
	o.logger.Info("statement run finished",
		slog.Int64("run_id", runID), slog.String("status", string(status)),
		slog.Int("generated", final.Generated), slog.Int("skipped", final.Skipped), slog.Int("errors", final.ErrorCount()))

	if status == RunStatusCompleted && run.RunType == RunTypeFinal && o.hook != nil {
		if err := o.hook.OnFinalRunCompleted(ctx, run.TenantID, run.PeriodID, run.ID); err != nil {
			o.logger.Warn("final run completion hook", slog.Int64("run_id", runID), slog.Any("error", err))
		}
	}
	return nil
}

// abort marks an IN_PROGRESS run FAILED so it stops blocking new FINAL runs. It
// writes through a context detached from ctx, which may already be cancelled.
func (o *Orchestrator) abort(ctx context.Context, run Run, cause error) error {
	ctx = context.WithoutCancel(ctx)
	run.Progress.Errors = append(run.Progress.Errors, RunError{Message: cause.Error()})
	failed, err := o.repo.Complete(ctx, run.ID, RunStatusFailed, run.Progress, o.now().UTC())
	if err != nil {
		return fmt.Errorf("runs: fail interrupted run %d: %w", run.ID, err)
	}
	if !failed {
		return o.finishCancelled(ctx, run)
	}
	run.Status = RunStatusFailed
	o.publish(ctx, run)
	o.logger.Warn("statement run aborted",
		slog.Int64("run_id", run.ID), slog.Int("processed", run.Progress.Processed), slog.Any("cause", cause))
	return fmt.Errorf("%w: run %d: %v", ErrRunTerminal, run.ID, cause)
}

func (o *Orchestrator) acquire(ctx context.Context, runID int64) (Lease, error) {
	if o.locker == nil {
		return noopLease{}, nil
	}
	return o.locker.Acquire(ctx, shared.StatementRunLockKey(runID), o.opts.LockTTL)
}

func (o *Orchestrator) finishCancelled(ctx context.Context, run Run) error {
	ctx = context.WithoutCancel(ctx)
	if err := o.repo.SaveProgress(ctx, run.ID, run.Progress); err != nil {
		o.logger.Warn("save cancelled run progress", slog.Int64("run_id", run.ID), slog.Any("error", err))
	}
	run.Status = RunStatusCancelled
	o.publish(ctx, run)
	o.logger.Info("statement run stopped after cancellation", slog.Int64("run_id", run.ID), slog.Int("processed", run.Progress.Processed))
	return nil
}

// iterate processes profiles and reports whether cancellation was observed. It
// also stops once ctx is done; callers check ctx.Err() for that case.
func (o *Orchestrator) iterate(ctx context.Context, run *Run, period periods.Period, profiles []receivables.Profile, agg *aggregator) bool {
	if o.opts.Concurrency <= 1 {
		for _, p := range profiles {
			if ctx.Err() != nil {
				return false
			}
			if o.cancelled(ctx, run.ID) {
				return true
			}
			o.handleProfile(ctx, run, period, p, agg)
		}
		return false
	}
	var (
		g    errgroup.Group
		stop atomic.Bool
	)
	g.SetLimit(o.opts.Concurrency)
	for _, p := range profiles {
		if ctx.Err() != nil {
			break
		}
		if o.cancelled(ctx, run.ID) {
			stop.Store(true)
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o.handleProfile(ctx, run, period, p, agg)
			return nil
		})
	}
	_ = g.Wait()
	return stop.Load()
}

func (o *Orchestrator) cancelled(ctx context.Context, runID int64) bool {
	status, err := o.repo.Status(ctx, runID)
	if err != nil {
		o.logger.Warn("read run status", slog.Int64("run_id", runID), slog.Any("error", err))
		return false
	}
	return status == RunStatusCancelled
}

func (o *Orchestrator) handleProfile(ctx context.Context, run *Run, period periods.Period, p receivables.Profile, agg *aggregator) {
	st, err := o.generate(ctx, *run, period, p)
	if err != nil && ctx.Err() != nil {
		// Interrupted, not failed; the profile stays unprocessed.
		return
	}
	if err != nil {
		o.logger.Warn("statement generation failed",
			slog.Int64("run_id", run.ID), slog.Int64("profile_id", p.ID), slog.Any("error", err))
	}
	agg.record(p.ID, st, err)
}

// flusher persists a progress snapshot, extends the lock and publishes the event.
func (o *Orchestrator) flusher(ctx context.Context, run Run, lease Lease) func(Progress) {
	return func(snapshot Progress) {
		if err := o.repo.SaveProgress(ctx, run.ID, snapshot); err != nil {
			o.logger.Warn("flush run progress", slog.Int64("run_id", run.ID), slog.Any("error", err))
		}
		if err := lease.Extend(ctx, o.opts.LockTTL); err != nil {
			o.logger.Warn("extend run lock", slog.Int64("run_id", run.ID), slog.Any("error", err))
		}
		view := run
		view.Progress = snapshot
		o.publish(ctx, view)
	}
}

func (o *Orchestrator) generate(ctx context.Context, run Run, period periods.Period, p receivables.Profile) (st *statements.Statement, err error) {
	defer func() {
		if r := recover(); r != nil {
			st, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	window := receivables.DateRange{From: period.StartDate, To: period.CutoffDate}
	invoices, err := o.source.Invoices(ctx, run.TenantID, p.AccountID, window)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}
	payments, err := o.source.Payments(ctx, run.TenantID, p.AccountID, window)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	opening, err := o.source.PriorBalance(ctx, run.TenantID, p.AccountID, period.StartDate)
	if err != nil {
		return nil, fmt.Errorf("load prior balance: %w", err)
	}
	generated, ok := statements.Generate(statements.GenerateInput{
		TenantID:       run.TenantID,
		RunID:          run.ID,
		PeriodID:       period.ID,
		RunType:        run.RunType,
		Profile:        p,
		PeriodStart:    period.StartDate,
		PeriodEnd:      period.EndDate,
		CutoffDate:     period.CutoffDate,
		OpeningBalance: opening,
		Invoices:       invoices,
		Payments:       payments,
	})
	if !ok {
		return nil, nil
	}
	if run.RunType == RunTypeFinal {
		generated, err = o.store.InsertNumbered(ctx, generated, statements.NumberPrefix(period.Year, period.Sequence))
	} else {
		generated, err = o.store.Insert(ctx, generated)
	}
	if err != nil {
		return nil, fmt.Errorf("persist statement: %w", err)
	}
	return &generated, nil
}

func (o *Orchestrator) publish(ctx context.Context, run Run) {
	if o.progress == nil {
		return
	}
	if err := o.progress.Publish(ctx, NewProgressEvent(run, o.now().UTC())); err != nil {
		o.logger.Debug("publish run progress", slog.Int64("run_id", run.ID), slog.Any("error", err))
	}
}

// aggregator is the single writer of a run's counters, totals and error log.
type aggregator struct {
	mu         sync.Mutex
	progress   Progress
	flushEvery int
	// flush runs under mu so durable snapshots never go backwards.
	flush func(Progress)
}

func (a *aggregator) record(profileID int64, st *statements.Statement, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progress.Processed++
	switch {
	case err != nil:
		a.progress.Errors = append(a.progress.Errors, RunError{ProfileID: profileID, Message: err.Error()})
	case st == nil:
		a.progress.Skipped++
	default:
		a.progress.Generated++
		t := &a.progress.Totals
		t.OpeningBalance = t.OpeningBalance.Add(st.OpeningBalance)
		t.Debits = t.Debits.Add(st.TotalDebits)
		t.Credits = t.Credits.Add(st.TotalCredits)
		t.ClosingBalance = t.ClosingBalance.Add(st.ClosingBalance)
	}
	if a.flush != nil && a.progress.Processed%a.flushEvery == 0 {
		a.flush(a.snapshotLocked())
	}
}

func (a *aggregator) snapshot() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *aggregator) snapshotLocked() Progress {
	p := a.progress
	p.Errors = append([]RunError(nil), a.progress.Errors...)
	return p
}

func mapStartError(err error) error {
	switch {
	case db.IsUniqueViolation(err, "statement_runs_number_key"):
		return fmt.Errorf("runs: run number allocated concurrently: %w", shared.ErrConflict)
	case db.IsSerializationFailure(err):
		return fmt.Errorf("runs: concurrent run start: %w", shared.ErrConflict)
	default:
		return err
	}
}
