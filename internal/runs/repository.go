package runs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/arstatement/internal/periods"
	"github.com/odyssey-erp/arstatement/internal/platform/db"
)

// Repository defines run persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, tenantID, id int64) (Run, error)
	// Load fetches a run by id alone; used by workers that only carry the run id.
	Load(ctx context.Context, id int64) (Run, error)
	List(ctx context.Context, tenantID, periodID int64) ([]Run, error)
	Status(ctx context.Context, id int64) (RunStatus, error)
	// MarkInProgress moves PENDING to IN_PROGRESS, reporting false when the run was not PENDING.
	MarkInProgress(ctx context.Context, id int64, at time.Time) (bool, error)
	SaveProgress(ctx context.Context, id int64, p Progress) error
	// Complete sets a terminal status only while the run is IN_PROGRESS.
	Complete(ctx context.Context, id int64, status RunStatus, p Progress, at time.Time) (bool, error)
	// Cancel flips PENDING or IN_PROGRESS runs to CANCELLED.
	Cancel(ctx context.Context, tenantID, id int64, at time.Time) (bool, error)
	// FailPending marks a run that never started as FAILED.
	FailPending(ctx context.Context, id int64, runErr RunError, at time.Time) error
}

// TxRepository defines the run-start transaction.
type TxRepository interface {
	LockPeriod(ctx context.Context, tenantID, periodID int64) (periods.Period, error)
	CurrentFinalRun(ctx context.Context, periodID int64) (*Run, error)
	ActiveFinalRun(ctx context.Context, periodID int64) (*Run, error)
	NextRunNumber(ctx context.Context, periodID int64) (int, error)
	Insert(ctx context.Context, run Run) (Run, error)
}

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

const runColumns = `id, tenant_id, period_id, run_type, run_number, status, profile_ids, total_profiles,
	processed_count, generated_count, skipped_count,
	total_opening_balance, total_debits, total_credits, total_closing_balance, errors,
	started_by, created_at, started_at, completed_at, superseded_at`

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL run repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxIsolation(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

func (r *pgRepository) Get(ctx context.Context, tenantID, id int64) (Run, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM statement_runs WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (r *pgRepository) Load(ctx context.Context, id int64) (Run, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM statement_runs WHERE id = $1`, id))
}

func (r *pgRepository) List(ctx context.Context, tenantID, periodID int64) ([]Run, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runColumns+` FROM statement_runs
WHERE tenant_id = $1 AND period_id = $2 ORDER BY run_number DESC`, tenantID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *pgRepository) Status(ctx context.Context, id int64) (RunStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM statement_runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return RunStatus(status), err
}

func (r *pgRepository) MarkInProgress(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE statement_runs SET status = 'IN_PROGRESS', started_at = $2
WHERE id = $1 AND status = 'PENDING'`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) SaveProgress(ctx context.Context, id int64, p Progress) error {
	errs, err := marshalErrors(p.Errors)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `UPDATE statement_runs
SET processed_count = $2, generated_count = $3, skipped_count = $4, error_count = $5,
	total_opening_balance = $6, total_debits = $7, total_credits = $8, total_closing_balance = $9, errors = $10
WHERE id = $1 AND status IN ('IN_PROGRESS', 'CANCELLED')`,
		id, p.Processed, p.Generated, p.Skipped, p.ErrorCount(),
		p.Totals.OpeningBalance, p.Totals.Debits, p.Totals.Credits, p.Totals.ClosingBalance, errs)
	return err
}

func (r *pgRepository) Complete(ctx context.Context, id int64, status RunStatus, p Progress, at time.Time) (bool, error) {
	errs, err := marshalErrors(p.Errors)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE statement_runs
SET status = $2, completed_at = $3,
	processed_count = $4, generated_count = $5, skipped_count = $6, error_count = $7,
	total_opening_balance = $8, total_debits = $9, total_credits = $10, total_closing_balance = $11, errors = $12
WHERE id = $1 AND status = 'IN_PROGRESS'`,
		id, string(status), at, p.Processed, p.Generated, p.Skipped, p.ErrorCount(),
		p.Totals.OpeningBalance, p.Totals.Debits, p.Totals.Credits, p.Totals.ClosingBalance, errs)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) Cancel(ctx context.Context, tenantID, id int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE statement_runs SET status = 'CANCELLED', completed_at = $3
WHERE tenant_id = $1 AND id = $2 AND status IN ('PENDING', 'IN_PROGRESS')`, tenantID, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) FailPending(ctx context.Context, id int64, runErr RunError, at time.Time) error {
	errs, err := marshalErrors([]RunError{runErr})
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `UPDATE statement_runs SET status = 'FAILED', completed_at = $2, errors = $3, error_count = 1
WHERE id = $1 AND status = 'PENDING'`, id, at, errs)
	return err
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) LockPeriod(ctx context.Context, tenantID, periodID int64) (periods.Period, error) {
	var (
		p      periods.Period
		status string
	)
	err := t.tx.QueryRow(ctx, `SELECT id, tenant_id, year, sequence, label, start_date, end_date, cutoff_date, status
FROM statement_periods WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, periodID).
		Scan(&p.ID, &p.TenantID, &p.Year, &p.Sequence, &p.Label, &p.StartDate, &p.EndDate, &p.CutoffDate, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	p.Status = periods.PeriodStatus(status)
	return p, err
}

func (t *pgTxRepository) CurrentFinalRun(ctx context.Context, periodID int64) (*Run, error) {
	return t.optionalRun(ctx, `SELECT `+runColumns+` FROM statement_runs
WHERE period_id = $1 AND run_type = 'FINAL' AND status = 'COMPLETED' AND superseded_at IS NULL`, periodID)
}

func (t *pgTxRepository) ActiveFinalRun(ctx context.Context, periodID int64) (*Run, error) {
	return t.optionalRun(ctx, `SELECT `+runColumns+` FROM statement_runs
WHERE period_id = $1 AND run_type = 'FINAL' AND status IN ('PENDING', 'IN_PROGRESS')
ORDER BY run_number DESC LIMIT 1`, periodID)
}

func (t *pgTxRepository) optionalRun(ctx context.Context, query string, args ...any) (*Run, error) {
	run, err := scanRun(t.tx.QueryRow(ctx, query, args...))
	if errors.Is(err, ErrRunNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (t *pgTxRepository) NextRunNumber(ctx context.Context, periodID int64) (int, error) {
	var next int
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(run_number), 0) + 1 FROM statement_runs WHERE period_id = $1`, periodID).Scan(&next)
	return next, err
}

func (t *pgTxRepository) Insert(ctx context.Context, run Run) (Run, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO statement_runs
	(tenant_id, period_id, run_type, run_number, status, profile_ids, total_profiles, started_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`, run.TenantID, run.PeriodID, string(run.RunType), run.RunNumber, string(run.Status),
		run.ProfileIDs, run.TotalProfiles, run.StartedBy, run.CreatedAt).Scan(&run.ID)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func scanRun(row pgx.Row) (Run, error) {
	var (
		run                             Run
		runType, status                 string
		errs                            []byte
		startedAt, completedAt, superAt pgtype.Timestamptz
	)
	err := row.Scan(&run.ID, &run.TenantID, &run.PeriodID, &runType, &run.RunNumber, &status, &run.ProfileIDs, &run.TotalProfiles,
		&run.Progress.Processed, &run.Progress.Generated, &run.Progress.Skipped,
		&run.Progress.Totals.OpeningBalance, &run.Progress.Totals.Debits, &run.Progress.Totals.Credits, &run.Progress.Totals.ClosingBalance,
		&errs, &run.StartedBy, &run.CreatedAt, &startedAt, &completedAt, &superAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, err
	}
	run.RunType = RunType(runType)
	run.Status = RunStatus(status)
	run.StartedAt = timePtr(startedAt)
	run.CompletedAt = timePtr(completedAt)
	run.SupersededAt = timePtr(superAt)
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &run.Progress.Errors); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func marshalErrors(errs []RunError) ([]byte, error) {
	if errs == nil {
		errs = []RunError{}
	}
	return json.Marshal(errs)
}

func timePtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
