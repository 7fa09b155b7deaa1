package periods

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/arstatement/internal/platform/db"
)

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

const periodColumns = `id, tenant_id, year, sequence, label, start_date, end_date, cutoff_date, status,
	closed_by, closed_at, reopened_by, reopened_at, reopen_reason,
	opening_balance, closing_balance, total_debits, total_credits,
	created_by, created_at, updated_at`

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL backed period repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxIsolation(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

func (r *pgRepository) Get(ctx context.Context, tenantID, id int64) (Period, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM statement_periods WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanPeriod(row)
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Period, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  = []any{filter.TenantID}
	)
	if filter.Year > 0 {
		args = append(args, filter.Year)
		where = append(where, fmt.Sprintf("year = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM statement_periods WHERE %s ORDER BY start_date DESC LIMIT $%d OFFSET $%d`,
		periodColumns, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pgRepository) FindByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM statement_periods
WHERE tenant_id = $1 AND start_date <= $2 AND end_date >= $2`, tenantID, date)
	return scanPeriod(row)
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) LockTenant(ctx context.Context, tenantID int64) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('statement_periods:' || $1::text, 0))`, tenantID)
	return err
}

func (t *pgTxRepository) LoadForUpdate(ctx context.Context, tenantID, id int64) (Period, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM statement_periods WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id)
	return scanPeriod(row)
}

func (t *pgTxRepository) RangeConflict(ctx context.Context, tenantID int64, start, end time.Time, excludeID int64) (*Period, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM statement_periods
WHERE tenant_id = $1 AND id <> $4 AND start_date <= $3 AND end_date >= $2
ORDER BY start_date LIMIT 1`, tenantID, start, end, excludeID)
	p, err := scanPeriod(row)
	if errors.Is(err, ErrPeriodNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTxRepository) SequenceExists(ctx context.Context, tenantID int64, year, sequence int) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM statement_periods WHERE tenant_id = $1 AND year = $2 AND sequence = $3)`,
		tenantID, year, sequence).Scan(&exists)
	return exists, err
}

func (t *pgTxRepository) Insert(ctx context.Context, p Period) (Period, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO statement_periods
	(tenant_id, year, sequence, label, start_date, end_date, cutoff_date, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`, p.TenantID, p.Year, p.Sequence, p.Label, p.StartDate, p.EndDate, p.CutoffDate, string(p.Status),
		p.CreatedBy, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return Period{}, err
	}
	return p, nil
}

func (t *pgTxRepository) UpdateDates(ctx context.Context, p Period) error {
	_, err := t.tx.Exec(ctx, `UPDATE statement_periods
SET label = $2, start_date = $3, end_date = $4, cutoff_date = $5, updated_at = $6
WHERE id = $1`, p.ID, p.Label, p.StartDate, p.EndDate, p.CutoffDate, p.UpdatedAt)
	return err
}

func (t *pgTxRepository) CurrentFinalRunTotals(ctx context.Context, periodID int64) (Rollup, bool, error) {
	var r Rollup
	err := t.tx.QueryRow(ctx, `SELECT total_opening_balance, total_closing_balance, total_debits, total_credits
FROM statement_runs
WHERE period_id = $1 AND run_type = 'FINAL' AND status = 'COMPLETED' AND superseded_at IS NULL`, periodID).
		Scan(&r.OpeningBalance, &r.ClosingBalance, &r.TotalDebits, &r.TotalCredits)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rollup{}, false, nil
	}
	if err != nil {
		return Rollup{}, false, err
	}
	return r, true, nil
}

func (t *pgTxRepository) MarkClosed(ctx context.Context, periodID int64, rollup Rollup, actorID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE statement_periods
SET status = 'CLOSED', closed_by = $2, closed_at = $3,
	opening_balance = $4, closing_balance = $5, total_debits = $6, total_credits = $7, updated_at = $3
WHERE id = $1`, periodID, actorID, at, rollup.OpeningBalance, rollup.ClosingBalance, rollup.TotalDebits, rollup.TotalCredits)
	return err
}

func (t *pgTxRepository) MarkReopened(ctx context.Context, periodID int64, reason string, actorID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE statement_periods
SET status = 'REOPENED', reopened_by = $2, reopened_at = $3, reopen_reason = $4, updated_at = $3
WHERE id = $1`, periodID, actorID, at, reason)
	return err
}

func (t *pgTxRepository) SupersedeFinalRuns(ctx context.Context, periodID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE statement_runs SET superseded_at = $2
WHERE period_id = $1 AND run_type = 'FINAL' AND status = 'COMPLETED' AND superseded_at IS NULL`, periodID, at)
	return err
}

func (t *pgTxRepository) CountRuns(ctx context.Context, periodID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM statement_runs WHERE period_id = $1`, periodID).Scan(&n)
	return n, err
}

func (t *pgTxRepository) Delete(ctx context.Context, periodID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM close_checklists WHERE period_id = $1`, periodID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM statement_periods WHERE id = $1`, periodID)
	return err
}

func scanPeriod(row pgx.Row) (Period, error) {
	var (
		p      pgPeriodNulls
		period Period
		status string
	)
	err := row.Scan(&period.ID, &period.TenantID, &period.Year, &period.Sequence, &period.Label,
		&period.StartDate, &period.EndDate, &period.CutoffDate, &status,
		&p.closedBy, &p.closedAt, &p.reopenedBy, &p.reopenedAt, &p.reopenReason,
		&p.opening, &p.closing, &p.debits, &p.credits,
		&period.CreatedBy, &period.CreatedAt, &period.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	period.Status = PeriodStatus(status)
	period.ClosedBy = int8ToPointer(p.closedBy)
	period.ClosedAt = timeToPointer(p.closedAt)
	period.ReopenedBy = int8ToPointer(p.reopenedBy)
	period.ReopenedAt = timeToPointer(p.reopenedAt)
	if p.reopenReason.Valid {
		period.ReopenReason = p.reopenReason.String
	}
	if p.closing.Valid {
		period.Rollup = &Rollup{
			OpeningBalance: p.opening.Decimal,
			ClosingBalance: p.closing.Decimal,
			TotalDebits:    p.debits.Decimal,
			TotalCredits:   p.credits.Decimal,
		}
	}
	return period, nil
}

type pgPeriodNulls struct {
	closedBy, reopenedBy              pgtype.Int8
	closedAt, reopenedAt              pgtype.Timestamptz
	reopenReason                      pgtype.Text
	opening, closing, debits, credits decimal.NullDecimal
}

func int8ToPointer(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	val := v.Int64
	return &val
}

func timeToPointer(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
