package checklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/arstatement/internal/periods"
	"github.com/odyssey-erp/arstatement/internal/platform/db"
)

// Repository defines checklist persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, tenantID, id int64) (Checklist, error)
	GetByPeriod(ctx context.Context, tenantID, periodID int64) (Checklist, error)
	// ForStep loads the checklist that owns stepID.
	ForStep(ctx context.Context, tenantID, stepID int64) (Checklist, error)
	// Sweepable lists checklists not yet COMPLETED whose period is OPEN or REOPENED.
	Sweepable(ctx context.Context) ([]SweepTarget, error)
}

// TxRepository defines checklist mutations under a row lock.
type TxRepository interface {
	LockPeriod(ctx context.Context, tenantID, periodID int64) (periods.PeriodStatus, error)
	ExistsForPeriod(ctx context.Context, periodID int64) (bool, error)
	Insert(ctx context.Context, c Checklist) (Checklist, error)
	LockChecklist(ctx context.Context, tenantID, id int64) (Checklist, error)
	SaveStep(ctx context.Context, s Step) error
	SaveStatus(ctx context.Context, c Checklist) error
}

// SweepTarget identifies a checklist for the nightly auto-check sweep.
type SweepTarget struct {
	TenantID    int64
	ChecklistID int64
}

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

const checklistColumns = `id, tenant_id, period_id, status, started_at, completed_at, created_at`

const stepColumns = `id, checklist_id, key, phase, label, description, enforcement, verification, status,
	last_result, signed_off_by, signed_off_at, notes, sort_order`

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL checklist repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxIsolation(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

func (r *pgRepository) Get(ctx context.Context, tenantID, id int64) (Checklist, error) {
	return loadChecklist(ctx, r.pool, `SELECT `+checklistColumns+` FROM close_checklists WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

func (r *pgRepository) GetByPeriod(ctx context.Context, tenantID, periodID int64) (Checklist, error) {
	return loadChecklist(ctx, r.pool, `SELECT `+checklistColumns+` FROM close_checklists WHERE tenant_id = $1 AND period_id = $2`, tenantID, periodID)
}

func (r *pgRepository) ForStep(ctx context.Context, tenantID, stepID int64) (Checklist, error) {
	c, err := loadChecklist(ctx, r.pool, `SELECT `+checklistColumns+` FROM close_checklists
WHERE tenant_id = $1 AND id = (SELECT checklist_id FROM close_checklist_steps WHERE id = $2)`, tenantID, stepID)
	if errors.Is(err, ErrChecklistNotFound) {
		return Checklist{}, ErrStepNotFound
	}
	return c, err
}

func (r *pgRepository) Sweepable(ctx context.Context) ([]SweepTarget, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.tenant_id, c.id FROM close_checklists c
JOIN statement_periods p ON p.id = c.period_id
WHERE c.status <> 'COMPLETED' AND p.status IN ('OPEN', 'REOPENED')
ORDER BY c.tenant_id, c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SweepTarget
	for rows.Next() {
		var t SweepTarget
		if err := rows.Scan(&t.TenantID, &t.ChecklistID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (t *pgTxRepository) LockPeriod(ctx context.Context, tenantID, periodID int64) (periods.PeriodStatus, error) {
	var status string
	err := t.tx.QueryRow(ctx, `SELECT status FROM statement_periods WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, periodID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", periods.ErrPeriodNotFound
	}
	return periods.PeriodStatus(status), err
}

func (t *pgTxRepository) ExistsForPeriod(ctx context.Context, periodID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM close_checklists WHERE period_id = $1)`, periodID).Scan(&exists)
	return exists, err
}

func (t *pgTxRepository) Insert(ctx context.Context, c Checklist) (Checklist, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO close_checklists (tenant_id, period_id, status, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`, c.TenantID, c.PeriodID, string(c.Status), c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return Checklist{}, err
	}
	batch := &pgx.Batch{}
	for _, s := range c.Steps {
		batch.Queue(`INSERT INTO close_checklist_steps
	(checklist_id, key, phase, label, description, enforcement, verification, status, notes, sort_order, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
			c.ID, s.Key, string(s.Phase), s.Label, s.Description, string(s.Enforcement), string(s.Verification),
			string(s.Status), s.Notes, s.SortOrder, c.CreatedAt)
	}
	results := t.tx.SendBatch(ctx, batch)
	for i := range c.Steps {
		if err := results.QueryRow().Scan(&c.Steps[i].ID); err != nil {
			_ = results.Close()
			return Checklist{}, fmt.Errorf("checklist: insert step %s: %w", c.Steps[i].Key, err)
		}
		c.Steps[i].ChecklistID = c.ID
	}
	if err := results.Close(); err != nil {
		return Checklist{}, err
	}
	return c, nil
}

func (t *pgTxRepository) LockChecklist(ctx context.Context, tenantID, id int64) (Checklist, error) {
	return loadChecklist(ctx, t.tx, `SELECT `+checklistColumns+` FROM close_checklists WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id)
}

func (t *pgTxRepository) SaveStep(ctx context.Context, s Step) error {
	var result []byte
	if s.LastResult != nil {
		payload, err := json.Marshal(s.LastResult)
		if err != nil {
			return err
		}
		result = payload
	}
	_, err := t.tx.Exec(ctx, `UPDATE close_checklist_steps
SET status = $2, last_result = $3, signed_off_by = $4, signed_off_at = $5, notes = $6, updated_at = NOW()
WHERE id = $1`, s.ID, string(s.Status), result, s.SignedOffBy, s.SignedOffAt, s.Notes)
	return err
}

func (t *pgTxRepository) SaveStatus(ctx context.Context, c Checklist) error {
	_, err := t.tx.Exec(ctx, `UPDATE close_checklists SET status = $2, started_at = $3, completed_at = $4 WHERE id = $1`,
		c.ID, string(c.Status), c.StartedAt, c.CompletedAt)
	return err
}

func loadChecklist(ctx context.Context, q queryer, query string, args ...any) (Checklist, error) {
	var (
		c         Checklist
		status    string
		started   pgtype.Timestamptz
		completed pgtype.Timestamptz
	)
	err := q.QueryRow(ctx, query, args...).Scan(&c.ID, &c.TenantID, &c.PeriodID, &status, &started, &completed, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checklist{}, ErrChecklistNotFound
	}
	if err != nil {
		return Checklist{}, err
	}
	c.Status = Status(status)
	c.StartedAt = timePtr(started)
	c.CompletedAt = timePtr(completed)

	rows, err := q.Query(ctx, `SELECT `+stepColumns+` FROM close_checklist_steps WHERE checklist_id = $1 ORDER BY sort_order, id`, c.ID)
	if err != nil {
		return Checklist{}, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return Checklist{}, err
		}
		c.Steps = append(c.Steps, s)
	}
	return c, rows.Err()
}

func scanStep(row pgx.Row) (Step, error) {
	var (
		s            Step
		phase        string
		enforcement  string
		verification string
		status       string
		result       []byte
		signedBy     pgtype.Int8
		signedAt     pgtype.Timestamptz
	)
	if err := row.Scan(&s.ID, &s.ChecklistID, &s.Key, &phase, &s.Label, &s.Description, &enforcement, &verification,
		&status, &result, &signedBy, &signedAt, &s.Notes, &s.SortOrder); err != nil {
		return Step{}, err
	}
	s.Phase = Phase(phase)
	s.Enforcement = Enforcement(enforcement)
	s.Verification = Verification(verification)
	s.Status = StepStatus(status)
	if len(result) > 0 {
		var r CheckResult
		if err := json.Unmarshal(result, &r); err != nil {
			return Step{}, fmt.Errorf("checklist: decode step %d result: %w", s.ID, err)
		}
		s.LastResult = &r
	}
	if signedBy.Valid {
		v := signedBy.Int64
		s.SignedOffBy = &v
	}
	s.SignedOffAt = timePtr(signedAt)
	return s, nil
}

func timePtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
