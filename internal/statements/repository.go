package statements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/arstatement/internal/platform/db"
)

// Repository persists statements.
type Repository interface {
	// Insert stores an unnumbered statement.
	Insert(ctx context.Context, st Statement) (Statement, error)
	// InsertNumbered allocates the next number under prefix and stores the statement atomically.
	InsertNumbered(ctx context.Context, st Statement, prefix string) (Statement, error)
	Get(ctx context.Context, tenantID, id int64) (Statement, error)
	ListByRun(ctx context.Context, tenantID, runID int64, limit, offset int) ([]Statement, error)
	ListByProfile(ctx context.Context, tenantID, profileID int64, limit, offset int) ([]Statement, error)
	ListByAccount(ctx context.Context, tenantID, accountID int64, limit, offset int) ([]Statement, error)
	UpdateDelivery(ctx context.Context, tenantID, id int64, ch DeliveryChannel, state DeliveryState) (Statement, error)
	MarkPortalViewed(ctx context.Context, tenantID, id int64, at time.Time) (Statement, error)
	SumRun(ctx context.Context, tenantID, runID int64) (RunSums, error)
}

var _ Repository = (*pgRepository)(nil)

const statementColumns = `id, tenant_id, run_id, period_id, profile_id, account_id, statement_number,
	period_start, period_end, cutoff_date, due_date,
	opening_balance, total_debits, total_credits, closing_balance,
	aging, profile_snapshot, ledger, transaction_count, delivery, portal_viewed_at, created_at`

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL statement store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *pgRepository) Insert(ctx context.Context, st Statement) (Statement, error) {
	return insertStatement(ctx, r.pool, st, nil)
}

// numberKey is the allocated position of a FINAL statement under its prefix.
type numberKey struct {
	prefix string
	seq    int64
}

func (r *pgRepository) InsertNumbered(ctx context.Context, st Statement, prefix string) (Statement, error) {
	var out Statement
	err := db.WithTxIsolation(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('statement-number:' || $1::text || ':' || $2, 0))`,
			st.TenantID, prefix); err != nil {
			return err
		}
		var highest int64
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(number_seq), 0) FROM statements
WHERE tenant_id = $1 AND number_prefix = $2`, st.TenantID, prefix).Scan(&highest); err != nil {
			return err
		}
		key := numberKey{prefix: prefix, seq: highest + 1}
		number := FormatNumber(prefix, key.seq)
		st.StatementNumber = &number
		var err error
		out, err = insertStatement(ctx, tx, st, &key)
		return err
	})
	if err != nil {
		return Statement{}, err
	}
	return out, nil
}

func insertStatement(ctx context.Context, q queryer, st Statement, key *numberKey) (Statement, error) {
	aging, err := json.Marshal(st.Aging)
	if err != nil {
		return Statement{}, err
	}
	snapshot, err := json.Marshal(st.Profile)
	if err != nil {
		return Statement{}, err
	}
	ledger, err := json.Marshal(st.Ledger)
	if err != nil {
		return Statement{}, err
	}
	delivery, err := json.Marshal(st.Delivery)
	if err != nil {
		return Statement{}, err
	}
	var (
		prefix pgtype.Text
		seq    pgtype.Int8
	)
	if key != nil {
		prefix = pgtype.Text{String: key.prefix, Valid: true}
		seq = pgtype.Int8{Int64: key.seq, Valid: true}
	}
	err = q.QueryRow(ctx, `INSERT INTO statements
	(tenant_id, run_id, period_id, profile_id, account_id, statement_number, number_prefix, number_seq,
	 period_start, period_end, cutoff_date, due_date,
	 opening_balance, total_debits, total_credits, closing_balance,
	 aging, profile_snapshot, ledger, transaction_count, delivery)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
RETURNING id, created_at`,
		st.TenantID, st.RunID, st.PeriodID, st.ProfileID, st.AccountID, st.StatementNumber, prefix, seq,
		st.PeriodStart, st.PeriodEnd, st.CutoffDate, st.DueDate,
		st.OpeningBalance, st.TotalDebits, st.TotalCredits, st.ClosingBalance,
		aging, snapshot, ledger, st.TransactionCount, delivery,
	).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return Statement{}, err
	}
	return st, nil
}

func (r *pgRepository) Get(ctx context.Context, tenantID, id int64) (Statement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+statementColumns+` FROM statements WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanStatement(row)
}

func (r *pgRepository) ListByRun(ctx context.Context, tenantID, runID int64, limit, offset int) ([]Statement, error) {
	return r.list(ctx, "run_id", "id", tenantID, runID, limit, offset)
}

func (r *pgRepository) ListByProfile(ctx context.Context, tenantID, profileID int64, limit, offset int) ([]Statement, error) {
	return r.list(ctx, "profile_id", "created_at DESC, id DESC", tenantID, profileID, limit, offset)
}

func (r *pgRepository) ListByAccount(ctx context.Context, tenantID, accountID int64, limit, offset int) ([]Statement, error) {
	return r.list(ctx, "account_id", "created_at DESC, id DESC", tenantID, accountID, limit, offset)
}

func (r *pgRepository) list(ctx context.Context, column, order string, tenantID, key int64, limit, offset int) ([]Statement, error) {
	query := fmt.Sprintf(`SELECT %s FROM statements WHERE tenant_id = $1 AND %s = $2 ORDER BY %s LIMIT $3 OFFSET $4`,
		statementColumns, column, order)
	rows, err := r.pool.Query(ctx, query, tenantID, key, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *pgRepository) UpdateDelivery(ctx context.Context, tenantID, id int64, ch DeliveryChannel, state DeliveryState) (Statement, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return Statement{}, err
	}
	row := r.pool.QueryRow(ctx, `UPDATE statements
SET delivery = jsonb_set(delivery, ARRAY[$3::text], $4::jsonb, true)
WHERE tenant_id = $1 AND id = $2
RETURNING `+statementColumns, tenantID, id, strings.ToLower(string(ch)), payload)
	return scanStatement(row)
}

func (r *pgRepository) MarkPortalViewed(ctx context.Context, tenantID, id int64, at time.Time) (Statement, error) {
	row := r.pool.QueryRow(ctx, `UPDATE statements
SET portal_viewed_at = COALESCE(portal_viewed_at, $3)
WHERE tenant_id = $1 AND id = $2
RETURNING `+statementColumns, tenantID, id, at)
	return scanStatement(row)
}

func (r *pgRepository) SumRun(ctx context.Context, tenantID, runID int64) (RunSums, error) {
	var s RunSums
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
	COALESCE(SUM(opening_balance), 0), COALESCE(SUM(total_debits), 0),
	COALESCE(SUM(total_credits), 0), COALESCE(SUM(closing_balance), 0)
FROM statements WHERE tenant_id = $1 AND run_id = $2`, tenantID, runID).
		Scan(&s.Count, &s.OpeningBalance, &s.Debits, &s.Credits, &s.ClosingBalance)
	return s, err
}

func scanStatement(row pgx.Row) (Statement, error) {
	var (
		st                                Statement
		number                            pgtype.Text
		viewed                            pgtype.Timestamptz
		aging, snapshot, ledger, delivery []byte
	)
	err := row.Scan(&st.ID, &st.TenantID, &st.RunID, &st.PeriodID, &st.ProfileID, &st.AccountID, &number,
		&st.PeriodStart, &st.PeriodEnd, &st.CutoffDate, &st.DueDate,
		&st.OpeningBalance, &st.TotalDebits, &st.TotalCredits, &st.ClosingBalance,
		&aging, &snapshot, &ledger, &st.TransactionCount, &delivery, &viewed, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Statement{}, ErrStatementNotFound
		}
		return Statement{}, err
	}
	if number.Valid {
		n := number.String
		st.StatementNumber = &n
	}
	if viewed.Valid {
		t := viewed.Time
		st.PortalViewedAt = &t
	}
	for _, part := range []struct {
		raw []byte
		dst any
	}{{aging, &st.Aging}, {snapshot, &st.Profile}, {ledger, &st.Ledger}, {delivery, &st.Delivery}} {
		if len(part.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(part.raw, part.dst); err != nil {
			return Statement{}, fmt.Errorf("statements: decode statement %d: %w", st.ID, err)
		}
	}
	return st, nil
}
