package checklist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGCheckSource reads check inputs from the billing tables.
type PGCheckSource struct {
	pool *pgxpool.Pool
}

var _ CheckSource = (*PGCheckSource)(nil)

// NewCheckSource constructs the PostgreSQL check source.
func NewCheckSource(pool *pgxpool.Pool) *PGCheckSource {
	return &PGCheckSource{pool: pool}
}

func (s *PGCheckSource) OrphanPayments(ctx context.Context, tenantID int64, from, to time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT reference FROM payments
WHERE tenant_id = $1 AND account_id IS NULL AND payment_date BETWEEN $2 AND $3
ORDER BY payment_date, id`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PGCheckSource) BatchMismatches(ctx context.Context, tenantID int64, from, to time.Time) ([]BatchMismatch, error) {
	rows, err := s.pool.Query(ctx, `SELECT b.id, b.reference, b.control_total, COALESCE(SUM(p.amount), 0)
FROM payment_batches b
LEFT JOIN payments p ON p.batch_id = b.id
WHERE b.tenant_id = $1 AND b.status = 'SETTLED' AND b.settled_at::date BETWEEN $2 AND $3
GROUP BY b.id, b.reference, b.control_total
HAVING b.control_total <> COALESCE(SUM(p.amount), 0)
ORDER BY b.id`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchMismatch
	for rows.Next() {
		var m BatchMismatch
		if err := rows.Scan(&m.BatchID, &m.Reference, &m.ControlTotal, &m.PaymentTotal); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGCheckSource) UnpostedCredits(ctx context.Context, tenantID int64, from, to time.Time) (int, decimal.Decimal, error) {
	var (
		count int
		total decimal.Decimal
	)
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(unapplied), 0) FROM payments
WHERE tenant_id = $1 AND unapplied > 0 AND NOT credit_posted AND payment_date BETWEEN $2 AND $3`,
		tenantID, from, to).Scan(&count, &total)
	return count, total, err
}

func (s *PGCheckSource) TaxInvoiceNumbers(ctx context.Context, tenantID int64, from, to time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT tax_number FROM invoices
WHERE tenant_id = $1 AND tax_number IS NOT NULL AND invoice_date BETWEEN $2 AND $3
ORDER BY tax_number`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PGCheckSource) TaxLines(ctx context.Context, tenantID int64, from, to time.Time) ([]TaxLine, error) {
	rows, err := s.pool.Query(ctx, `SELECT i.number, i.tax_rate_code, i.amount, i.tax_amount, r.rate
FROM invoices i
LEFT JOIN tax_rates r ON r.tenant_id = i.tenant_id AND r.code = i.tax_rate_code
WHERE i.tenant_id = $1 AND i.tax_rate_code IS NOT NULL AND i.status <> 'VOID' AND i.invoice_date BETWEEN $2 AND $3
ORDER BY i.invoice_date, i.id`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaxLine
	for rows.Next() {
		var (
			l    TaxLine
			rate decimal.NullDecimal
		)
		if err := rows.Scan(&l.InvoiceNumber, &l.TaxRateCode, &l.Amount, &l.TaxAmount, &rate); err != nil {
			return nil, err
		}
		if rate.Valid {
			r := rate.Decimal
			l.Rate = &r
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PGCheckSource) ReceivableBalance(ctx context.Context, tenantID int64, asOf time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(balance_due), 0) FROM invoices
WHERE tenant_id = $1 AND status <> 'VOID' AND invoice_date <= $2`, tenantID, asOf).Scan(&balance)
	return balance, err
}

func (s *PGCheckSource) GLControlBalance(ctx context.Context, tenantID int64, asOf time.Time) (decimal.Decimal, bool, error) {
	var balance decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT balance FROM gl_control_balances WHERE tenant_id = $1 AND as_of = $2`, tenantID, asOf).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return balance, true, nil
}
