package receivables

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

// ErrProfileNotFound indicates the profile is missing or belongs to another tenant.
var ErrProfileNotFound = fmt.Errorf("receivables: profile not found: %w", shared.ErrNotFound)

// Repository reads receivables data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ Source   = (*Repository)(nil)
	_ Settings = (*Repository)(nil)
)

const profileColumns = `id, tenant_id, account_id, account_number, kind, display_name, email, billing_address,
	payment_terms_days, credit_limit, current_balance, status`

// ActiveProfiles returns ACTIVE profiles, optionally restricted to ids.
func (r *Repository) ActiveProfiles(ctx context.Context, tenantID int64, ids []int64) ([]Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM receivable_profiles
WHERE tenant_id = $1 AND status = 'ACTIVE' AND (cardinality($2::bigint[]) = 0 OR id = ANY($2))
ORDER BY id`
	if ids == nil {
		ids = []int64{}
	}
	rows, err := r.pool.Query(ctx, query, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var profiles []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Profile loads a profile by id.
func (r *Repository) Profile(ctx context.Context, tenantID, profileID int64) (Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM receivable_profiles WHERE tenant_id = $1 AND id = $2`, tenantID, profileID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	return p, err
}

// ProfileByAccount loads the profile bound to an account.
func (r *Repository) ProfileByAccount(ctx context.Context, tenantID, accountID int64) (Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM receivable_profiles WHERE tenant_id = $1 AND account_id = $2`, tenantID, accountID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	return p, err
}

// Invoices returns posted invoices dated inside the window.
func (r *Repository) Invoices(ctx context.Context, tenantID, accountID int64, window DateRange) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, account_id, number, invoice_date, due_date, description, amount, balance_due
FROM invoices
WHERE tenant_id = $1 AND account_id = $2 AND status <> 'VOID' AND invoice_date BETWEEN $3 AND $4
ORDER BY invoice_date, id`, tenantID, accountID, window.From, window.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.AccountID, &inv.Number, &inv.InvoiceDate, &inv.DueDate, &inv.Description, &inv.Amount, &inv.BalanceDue); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// Payments returns payments dated inside the window.
func (r *Repository) Payments(ctx context.Context, tenantID, accountID int64, window DateRange) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, account_id, reference, method, payment_date, amount
FROM payments
WHERE tenant_id = $1 AND account_id = $2 AND payment_date BETWEEN $3 AND $4
ORDER BY payment_date, id`, tenantID, accountID, window.From, window.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Reference, &p.Method, &p.PaymentDate, &p.Amount); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// PriorBalance sums the unpaid balance of invoices dated before the given date.
func (r *Repository) PriorBalance(ctx context.Context, tenantID, accountID int64, before time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(balance_due), 0)
FROM invoices
WHERE tenant_id = $1 AND account_id = $2 AND status <> 'VOID' AND invoice_date < $3`, tenantID, accountID, before).Scan(&total)
	return total, err
}

// ChecklistTemplate returns the tenant's custom checklist template JSON.
func (r *Repository) ChecklistTemplate(ctx context.Context, tenantID int64) ([]byte, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT checklist_template FROM billing_settings WHERE tenant_id = $1`, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return raw, err
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.TenantID, &p.AccountID, &p.AccountNumber, &p.Kind, &p.DisplayName, &p.Email,
		&p.BillingAddress, &p.PaymentTermsDays, &p.CreditLimit, &p.CurrentBalance, &p.Status)
	return p, err
}
