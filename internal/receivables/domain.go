// Package receivables exposes the billing data the statement engine consumes but does not own:
// receivable profiles, invoices, payments and tenant billing settings.
package receivables

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProfileStatus enumerates receivable profile states.
type ProfileStatus string

const (
	ProfileStatusActive    ProfileStatus = "ACTIVE"
	ProfileStatusInactive  ProfileStatus = "INACTIVE"
	ProfileStatusSuspended ProfileStatus = "SUSPENDED"
)

// ProfileKind distinguishes member accounts from organisational ones.
type ProfileKind string

const (
	ProfileKindIndividual   ProfileKind = "INDIVIDUAL"
	ProfileKindOrganization ProfileKind = "ORGANIZATION"
)

// Profile is one billable account.
type Profile struct {
	ID               int64
	TenantID         int64
	AccountID        int64
	AccountNumber    string
	Kind             ProfileKind
	DisplayName      string
	Email            string
	BillingAddress   string
	PaymentTermsDays int
	CreditLimit      decimal.Decimal
	CurrentBalance   decimal.Decimal
	Status           ProfileStatus
}

// Invoice is a posted charge against an account.
type Invoice struct {
	ID          int64
	AccountID   int64
	Number      string
	InvoiceDate time.Time
	DueDate     time.Time
	Description string
	Amount      decimal.Decimal
	BalanceDue  decimal.Decimal
}

// Payment is a receipt credited to an account.
type Payment struct {
	ID          int64
	AccountID   int64
	Reference   string
	Method      string
	PaymentDate time.Time
	Amount      decimal.Decimal
}

// DateRange is an inclusive date window.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Source is the read-only view of receivables used during statement generation.
type Source interface {
	// ActiveProfiles returns ACTIVE profiles of the tenant, restricted to ids when non-empty.
	ActiveProfiles(ctx context.Context, tenantID int64, ids []int64) ([]Profile, error)
	Profile(ctx context.Context, tenantID, profileID int64) (Profile, error)
	ProfileByAccount(ctx context.Context, tenantID, accountID int64) (Profile, error)
	Invoices(ctx context.Context, tenantID, accountID int64, window DateRange) ([]Invoice, error)
	Payments(ctx context.Context, tenantID, accountID int64, window DateRange) ([]Payment, error)
	// PriorBalance sums unpaid balance on invoices dated before the given date.
	PriorBalance(ctx context.Context, tenantID, accountID int64, before time.Time) (decimal.Decimal, error)
}

// Settings exposes tenant billing settings.
type Settings interface {
	// ChecklistTemplate returns the raw custom close-checklist template, nil when unset.
	ChecklistTemplate(ctx context.Context, tenantID int64) ([]byte, error)
}
