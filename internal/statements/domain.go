// Package statements computes and stores per-profile AR statements.
package statements

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/arstatement/internal/receivables"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

// RunType distinguishes trial generation from the numbered, close-eligible batch.
type RunType string

const (
	RunTypePreview RunType = "PREVIEW"
	RunTypeFinal   RunType = "FINAL"
)

// Valid reports whether the run type is known.
func (t RunType) Valid() bool {
	return t == RunTypePreview || t == RunTypeFinal
}

// EntryKind tags a ledger movement.
type EntryKind string

const (
	EntryKindInvoice EntryKind = "INVOICE"
	EntryKindPayment EntryKind = "PAYMENT"
)

// InvoiceMovement holds invoice-only ledger fields.
type InvoiceMovement struct {
	InvoiceID  int64           `json:"invoice_id"`
	Number     string          `json:"number"`
	DueDate    time.Time       `json:"due_date"`
	BalanceDue decimal.Decimal `json:"balance_due"`
}

// PaymentMovement holds payment-only ledger fields.
type PaymentMovement struct {
	PaymentID int64  `json:"payment_id"`
	Reference string `json:"reference"`
	Method    string `json:"method,omitempty"`
}

// LedgerEntry is one movement on a statement; exactly one of Invoice or Payment is set.
type LedgerEntry struct {
	Kind           EntryKind        `json:"kind"`
	Date           time.Time        `json:"date"`
	Description    string           `json:"description"`
	Amount         decimal.Decimal  `json:"amount"`
	RunningBalance decimal.Decimal  `json:"running_balance"`
	Invoice        *InvoiceMovement `json:"invoice,omitempty"`
	Payment        *PaymentMovement `json:"payment,omitempty"`
}

// ProfileSnapshot freezes the billing identity at generation time.
type ProfileSnapshot struct {
	DisplayName      string                  `json:"display_name"`
	AccountNumber    string                  `json:"account_number"`
	Kind             receivables.ProfileKind `json:"kind"`
	Email            string                  `json:"email,omitempty"`
	BillingAddress   string                  `json:"billing_address,omitempty"`
	PaymentTermsDays int                     `json:"payment_terms_days"`
	CreditLimit      decimal.Decimal         `json:"credit_limit"`
}

// DeliveryChannel names a distribution channel.
type DeliveryChannel string

const (
	ChannelEmail  DeliveryChannel = "EMAIL"
	ChannelPrint  DeliveryChannel = "PRINT"
	ChannelPortal DeliveryChannel = "PORTAL"
	ChannelSMS    DeliveryChannel = "SMS"
)

// DeliveryStatus tracks one channel's distribution state.
type DeliveryStatus string

const (
	DeliveryNotSent   DeliveryStatus = "NOT_SENT"
	DeliveryQueued    DeliveryStatus = "QUEUED"
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// DeliveryState is the state of a single channel.
type DeliveryState struct {
	Status    DeliveryStatus `json:"status"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

// Delivery groups the independent per-channel states.
type Delivery struct {
	Email  DeliveryState `json:"email"`
	Print  DeliveryState `json:"print"`
	Portal DeliveryState `json:"portal"`
	SMS    DeliveryState `json:"sms"`
}

// NewDelivery returns all channels as NOT_SENT.
func NewDelivery() Delivery {
	idle := DeliveryState{Status: DeliveryNotSent}
	return Delivery{Email: idle, Print: idle, Portal: idle, SMS: idle}
}

// Channel returns the state of ch.
func (d Delivery) Channel(ch DeliveryChannel) DeliveryState {
	switch ch {
	case ChannelEmail:
		return d.Email
	case ChannelPrint:
		return d.Print
	case ChannelPortal:
		return d.Portal
	default:
		return d.SMS
	}
}

// Statement is one profile's snapshot for a run.
type Statement struct {
	ID               int64                    `json:"id"`
	TenantID         int64                    `json:"tenant_id"`
	RunID            int64                    `json:"run_id"`
	PeriodID         int64                    `json:"period_id"`
	ProfileID        int64                    `json:"profile_id"`
	AccountID        int64                    `json:"account_id"`
	StatementNumber  *string                  `json:"statement_number,omitempty"`
	PeriodStart      time.Time                `json:"period_start"`
	PeriodEnd        time.Time                `json:"period_end"`
	CutoffDate       time.Time                `json:"cutoff_date"`
	DueDate          time.Time                `json:"due_date"`
	OpeningBalance   decimal.Decimal          `json:"opening_balance"`
	TotalDebits      decimal.Decimal          `json:"total_debits"`
	TotalCredits     decimal.Decimal          `json:"total_credits"`
	ClosingBalance   decimal.Decimal          `json:"closing_balance"`
	Aging            receivables.AgingBuckets `json:"aging"`
	Profile          ProfileSnapshot          `json:"profile"`
	Ledger           []LedgerEntry            `json:"ledger"`
	TransactionCount int                      `json:"transaction_count"`
	Delivery         Delivery                 `json:"delivery"`
	PortalViewedAt   *time.Time               `json:"portal_viewed_at,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

// RunSums re-aggregates persisted statements of a run.
type RunSums struct {
	Count          int             `json:"count"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Debits         decimal.Decimal `json:"debits"`
	Credits        decimal.Decimal `json:"credits"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// Add folds one statement into the sums.
func (s *RunSums) Add(st Statement) {
	s.Count++
	s.OpeningBalance = s.OpeningBalance.Add(st.OpeningBalance)
	s.Debits = s.Debits.Add(st.TotalDebits)
	s.Credits = s.Credits.Add(st.TotalCredits)
	s.ClosingBalance = s.ClosingBalance.Add(st.ClosingBalance)
}

// UpdateDeliveryInput sets one channel's delivery state.
type UpdateDeliveryInput struct {
	TenantID    int64
	StatementID int64
	Channel     DeliveryChannel
	Status      DeliveryStatus
	Detail      string
}

var (
	ErrStatementNotFound = fmt.Errorf("statements: statement not found: %w", shared.ErrNotFound)
	ErrInvalidChannel    = fmt.Errorf("statements: unknown delivery channel: %w", shared.ErrValidation)
	ErrInvalidDelivery   = fmt.Errorf("statements: unknown delivery status: %w", shared.ErrValidation)
)

// ParseChannel validates a delivery channel name.
func ParseChannel(raw string) (DeliveryChannel, error) {
	switch ch := DeliveryChannel(raw); ch {
	case ChannelEmail, ChannelPrint, ChannelPortal, ChannelSMS:
		return ch, nil
	default:
		return "", ErrInvalidChannel
	}
}

func validDeliveryStatus(s DeliveryStatus) bool {
	switch s {
	case DeliveryNotSent, DeliveryQueued, DeliverySent, DeliveryDelivered, DeliveryFailed:
		return true
	default:
		return false
	}
}
