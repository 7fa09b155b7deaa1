package checklist

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/arstatement/internal/periods"
)

// CheckScope is what an automated check inspects.
type CheckScope struct {
	TenantID int64
	Period   periods.Period
}

// CheckFunc verifies one step key. Returned errors mean the check could not run.
type CheckFunc func(ctx context.Context, scope CheckScope) (CheckResult, error)

// BatchMismatch is a settled payment batch whose payments disagree with its control total.
type BatchMismatch struct {
	BatchID      int64
	Reference    string
	ControlTotal decimal.Decimal
	PaymentTotal decimal.Decimal
}

// TaxLine is an invoice's tax computation inputs; Rate is nil when the code is unknown.
type TaxLine struct {
	InvoiceNumber string
	TaxRateCode   string
	Amount        decimal.Decimal
	TaxAmount     decimal.Decimal
	Rate          *decimal.Decimal
}

// CheckSource supplies the data the built-in checks read.
type CheckSource interface {
	OrphanPayments(ctx context.Context, tenantID int64, from, to time.Time) ([]string, error)
	BatchMismatches(ctx context.Context, tenantID int64, from, to time.Time) ([]BatchMismatch, error)
	UnpostedCredits(ctx context.Context, tenantID int64, from, to time.Time) (int, decimal.Decimal, error)
	TaxInvoiceNumbers(ctx context.Context, tenantID int64, from, to time.Time) ([]string, error)
	TaxLines(ctx context.Context, tenantID int64, from, to time.Time) ([]TaxLine, error)
	ReceivableBalance(ctx context.Context, tenantID int64, asOf time.Time) (decimal.Decimal, error)
	GLControlBalance(ctx context.Context, tenantID int64, asOf time.Time) (decimal.Decimal, bool, error)
}

// Registry dispatches automated verification by step key.
type Registry struct {
	checks        map[string]CheckFunc
	strictUnknown bool
}

// NewRegistry returns an empty registry. With strictUnknown, keys without a
// registered check fail instead of passing.
func NewRegistry(strictUnknown bool) *Registry {
	return &Registry{checks: make(map[string]CheckFunc), strictUnknown: strictUnknown}
}

// Register binds a check to a step key, replacing any previous binding.
func (r *Registry) Register(key string, fn CheckFunc) {
	r.checks[key] = fn
}

// Keys lists registered step keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.checks))
	for k := range r.checks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Run executes the check for key.
func (r *Registry) Run(ctx context.Context, key string, scope CheckScope) (CheckResult, error) {
	fn, ok := r.checks[key]
	if !ok {
		if r.strictUnknown {
			return CheckResult{Passed: false, Message: fmt.Sprintf("no automated check registered for %q", key)}, nil
		}
		return CheckResult{Passed: true, Message: fmt.Sprintf("no automated check registered for %q; passed by default", key)}, nil
	}
	return fn(ctx, scope)
}

// CheckOptions tune the built-in checks.
type CheckOptions struct {
	StrictUnknown bool
	// GLTolerance is the largest absolute AR/GL difference still treated as reconciled.
	GLTolerance decimal.Decimal
}

// NewDefaultRegistry registers the built-in checks over src.
func NewDefaultRegistry(src CheckSource, opts CheckOptions) *Registry {
	r := NewRegistry(opts.StrictUnknown)
	c := builtinChecks{src: src, tolerance: opts.GLTolerance.Abs()}
	r.Register("no_orphan_payments", c.noOrphanPayments)
	r.Register("batch_settlement", c.batchSettlement)
	r.Register("credit_balances_posted", c.creditBalancesPosted)
	r.Register("tax_invoice_sequence", c.taxInvoiceSequence)
	r.Register("tax_rates_correct", c.taxRatesCorrect)
	r.Register("ar_gl_reconciliation", c.arGLReconciliation)
	return r
}

type builtinChecks struct {
	src       CheckSource
	tolerance decimal.Decimal
}

func (c builtinChecks) noOrphanPayments(ctx context.Context, scope CheckScope) (CheckResult, error) {
	from, to := scope.Period.Window()
	refs, err := c.src.OrphanPayments(ctx, scope.TenantID, from, to)
	if err != nil {
		return CheckResult{}, err
	}
	if len(refs) == 0 {
		return CheckResult{Passed: true, Message: "all payments are linked to an account"}, nil
	}
	return CheckResult{
		Message: fmt.Sprintf("%d payment(s) not linked to an account", len(refs)),
		Details: map[string]any{"payments": refs},
	}, nil
}

func (c builtinChecks) batchSettlement(ctx context.Context, scope CheckScope) (CheckResult, error) {
	from, to := scope.Period.Window()
	mismatches, err := c.src.BatchMismatches(ctx, scope.TenantID, from, to)
	if err != nil {
		return CheckResult{}, err
	}
	if len(mismatches) == 0 {
		return CheckResult{Passed: true, Message: "settled batches match their control totals"}, nil
	}
	rows := make([]map[string]any, 0, len(mismatches))
	for _, m := range mismatches {
		rows = append(rows, map[string]any{
			"batch_id":      m.BatchID,
			"reference":     m.Reference,
			"control_total": m.ControlTotal.StringFixed(2),
			"payment_total": m.PaymentTotal.StringFixed(2),
		})
	}
	return CheckResult{
		Message: fmt.Sprintf("%d settled batch(es) disagree with their control total", len(mismatches)),
		Details: map[string]any{"batches": rows},
	}, nil
}

func (c builtinChecks) creditBalancesPosted(ctx context.Context, scope CheckScope) (CheckResult, error) {
	from, to := scope.Period.Window()
	count, total, err := c.src.UnpostedCredits(ctx, scope.TenantID, from, to)
	if err != nil {
		return CheckResult{}, err
	}
	if count == 0 {
		return CheckResult{Passed: true, Message: "all credit balances are posted"}, nil
	}
	return CheckResult{
		Message: fmt.Sprintf("%d unapplied payment(s) totalling %s not posted as credit", count, total.StringFixed(2)),
		Details: map[string]any{"count": count, "total": total.StringFixed(2)},
	}, nil
}

func (c builtinChecks) taxInvoiceSequence(ctx context.Context, scope CheckScope) (CheckResult, error) {
	from, to := scope.Period.Window()
	numbers, err := c.src.TaxInvoiceNumbers(ctx, scope.TenantID, from, to)
	if err != nil {
		return CheckResult{}, err
	}
	gaps, malformed := sequenceGaps(numbers)
	if len(gaps) == 0 && len(malformed) == 0 {
		return CheckResult{Passed: true, Message: fmt.Sprintf("%d tax invoice number(s) without gaps", len(numbers))}, nil
	}
	details := map[string]any{}
	if len(gaps) > 0 {
		details["missing"] = gaps
	}
	if len(malformed) > 0 {
		details["malformed"] = malformed
	}
	return CheckResult{
		Message: fmt.Sprintf("%d gap(s) and %d malformed number(s) in the tax invoice sequence", len(gaps), len(malformed)),
		Details: details,
	}, nil
}

func (c builtinChecks) taxRatesCorrect(ctx context.Context, scope CheckScope) (CheckResult, error) {
	from, to := scope.Period.Window()
	lines, err := c.src.TaxLines(ctx, scope.TenantID, from, to)
	if err != nil {
		return CheckResult{}, err
	}
	var wrong []map[string]any
	for _, l := range lines {
		if l.Rate == nil {
			wrong = append(wrong, map[string]any{"invoice": l.InvoiceNumber, "code": l.TaxRateCode, "reason": "unknown tax code"})
			continue
		}
		expected := l.Amount.Mul(*l.Rate).Round(2)
		if !expected.Equal(l.TaxAmount.Round(2)) {
			wrong = append(wrong, map[string]any{
				"invoice":  l.InvoiceNumber,
				"code":     l.TaxRateCode,
				"expected": expected.StringFixed(2),
				"actual":   l.TaxAmount.StringFixed(2),
			})
		}
	}
	if len(wrong) == 0 {
		return CheckResult{Passed: true, Message: fmt.Sprintf("%d taxed invoice(s) use correct rates", len(lines))}, nil
	}
	return CheckResult{
		Message: fmt.Sprintf("%d invoice(s) with incorrect tax", len(wrong)),
		Details: map[string]any{"invoices": wrong},
	}, nil
}

func (c builtinChecks) arGLReconciliation(ctx context.Context, scope CheckScope) (CheckResult, error) {
	asOf := scope.Period.EndDate
	ar, err := c.src.ReceivableBalance(ctx, scope.TenantID, asOf)
	if err != nil {
		return CheckResult{}, err
	}
	gl, found, err := c.src.GLControlBalance(ctx, scope.TenantID, asOf)
	if err != nil {
		return CheckResult{}, err
	}
	if !found {
		return CheckResult{
			Message: "no AR control balance recorded for period end",
			Details: map[string]any{"as_of": asOf.Format(time.DateOnly), "receivables": ar.StringFixed(2)},
		}, nil
	}
	diff := ar.Sub(gl)
	details := map[string]any{
		"as_of":       asOf.Format(time.DateOnly),
		"receivables": ar.StringFixed(2),
		"gl_control":  gl.StringFixed(2),
		"difference":  diff.StringFixed(2),
	}
	if diff.Abs().LessThanOrEqual(c.tolerance) {
		return CheckResult{Passed: true, Message: "receivables agree with the AR control account", Details: details}, nil
	}
	return CheckResult{Message: fmt.Sprintf("receivables differ from the AR control account by %s", diff.StringFixed(2)), Details: details}, nil
}

// sequenceGaps finds missing counters within each group of numbers sharing a prefix.
// Numbers without a trailing counter are malformed.
func sequenceGaps(numbers []string) (missing []string, malformed []string) {
	type parsed struct {
		prefix string
		n      int
		width  int
	}
	var items []parsed
	for _, raw := range numbers {
		raw = strings.TrimSpace(raw)
		i := len(raw)
		for i > 0 && raw[i-1] >= '0' && raw[i-1] <= '9' {
			i--
		}
		if i == len(raw) {
			malformed = append(malformed, raw)
			continue
		}
		n, err := strconv.Atoi(raw[i:])
		if err != nil {
			malformed = append(malformed, raw)
			continue
		}
		items = append(items, parsed{prefix: raw[:i], n: n, width: len(raw) - i})
	}
	byPrefix := make(map[string][]parsed)
	for _, it := range items {
		byPrefix[it.prefix] = append(byPrefix[it.prefix], it)
	}
	prefixes := make([]string, 0, len(byPrefix))
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		group := byPrefix[p]
		sort.Slice(group, func(i, j int) bool { return group[i].n < group[j].n })
		for i := 1; i < len(group); i++ {
			for n := group[i-1].n + 1; n < group[i].n; n++ {
				missing = append(missing, fmt.Sprintf("%s%0*d", p, group[i].width, n))
			}
		}
	}
	return missing, malformed
}
