package checklist

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/arstatement/internal/periods"
)

type memoryChecklistRepo struct {
	periods    map[int64]periods.Period
	lists      map[int64]Checklist
	nextID     int64
	nextStepID int64
}

type memoryChecklistTx struct {
	repo *memoryChecklistRepo
}

func newMemoryChecklistRepo(ps ...periods.Period) *memoryChecklistRepo {
	r := &memoryChecklistRepo{periods: make(map[int64]periods.Period), lists: make(map[int64]Checklist)}
	for _, p := range ps {
		r.periods[p.ID] = p
	}
	return r
}

func cloneChecklist(c Checklist) Checklist {
	c.Steps = append([]Step(nil), c.Steps...)
	return c
}

func (r *memoryChecklistRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Checklist, len(r.lists))
	for id, c := range r.lists {
		snapshot[id] = cloneChecklist(c)
	}
	if err := fn(ctx, &memoryChecklistTx{repo: r}); err != nil {
		r.lists = snapshot
		return err
	}
	return nil
}

func (r *memoryChecklistRepo) GetPeriod(_ context.Context, tenantID, id int64) (periods.Period, error) {
	p, ok := r.periods[id]
	if !ok || p.TenantID != tenantID {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	return p, nil
}

func (r *memoryChecklistRepo) Get(_ context.Context, tenantID, id int64) (Checklist, error) {
	c, ok := r.lists[id]
	if !ok || c.TenantID != tenantID {
		return Checklist{}, ErrChecklistNotFound
	}
	return cloneChecklist(c), nil
}

func (r *memoryChecklistRepo) GetByPeriod(_ context.Context, tenantID, periodID int64) (Checklist, error) {
	for _, c := range r.lists {
		if c.TenantID == tenantID && c.PeriodID == periodID {
			return cloneChecklist(c), nil
		}
	}
	return Checklist{}, ErrChecklistNotFound
}

func (r *memoryChecklistRepo) ForStep(_ context.Context, tenantID, stepID int64) (Checklist, error) {
	for _, c := range r.lists {
		if c.TenantID != tenantID {
			continue
		}
		if _, ok := c.Step(stepID); ok {
			return cloneChecklist(c), nil
		}
	}
	return Checklist{}, ErrStepNotFound
}

func (r *memoryChecklistRepo) Sweepable(context.Context) ([]SweepTarget, error) {
	var out []SweepTarget
	for _, c := range r.lists {
		p := r.periods[c.PeriodID]
		if c.Status != StatusCompleted && p.Status != periods.PeriodStatusClosed {
			out = append(out, SweepTarget{TenantID: c.TenantID, ChecklistID: c.ID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChecklistID < out[j].ChecklistID })
	return out, nil
}

func (t *memoryChecklistTx) LockPeriod(_ context.Context, tenantID, periodID int64) (periods.PeriodStatus, error) {
	p, ok := t.repo.periods[periodID]
	if !ok || p.TenantID != tenantID {
		return "", periods.ErrPeriodNotFound
	}
	return p.Status, nil
}

func (t *memoryChecklistTx) ExistsForPeriod(_ context.Context, periodID int64) (bool, error) {
	for _, c := range t.repo.lists {
		if c.PeriodID == periodID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryChecklistTx) Insert(_ context.Context, c Checklist) (Checklist, error) {
	t.repo.nextID++
	c.ID = t.repo.nextID
	for i := range c.Steps {
		t.repo.nextStepID++
		c.Steps[i].ID = t.repo.nextStepID
		c.Steps[i].ChecklistID = c.ID
	}
	t.repo.lists[c.ID] = cloneChecklist(c)
	return c, nil
}

func (t *memoryChecklistTx) LockChecklist(ctx context.Context, tenantID, id int64) (Checklist, error) {
	return t.repo.Get(ctx, tenantID, id)
}

func (t *memoryChecklistTx) SaveStep(_ context.Context, s Step) error {
	c := t.repo.lists[s.ChecklistID]
	for i := range c.Steps {
		if c.Steps[i].ID == s.ID {
			c.Steps[i] = s
		}
	}
	t.repo.lists[s.ChecklistID] = c
	return nil
}

func (t *memoryChecklistTx) SaveStatus(_ context.Context, c Checklist) error {
	stored := t.repo.lists[c.ID]
	stored.Status = c.Status
	stored.StartedAt = c.StartedAt
	stored.CompletedAt = c.CompletedAt
	t.repo.lists[c.ID] = stored
	return nil
}

type stubSettings struct {
	template []byte
}

func (s stubSettings) ChecklistTemplate(context.Context, int64) ([]byte, error) {
	return s.template, nil
}

type stubCheckSource struct {
	orphans    []string
	mismatches []BatchMismatch
	unposted   int
	taxNumbers []string
	taxLines   []TaxLine
	ar         decimal.Decimal
	gl         *decimal.Decimal
	err        error
}

func (s *stubCheckSource) OrphanPayments(context.Context, int64, time.Time, time.Time) ([]string, error) {
	return s.orphans, nil
}

func (s *stubCheckSource) BatchMismatches(context.Context, int64, time.Time, time.Time) ([]BatchMismatch, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.mismatches, nil
}

func (s *stubCheckSource) UnpostedCredits(context.Context, int64, time.Time, time.Time) (int, decimal.Decimal, error) {
	return s.unposted, decimal.NewFromInt(int64(s.unposted) * 10), nil
}

func (s *stubCheckSource) TaxInvoiceNumbers(context.Context, int64, time.Time, time.Time) ([]string, error) {
	return s.taxNumbers, nil
}

func (s *stubCheckSource) TaxLines(context.Context, int64, time.Time, time.Time) ([]TaxLine, error) {
	return s.taxLines, nil
}

func (s *stubCheckSource) ReceivableBalance(context.Context, int64, time.Time) (decimal.Decimal, error) {
	return s.ar, nil
}

func (s *stubCheckSource) GLControlBalance(context.Context, int64, time.Time) (decimal.Decimal, bool, error) {
	if s.gl == nil {
		return decimal.Zero, false, nil
	}
	return *s.gl, true, nil
}
