package statements

import (
	"bytes"
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

type counterKey struct {
	tenantID int64
	prefix   string
}

type memoryStatementRepo struct {
	statements map[int64]Statement
	counters   map[counterKey]int64
	nextID     int64
}

func newMemoryStatementRepo() *memoryStatementRepo {
	return &memoryStatementRepo{statements: make(map[int64]Statement), counters: make(map[counterKey]int64)}
}

func (r *memoryStatementRepo) Insert(_ context.Context, st Statement) (Statement, error) {
	r.nextID++
	st.ID = r.nextID
	r.statements[st.ID] = st
	return st, nil
}

func (r *memoryStatementRepo) InsertNumbered(ctx context.Context, st Statement, prefix string) (Statement, error) {
	key := counterKey{tenantID: st.TenantID, prefix: prefix}
	r.counters[key]++
	next := FormatNumber(prefix, r.counters[key])
	st.StatementNumber = &next
	return r.Insert(ctx, st)
}

func (r *memoryStatementRepo) Get(_ context.Context, tenantID, id int64) (Statement, error) {
	st, ok := r.statements[id]
	if !ok || st.TenantID != tenantID {
		return Statement{}, ErrStatementNotFound
	}
	return st, nil
}

func (r *memoryStatementRepo) filter(match func(Statement) bool, limit, offset int) []Statement {
	var out []Statement
	for _, st := range r.statements {
		if match(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memoryStatementRepo) ListByRun(_ context.Context, tenantID, runID int64, limit, offset int) ([]Statement, error) {
	return r.filter(func(st Statement) bool { return st.TenantID == tenantID && st.RunID == runID }, limit, offset), nil
}

func (r *memoryStatementRepo) ListByProfile(_ context.Context, tenantID, profileID int64, limit, offset int) ([]Statement, error) {
	return r.filter(func(st Statement) bool { return st.TenantID == tenantID && st.ProfileID == profileID }, limit, offset), nil
}

func (r *memoryStatementRepo) ListByAccount(_ context.Context, tenantID, accountID int64, limit, offset int) ([]Statement, error) {
	return r.filter(func(st Statement) bool { return st.TenantID == tenantID && st.AccountID == accountID }, limit, offset), nil
}

func (r *memoryStatementRepo) UpdateDelivery(ctx context.Context, tenantID, id int64, ch DeliveryChannel, state DeliveryState) (Statement, error) {
	st, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return Statement{}, err
	}
	switch ch {
	case ChannelEmail:
		st.Delivery.Email = state
	case ChannelPrint:
		st.Delivery.Print = state
	case ChannelPortal:
		st.Delivery.Portal = state
	case ChannelSMS:
		st.Delivery.SMS = state
	}
	r.statements[id] = st
	return st, nil
}

func (r *memoryStatementRepo) MarkPortalViewed(ctx context.Context, tenantID, id int64, at time.Time) (Statement, error) {
	st, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return Statement{}, err
	}
	if st.PortalViewedAt == nil {
		st.PortalViewedAt = &at
	}
	r.statements[id] = st
	return st, nil
}

func (r *memoryStatementRepo) SumRun(_ context.Context, tenantID, runID int64) (RunSums, error) {
	var sums RunSums
	for _, st := range r.statements {
		if st.TenantID == tenantID && st.RunID == runID {
			sums.Add(st)
		}
	}
	return sums, nil
}

func seedStatement(t *testing.T, repo *memoryStatementRepo, closing int64) Statement {
	t.Helper()
	st, err := repo.InsertNumbered(context.Background(), Statement{
		TenantID: 1, RunID: 10, ProfileID: closing, AccountID: closing * 10,
		OpeningBalance: decimal.Zero, TotalDebits: decimal.NewFromInt(closing), TotalCredits: decimal.Zero,
		ClosingBalance: decimal.NewFromInt(closing), Delivery: NewDelivery(),
		Profile: ProfileSnapshot{DisplayName: "Member", AccountNumber: "M-1"},
	}, NumberPrefix(2024, 3))
	require.NoError(t, err)
	return st
}

func TestInsertNumberedIsMonotonic(t *testing.T) {
	repo := newMemoryStatementRepo()
	first := seedStatement(t, repo, 100)
	second := seedStatement(t, repo, 200)
	require.Equal(t, "STMT-24-03-000001", *first.StatementNumber)
	require.Equal(t, "STMT-24-03-000002", *second.StatementNumber)
}

func TestUpdateDeliveryValidatesAndStamps(t *testing.T) {
	repo := newMemoryStatementRepo()
	svc := NewService(repo, nil)
	fixed := time.Date(2024, 4, 6, 8, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return fixed })
	st := seedStatement(t, repo, 100)
	ctx := context.Background()

	_, err := svc.UpdateDelivery(ctx, UpdateDeliveryInput{TenantID: 1, StatementID: st.ID, Channel: "FAX", Status: DeliverySent})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateDelivery(ctx, UpdateDeliveryInput{TenantID: 1, StatementID: st.ID, Channel: ChannelEmail, Status: "LOST"})
	require.ErrorIs(t, err, ErrInvalidDelivery)

	updated, err := svc.UpdateDelivery(ctx, UpdateDeliveryInput{TenantID: 1, StatementID: st.ID, Channel: "email", Status: "sent", Detail: " smtp ok "})
	require.NoError(t, err)
	require.Equal(t, DeliverySent, updated.Delivery.Email.Status)
	require.Equal(t, "smtp ok", updated.Delivery.Email.Detail)
	require.Equal(t, fixed, *updated.Delivery.Email.UpdatedAt)
	require.Equal(t, DeliveryNotSent, updated.Delivery.SMS.Status)

	_, err = svc.UpdateDelivery(ctx, UpdateDeliveryInput{TenantID: 2, StatementID: st.ID, Channel: ChannelEmail, Status: DeliverySent})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMarkPortalViewedKeepsFirstView(t *testing.T) {
	repo := newMemoryStatementRepo()
	svc := NewService(repo, nil)
	st := seedStatement(t, repo, 100)
	ctx := context.Background()

	first := time.Date(2024, 4, 6, 8, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return first })
	_, err := svc.MarkPortalViewed(ctx, 1, st.ID)
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return first.Add(time.Hour) })
	viewed, err := svc.MarkPortalViewed(ctx, 1, st.ID)
	require.NoError(t, err)
	require.Equal(t, first, *viewed.PortalViewedAt)
}

func TestExportRunWritesSummaryAndRows(t *testing.T) {
	repo := newMemoryStatementRepo()
	svc := NewService(repo, nil)
	seedStatement(t, repo, 1250)
	seedStatement(t, repo, 100)

	raw, err := svc.ExportRun(context.Background(), 1, 10)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	count, err := f.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	require.Equal(t, "2", count)
	closing, err := f.GetCellValue(summarySheet, "B6")
	require.NoError(t, err)
	require.Equal(t, "1,350.00", closing)

	num, err := f.GetCellValue(statementsSheet, "A2")
	require.NoError(t, err)
	require.Equal(t, "STMT-24-03-000001", num)

	cellType, err := f.GetCellType(statementsSheet, "H2")
	require.NoError(t, err)
	require.Equal(t, excelize.CellTypeUnset, cellType)
	raw2, err := f.GetCellValue(statementsSheet, "H2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Equal(t, "1250.00", raw2)
	styled, err := f.GetCellValue(statementsSheet, "H2")
	require.NoError(t, err)
	require.Equal(t, "1,250.00", styled)
}

func TestAmountKeepsEveryDigit(t *testing.T) {
	p := message.NewPrinter(language.English)
	require.Equal(t, "12,345,678,901,234.57", amount(p, decimal.RequireFromString("12345678901234.567")))
	require.Equal(t, "1,000.00", amount(p, decimal.RequireFromString("999.999")))
	require.Equal(t, "-0.50", amount(p, decimal.RequireFromString("-0.5")))
	require.Equal(t, "0.00", amount(p, decimal.RequireFromString("-0.001")))
}
