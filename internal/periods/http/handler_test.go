package periodshttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/arstatement/internal/periods"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

type stubPeriodService struct {
	createFn func(ctx context.Context, in periods.CreatePeriodInput) (periods.Period, error)
	closeFn  func(ctx context.Context, tenantID, periodID, actorID int64) (periods.Period, error)
	reopenFn func(ctx context.Context, tenantID, periodID int64, reason string, actorID int64) (periods.Period, error)
}

func (s *stubPeriodService) CreatePeriod(ctx context.Context, in periods.CreatePeriodInput) (periods.Period, error) {
	return s.createFn(ctx, in)
}

func (s *stubPeriodService) GetPeriod(context.Context, int64, int64) (periods.Period, error) {
	return periods.Period{}, periods.ErrPeriodNotFound
}

func (s *stubPeriodService) ListPeriods(context.Context, periods.ListFilter) ([]periods.Period, error) {
	return nil, nil
}

func (s *stubPeriodService) FindByDate(context.Context, int64, time.Time) (periods.Period, error) {
	return periods.Period{}, periods.ErrPeriodNotFound
}

func (s *stubPeriodService) UpdatePeriodDates(context.Context, periods.UpdateDatesInput) (periods.Period, error) {
	return periods.Period{}, nil
}

func (s *stubPeriodService) ClosePeriod(ctx context.Context, tenantID, periodID, actorID int64) (periods.Period, error) {
	return s.closeFn(ctx, tenantID, periodID, actorID)
}

func (s *stubPeriodService) ReopenPeriod(ctx context.Context, tenantID, periodID int64, reason string, actorID int64) (periods.Period, error) {
	return s.reopenFn(ctx, tenantID, periodID, reason, actorID)
}

func (s *stubPeriodService) DeletePeriod(context.Context, int64, int64) error {
	return nil
}

func newTestRouter(svc periodService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithTenant(req.Context(), 1)
			ctx = shared.ContextWithActor(ctx, 42)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	NewHandler(logger, svc).MountRoutes(r)
	return r
}

func TestCreatePeriodParsesDates(t *testing.T) {
	var captured periods.CreatePeriodInput
	svc := &stubPeriodService{
		createFn: func(_ context.Context, in periods.CreatePeriodInput) (periods.Period, error) {
			captured = in
			return periods.Period{ID: 5, Status: periods.PeriodStatusOpen}, nil
		},
	}
	body := `{"year":2024,"sequence":3,"label":"March","start_date":"2024-03-01","end_date":"2024-03-31","cutoff_date":"2024-04-02"}`
	req := httptest.NewRequest(http.MethodPost, "/periods", strings.NewReader(body))
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, int64(1), captured.TenantID)
	require.Equal(t, int64(42), captured.ActorID)
	require.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), captured.CutoffDate)

	var out periods.Period
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, int64(5), out.ID)
}

func TestCreatePeriodRejectsBadDate(t *testing.T) {
	svc := &stubPeriodService{}
	body := `{"year":2024,"sequence":3,"label":"March","start_date":"03/01/2024","end_date":"2024-03-31","cutoff_date":"2024-04-02"}`
	req := httptest.NewRequest(http.MethodPost, "/periods", strings.NewReader(body))
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestClosePeriodMapsConflict(t *testing.T) {
	svc := &stubPeriodService{
		closeFn: func(_ context.Context, tenantID, periodID, actorID int64) (periods.Period, error) {
			if periodID != 9 || actorID != 42 {
				t.Fatalf("unexpected close args period=%d actor=%d", periodID, actorID)
			}
			return periods.Period{}, periods.ErrNoCompletedFinalRun
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/periods/9/close", nil)
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "no completed final run")
}

func TestReopenPeriodPassesReason(t *testing.T) {
	svc := &stubPeriodService{
		reopenFn: func(_ context.Context, _, _ int64, reason string, _ int64) (periods.Period, error) {
			require.Equal(t, "correction", reason)
			return periods.Period{ID: 9, Status: periods.PeriodStatusReopened}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/periods/9/reopen", strings.NewReader(`{"reason":"correction"}`))
	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestGetPeriodNotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/periods/3", nil)
	rr := httptest.NewRecorder()
	newTestRouter(&stubPeriodService{}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}
