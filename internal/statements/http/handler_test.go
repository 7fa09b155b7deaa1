package statementshttp

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

	"github.com/odyssey-erp/arstatement/internal/shared"
	"github.com/odyssey-erp/arstatement/internal/statements"
)

type stubStatementService struct {
	delivery   []statements.UpdateDeliveryInput
	listLimits []int
	viewedAt   *time.Time
}

func (s *stubStatementService) Get(_ context.Context, tenantID, id int64) (statements.Statement, error) {
	if id != 5 || tenantID != 1 {
		return statements.Statement{}, statements.ErrStatementNotFound
	}
	return statements.Statement{ID: 5, TenantID: 1}, nil
}

func (s *stubStatementService) ListByProfile(_ context.Context, _, profileID int64, limit, _ int) ([]statements.Statement, error) {
	s.listLimits = append(s.listLimits, limit)
	return []statements.Statement{{ID: 1, ProfileID: profileID}}, nil
}

func (s *stubStatementService) ListByAccount(_ context.Context, _, _ int64, limit, _ int) ([]statements.Statement, error) {
	s.listLimits = append(s.listLimits, limit)
	return nil, nil
}

func (s *stubStatementService) UpdateDelivery(_ context.Context, in statements.UpdateDeliveryInput) (statements.Statement, error) {
	if _, err := statements.ParseChannel(strings.ToUpper(string(in.Channel))); err != nil {
		return statements.Statement{}, err
	}
	s.delivery = append(s.delivery, in)
	return statements.Statement{ID: in.StatementID}, nil
}

func (s *stubStatementService) MarkPortalViewed(_ context.Context, _, id int64) (statements.Statement, error) {
	if s.viewedAt == nil {
		at := time.Date(2024, 4, 5, 10, 0, 0, 0, time.UTC)
		s.viewedAt = &at
	}
	return statements.Statement{ID: id, PortalViewedAt: s.viewedAt}, nil
}

func newTestRouter(svc statementService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithTenant(req.Context(), 1)))
		})
	})
	NewHandler(logger, svc).MountRoutes(r)
	return r
}

func TestGetStatement(t *testing.T) {
	router := newTestRouter(&stubStatementService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statements/5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statements/6", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statements/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateDelivery(t *testing.T) {
	svc := &stubStatementService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPut, "/statements/5/delivery/email", strings.NewReader(`{"status":"SENT","detail":"smtp 250"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.delivery, 1)
	require.Equal(t, statements.UpdateDeliveryInput{
		TenantID: 1, StatementID: 5, Channel: "email", Status: statements.DeliverySent, Detail: "smtp 250",
	}, svc.delivery[0])

	req = httptest.NewRequest(http.MethodPut, "/statements/5/delivery/fax", strings.NewReader(`{"status":"SENT"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPortalViewedKeepsFirstTimestamp(t *testing.T) {
	router := newTestRouter(&stubStatementService{})

	var stamps []time.Time
	for range 2 {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/statements/5/portal-viewed", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var st statements.Statement
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
		require.NotNil(t, st.PortalViewedAt)
		stamps = append(stamps, *st.PortalViewedAt)
	}
	require.True(t, stamps[0].Equal(stamps[1]))
}

func TestListStatementsPaging(t *testing.T) {
	svc := &stubStatementService{}
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profiles/9/statements?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/9/statements", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/9/statements?limit=x", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, []int{5, shared.DefaultPageLimit}, svc.listLimits)
}
