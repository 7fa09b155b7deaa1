package periodshttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/arstatement/internal/periods"
	"github.com/odyssey-erp/arstatement/internal/platform/httpx"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

type periodService interface {
	CreatePeriod(ctx context.Context, in periods.CreatePeriodInput) (periods.Period, error)
	GetPeriod(ctx context.Context, tenantID, id int64) (periods.Period, error)
	ListPeriods(ctx context.Context, filter periods.ListFilter) ([]periods.Period, error)
	FindByDate(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error)
	UpdatePeriodDates(ctx context.Context, in periods.UpdateDatesInput) (periods.Period, error)
	ClosePeriod(ctx context.Context, tenantID, periodID, actorID int64) (periods.Period, error)
	ReopenPeriod(ctx context.Context, tenantID, periodID int64, reason string, actorID int64) (periods.Period, error)
	DeletePeriod(ctx context.Context, tenantID, periodID int64) error
}

// Handler exposes statement period endpoints.
type Handler struct {
	logger  *slog.Logger
	service periodService
}

// NewHandler constructs a period HTTP handler.
func NewHandler(logger *slog.Logger, service periodService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	// Flat patterns so run and checklist routes can share the /periods/{id} prefix.
	r.Get("/periods", h.listPeriods)
	r.Post("/periods", h.createPeriod)
	r.Get("/periods/{id}", h.getPeriod)
	r.Patch("/periods/{id}", h.updatePeriod)
	r.Delete("/periods/{id}", h.deletePeriod)
	r.Post("/periods/{id}/close", h.closePeriod)
	r.Post("/periods/{id}/reopen", h.reopenPeriod)
}

type createPeriodRequest struct {
	Year       int    `json:"year"`
	Sequence   int    `json:"sequence"`
	Label      string `json:"label"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	CutoffDate string `json:"cutoff_date"`
}

type updatePeriodRequest struct {
	Label      *string `json:"label"`
	StartDate  *string `json:"start_date"`
	EndDate    *string `json:"end_date"`
	CutoffDate *string `json:"cutoff_date"`
}

type reopenRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if on := strings.TrimSpace(r.URL.Query().Get("date")); on != "" {
		d, err := parseDate("date", on)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		period, err := h.service.FindByDate(r.Context(), tenantID, d)
		if err != nil {
			h.fail(w, "find period by date", err)
			return
		}
		httpx.JSON(w, http.StatusOK, []periods.Period{period})
		return
	}
	year, err := httpx.QueryInt(r, "year", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", shared.DefaultPageLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListPeriods(r.Context(), periods.ListFilter{
		TenantID: tenantID,
		Year:     year,
		Status:   periods.PeriodStatus(strings.ToUpper(r.URL.Query().Get("status"))),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	if list == nil {
		list = []periods.Period{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := periods.CreatePeriodInput{
		TenantID: tenantID,
		Year:     req.Year,
		Sequence: req.Sequence,
		Label:    req.Label,
		ActorID:  shared.ActorFromContext(r.Context()),
	}
	if in.StartDate, err = parseDate("start_date", req.StartDate); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.EndDate, err = parseDate("end_date", req.EndDate); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.CutoffDate, err = parseDate("cutoff_date", req.CutoffDate); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.CreatePeriod(r.Context(), in)
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	period, err := h.service.GetPeriod(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) updatePeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req updatePeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := periods.UpdateDatesInput{TenantID: tenantID, PeriodID: id, Label: req.Label}
	for _, field := range []struct {
		name string
		raw  *string
		dst  **time.Time
	}{
		{"start_date", req.StartDate, &in.StartDate},
		{"end_date", req.EndDate, &in.EndDate},
		{"cutoff_date", req.CutoffDate, &in.CutoffDate},
	} {
		if field.raw == nil {
			continue
		}
		d, err := parseDate(field.name, *field.raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		*field.dst = &d
	}
	period, err := h.service.UpdatePeriodDates(r.Context(), in)
	if err != nil {
		h.fail(w, "update period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) deletePeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePeriod(r.Context(), tenantID, id); err != nil {
		h.fail(w, "delete period", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	period, err := h.service.ClosePeriod(r.Context(), tenantID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "close period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req reopenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.ReopenPeriod(r.Context(), tenantID, id, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "reopen period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, err := httpx.Tenant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return tenantID, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseDate(field, raw string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, shared.NewValidationError(field + " must be YYYY-MM-DD")
	}
	return d, nil
}
