package checklisthttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/arstatement/internal/checklist"
	"github.com/odyssey-erp/arstatement/internal/platform/httpx"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

type checklistService interface {
	CreateForPeriod(ctx context.Context, tenantID, periodID int64) (checklist.Checklist, error)
	Get(ctx context.Context, tenantID, id int64) (checklist.Checklist, error)
	GetByPeriod(ctx context.Context, tenantID, periodID int64) (checklist.Checklist, error)
	SignOffStep(ctx context.Context, in checklist.SignOffInput) (checklist.Checklist, error)
	SkipStep(ctx context.Context, tenantID, stepID, actorID int64, notes string) (checklist.Checklist, error)
	RunAutoVerification(ctx context.Context, tenantID, stepID int64) (checklist.Checklist, error)
	RunAllAutoChecks(ctx context.Context, tenantID, checklistID int64) (checklist.AutoCheckSummary, error)
	CanClosePeriod(ctx context.Context, tenantID, checklistID int64) (checklist.Eligibility, error)
}

// Handler exposes close checklist endpoints.
type Handler struct {
	logger  *slog.Logger
	service checklistService
}

// NewHandler constructs a checklist HTTP handler.
func NewHandler(logger *slog.Logger, service checklistService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/periods/{id}/checklist", h.getForPeriod)
	r.Post("/periods/{id}/checklist", h.createForPeriod)
	r.Get("/checklists/{id}", h.getChecklist)
	r.Post("/checklists/{id}/auto-checks", h.runAutoChecks)
	r.Get("/checklists/{id}/can-close", h.canClose)
	r.Post("/checklist-steps/{id}/sign-off", h.signOff)
	r.Post("/checklist-steps/{id}/skip", h.skip)
	r.Post("/checklist-steps/{id}/verify", h.verify)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) getForPeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, periodID, ok := h.scope(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetByPeriod(r.Context(), tenantID, periodID)
	if err != nil {
		h.fail(w, "get period checklist", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) createForPeriod(w http.ResponseWriter, r *http.Request) {
	tenantID, periodID, ok := h.scope(w, r)
	if !ok {
		return
	}
	c, err := h.service.CreateForPeriod(r.Context(), tenantID, periodID)
	if err != nil {
		h.fail(w, "create checklist", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) getChecklist(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get checklist", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) runAutoChecks(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	summary, err := h.service.RunAllAutoChecks(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "run auto checks", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) canClose(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	e, err := h.service.CanClosePeriod(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "evaluate checklist", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) signOff(w http.ResponseWriter, r *http.Request) {
	tenantID, stepID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req notesRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.SignOffStep(r.Context(), checklist.SignOffInput{
		TenantID: tenantID,
		StepID:   stepID,
		ActorID:  shared.ActorFromContext(r.Context()),
		Notes:    req.Notes,
	})
	if err != nil {
		h.fail(w, "sign off step", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) skip(w http.ResponseWriter, r *http.Request) {
	tenantID, stepID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req notesRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.SkipStep(r.Context(), tenantID, stepID, shared.ActorFromContext(r.Context()), req.Notes)
	if err != nil {
		h.fail(w, "skip step", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	tenantID, stepID, ok := h.scope(w, r)
	if !ok {
		return
	}
	c, err := h.service.RunAutoVerification(r.Context(), tenantID, stepID)
	if err != nil {
		h.fail(w, "verify step", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return httpx.DecodeJSON(r, dst)
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
