package statementshttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/arstatement/internal/platform/httpx"
	"github.com/odyssey-erp/arstatement/internal/shared"
	"github.com/odyssey-erp/arstatement/internal/statements"
)

type statementService interface {
	Get(ctx context.Context, tenantID, id int64) (statements.Statement, error)
	ListByProfile(ctx context.Context, tenantID, profileID int64, limit, offset int) ([]statements.Statement, error)
	ListByAccount(ctx context.Context, tenantID, accountID int64, limit, offset int) ([]statements.Statement, error)
	UpdateDelivery(ctx context.Context, in statements.UpdateDeliveryInput) (statements.Statement, error)
	MarkPortalViewed(ctx context.Context, tenantID, id int64) (statements.Statement, error)
}

// Handler exposes statement lookup and distribution tracking.
type Handler struct {
	logger  *slog.Logger
	service statementService
}

// NewHandler constructs a statement HTTP handler.
func NewHandler(logger *slog.Logger, service statementService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/statements/{id}", h.getStatement)
	r.Put("/statements/{id}/delivery/{channel}", h.updateDelivery)
	r.Post("/statements/{id}/portal-viewed", h.portalViewed)
	r.Get("/profiles/{id}/statements", h.listByProfile)
	r.Get("/accounts/{id}/statements", h.listByAccount)
}

type deliveryRequest struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (h *Handler) getStatement(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	st, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get statement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) updateDelivery(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req deliveryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.UpdateDelivery(r.Context(), statements.UpdateDeliveryInput{
		TenantID:    tenantID,
		StatementID: id,
		Channel:     statements.DeliveryChannel(chi.URLParam(r, "channel")),
		Status:      statements.DeliveryStatus(req.Status),
		Detail:      req.Detail,
	})
	if err != nil {
		h.fail(w, "update statement delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) portalViewed(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	st, err := h.service.MarkPortalViewed(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "mark statement viewed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) listByProfile(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "list profile statements", h.service.ListByProfile)
}

func (h *Handler) listByAccount(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "list account statements", h.service.ListByAccount)
}

type listFunc func(ctx context.Context, tenantID, id int64, limit, offset int) ([]statements.Statement, error)

func (h *Handler) list(w http.ResponseWriter, r *http.Request, op string, fetch listFunc) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
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
	list, err := fetch(r.Context(), tenantID, id, limit, offset)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	if list == nil {
		list = []statements.Statement{}
	}
	httpx.JSON(w, http.StatusOK, list)
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
