package runshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/arstatement/internal/platform/httpx"
	"github.com/odyssey-erp/arstatement/internal/runs"
	"github.com/odyssey-erp/arstatement/internal/shared"
	"github.com/odyssey-erp/arstatement/internal/statements"
)

const (
	startRateLimit  = 10
	startRateWindow = time.Minute
	heartbeatEvery  = 15 * time.Second
	idempotencyName = "statement_run"
)

type runService interface {
	Start(ctx context.Context, in runs.StartInput) (runs.Run, error)
	Get(ctx context.Context, tenantID, runID int64) (runs.Run, error)
	List(ctx context.Context, tenantID, periodID int64) ([]runs.Run, error)
	Cancel(ctx context.Context, tenantID, runID, actorID int64) (runs.Run, error)
	Subscribe(ctx context.Context, tenantID, runID int64) (<-chan runs.ProgressEvent, func(), error)
}

type statementService interface {
	ListByRun(ctx context.Context, tenantID, runID int64, limit, offset int) ([]statements.Statement, error)
	SumRun(ctx context.Context, tenantID, runID int64) (statements.RunSums, error)
	ExportRun(ctx context.Context, tenantID, runID int64) ([]byte, error)
}

// IdempotencyStore remembers which run an Idempotency-Key produced.
type IdempotencyStore interface {
	Reserve(ctx context.Context, tenantID int64, operation, key string) (int64, bool, error)
	Bind(ctx context.Context, tenantID int64, operation, key string, ref int64) error
	Release(ctx context.Context, tenantID int64, operation, key string) error
}

// Handler exposes statement run endpoints.
type Handler struct {
	logger      *slog.Logger
	runs        runService
	statements  statementService
	idempotency IdempotencyStore
	startLimit  int
}

// NewHandler constructs the run handler. idem may be nil.
func NewHandler(logger *slog.Logger, runSvc runService, stmtSvc statementService, idem IdempotencyStore) *Handler {
	return &Handler{logger: logger, runs: runSvc, statements: stmtSvc, idempotency: idem, startLimit: startRateLimit}
}

// WithStartRateLimit sets how many runs one actor may start per minute.
func (h *Handler) WithStartRateLimit(perMinute int) *Handler {
	if perMinute > 0 {
		h.startLimit = perMinute
	}
	return h
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(h.startLimit, startRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "statement run start rate exceeded")
		}),
	)
	r.Get("/periods/{id}/runs", h.listRuns)
	r.With(limiter).Post("/periods/{id}/runs", h.startRun)
	r.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/", h.getRun)
		r.Post("/cancel", h.cancelRun)
		r.Get("/events", h.streamEvents)
		r.Get("/statements", h.listStatements)
		r.Get("/totals", h.runTotals)
		r.Get("/export.xlsx", h.exportRun)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if tenant := shared.TenantFromContext(r.Context()); tenant > 0 {
		return "tenant:" + strconv.FormatInt(tenant, 10) + ":actor:" + strconv.FormatInt(shared.ActorFromContext(r.Context()), 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type startRunRequest struct {
	RunType    string  `json:"run_type"`
	ProfileIDs []int64 `json:"profile_ids"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	tenantID, periodID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req startRunRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	operation := idempotencyOperation(periodID)
	guarded := key != "" && h.idempotency != nil
	if guarded {
		ref, fresh, err := h.idempotency.Reserve(r.Context(), tenantID, operation, key)
		if err != nil {
			h.fail(w, "reserve idempotency key", err)
			return
		}
		if !fresh {
			run, err := h.runs.Get(r.Context(), tenantID, ref)
			if err != nil {
				h.fail(w, "get replayed run", err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			httpx.JSON(w, http.StatusOK, run)
			return
		}
	}
	// Key bookkeeping must outlive a client that hangs up mid-request.
	bookCtx := context.WithoutCancel(r.Context())
	run, err := h.runs.Start(r.Context(), runs.StartInput{
		TenantID:   tenantID,
		PeriodID:   periodID,
		RunType:    runs.RunType(req.RunType),
		ProfileIDs: req.ProfileIDs,
		ActorID:    shared.ActorFromContext(r.Context()),
	})
	if err != nil && run.ID == 0 {
		if guarded {
			if relErr := h.idempotency.Release(bookCtx, tenantID, operation, key); relErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", relErr))
			}
		}
		h.fail(w, "start statement run", err)
		return
	}
	if guarded {
		if err := h.idempotency.Bind(bookCtx, tenantID, operation, key, run.ID); err != nil {
			h.logger.Warn("bind idempotency key", slog.Int64("run_id", run.ID), slog.Any("error", err))
		}
	}
	w.Header().Set("Location", fmt.Sprintf("/runs/%d", run.ID))
	if err != nil {
		// The run exists but could not be queued; it is already FAILED.
		h.logger.Error("start statement run", slog.Int64("run_id", run.ID), slog.Any("error", err))
		httpx.JSON(w, http.StatusServiceUnavailable, run)
		return
	}
	httpx.JSON(w, http.StatusAccepted, run)
}

// idempotencyOperation scopes run-start keys to one period.
func idempotencyOperation(periodID int64) string {
	return idempotencyName + ":period:" + strconv.FormatInt(periodID, 10)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	tenantID, periodID, ok := h.scope(w, r)
	if !ok {
		return
	}
	list, err := h.runs.List(r.Context(), tenantID, periodID)
	if err != nil {
		h.fail(w, "list statement runs", err)
		return
	}
	if list == nil {
		list = []runs.Run{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	run, err := h.runs.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get statement run", err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	run, err := h.runs.Cancel(r.Context(), tenantID, id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "cancel statement run", err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) listStatements(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	if _, err := h.runs.Get(r.Context(), tenantID, id); err != nil {
		h.fail(w, "get statement run", err)
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
	list, err := h.statements.ListByRun(r.Context(), tenantID, id, limit, offset)
	if err != nil {
		h.fail(w, "list run statements", err)
		return
	}
	if list == nil {
		list = []statements.Statement{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) runTotals(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	if _, err := h.runs.Get(r.Context(), tenantID, id); err != nil {
		h.fail(w, "get statement run", err)
		return
	}
	sums, err := h.statements.SumRun(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "sum run statements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sums)
}

func (h *Handler) exportRun(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	run, err := h.runs.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get statement run", err)
		return
	}
	data, err := h.statements.ExportRun(r.Context(), tenantID, run.ID)
	if err != nil {
		h.fail(w, "export statement run", err)
		return
	}
	filename := fmt.Sprintf("statement_run_%d_%d.xlsx", run.PeriodID, run.RunNumber)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("write run export", slog.Int64("run_id", run.ID), slog.Any("error", err))
	}
}

// streamEvents relays progress as server-sent events until the run reaches a terminal status.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.scope(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "streaming unsupported")
		return
	}
	ctx := r.Context()
	events, stop, err := h.runs.Subscribe(ctx, tenantID, id)
	if err != nil {
		h.fail(w, "subscribe run progress", err)
		return
	}
	defer stop()
	// Snapshot after subscribing so no transition between the two is lost.
	run, err := h.runs.Get(ctx, tenantID, id)
	if err != nil {
		h.fail(w, "get statement run", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, runs.NewProgressEvent(run, time.Now().UTC())); err != nil {
		return
	}
	flusher.Flush()
	if run.Status.Terminal() {
		return
	}

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev runs.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: progress\ndata: %s\n\n", ev.EventID, payload)
	return err
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
