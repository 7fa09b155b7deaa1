package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/arstatement/internal/observability"
	"github.com/odyssey-erp/arstatement/internal/platform/httpx"
	"github.com/odyssey-erp/arstatement/internal/shared"
)

const (
	headerTenant = "X-Tenant-ID"
	headerActor  = "X-Actor-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the API middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		timeoutExceptStreams(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		httprate.Limit(300, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		RequestScope(cfg.Logger),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// RequestScope resolves tenant and actor from headers and attaches a correlation id.
// Tenant resolution itself belongs to the gateway; the id arrives as an opaque value.
func RequestScope(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw := strings.TrimSpace(r.Header.Get(headerTenant)); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || id <= 0 {
					httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+headerTenant)
					return
				}
				ctx = shared.ContextWithTenant(ctx, id)
			}
			if raw := strings.TrimSpace(r.Header.Get(headerActor)); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || id <= 0 {
					httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+headerActor)
					return
				}
				ctx = shared.ContextWithActor(ctx, id)
			}
			correlation, err := uuid.Parse(r.Header.Get(middleware.RequestIDHeader))
			if err != nil {
				correlation = uuid.New()
			}
			ctx = shared.ContextWithCorrelationID(ctx, correlation)
			w.Header().Set("X-Correlation-ID", correlation.String())
			if logger != nil {
				logger.Debug("request scope", slog.String("path", r.URL.Path), slog.String("correlation_id", correlation.String()))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// timeoutExceptStreams applies chi's Timeout to every request but event streams.
func timeoutExceptStreams(timeout time.Duration) func(http.Handler) http.Handler {
	withTimeout := middleware.Timeout(timeout)
	return func(next http.Handler) http.Handler {
		bounded := withTimeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/events") {
				next.ServeHTTP(w, r)
				return
			}
			bounded.ServeHTTP(w, r)
		})
	}
}
