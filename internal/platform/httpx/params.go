package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

// PathInt64 parses a positive integer route parameter.
func PathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidationError(fmt.Sprintf("invalid %s %q", name, raw))
	}
	return id, nil
}

// QueryInt parses an optional integer query parameter, returning def when absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.NewValidationError(fmt.Sprintf("invalid %s %q", name, raw))
	}
	return v, nil
}

// Tenant returns the tenant resolved by middleware or a validation error.
func Tenant(r *http.Request) (int64, error) {
	id := shared.TenantFromContext(r.Context())
	if id <= 0 {
		return 0, shared.NewValidationError("tenant required")
	}
	return id, nil
}
