// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

// StatusFor maps an error onto the HTTP status the API reports for it.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as an RFC7807 problem. Details of unclassified errors stay
// server side.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusGatewayTimeout {
		detail = ""
	}
	title := http.StatusText(status)
	if status == http.StatusBadRequest {
		title = "Validation Failed"
	}
	Problem(w, status, title, detail)
}
