// Package handler provides the HTTP handlers for the review orchestration API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps the error taxonomy onto HTTP status codes. Conflicts carry
// the live review's id and status so callers can attach to it instead of
// retrying blindly.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var validation *core.ValidationError
	var conflict *core.ConflictError
	var notFound *core.UpstreamNotFoundError
	var unprocessable *core.UpstreamUnprocessableError
	var denied *core.PermissionDeniedError
	var unavailable *core.EngineUnavailableError
	var timeout *core.EngineTimeoutError

	switch {
	case errors.As(err, &validation):
		writeDetail(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"detail":    conflict.Error(),
			"review_id": conflict.Existing.ID,
			"status":    conflict.Existing.Status,
		})
	case errors.As(err, &notFound):
		writeDetail(w, http.StatusNotFound, notFound.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "not found")
	case errors.As(err, &unprocessable):
		writeDetail(w, http.StatusUnprocessableEntity, unprocessable.Error())
	case errors.As(err, &denied):
		writeDetail(w, http.StatusForbidden, denied.Error())
	case errors.As(err, &unavailable):
		logger.Error("engine unavailable", "error", err)
		writeDetail(w, http.StatusBadGateway, "review engine is unavailable")
	case errors.As(err, &timeout):
		logger.Error("engine timed out", "error", err)
		writeDetail(w, http.StatusGatewayTimeout, "review engine timed out")
	default:
		logger.Error("unhandled error in request", "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
	}
}
