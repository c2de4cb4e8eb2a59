package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"issuedigger/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// List serves GET /jobs/failed. The optional kind query parameter narrows the listing to
// one work item type, or to "unknown" for payloads that never decoded.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f := Filter{Kind: r.URL.Query().Get("kind")}

	jobs, err := h.service.List(ctx, f)
	switch {
	case errors.Is(err, ErrUnknownKind):
		h.writeError(ctx, w, "BAD_REQUEST", err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		slog.ErrorContext(ctx, "failed to list jobs", "kind", f.Kind, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": jobs,
		"meta": map[string]interface{}{"count": len(jobs), "kind": f.Kind},
	})
}

// Retry serves POST /jobs/{id}/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	item, err := h.service.Retry(ctx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		h.writeError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrNotRetryable):
		slog.WarnContext(ctx, "refusing to retry job", "id", id, "error", err)
		h.writeError(ctx, w, "NOT_RETRYABLE", err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		slog.ErrorContext(ctx, "failed to retry job", "id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": map[string]string{"id": id, "type": string(item.Type())},
	})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
