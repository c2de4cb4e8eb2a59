package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"issuedigger/internal/middleware"
)

// Counter is implemented by the bookkeeping repo, the vector index and the dead-letter repo.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	keys    Counter
	index   Counter
	jobRepo Counter
}

func NewHandler(keys, index, jobs Counter) *Handler {
	return &Handler{keys: keys, index: index, jobRepo: jobs}
}

// StatsResponse reports both sides of the vector store. Bookkept and indexed counts drift
// apart only when a side-write failed.
type StatsResponse struct {
	Vectors    int `json:"vectors"`
	Indexed    int `json:"indexed"`
	FailedJobs int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	vCount, err := h.keys.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count vector keys", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count vectors", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	iCount, err := h.index.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count indexed objects", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count indexed vectors", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Vectors:    vCount,
		Indexed:    iCount,
		FailedJobs: jCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
