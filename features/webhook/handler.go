package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"issuedigger/internal/metrics"
	"issuedigger/internal/middleware"
	"issuedigger/internal/queue"
	"issuedigger/internal/signature"
	"issuedigger/internal/vector"
)

const (
	HeaderSignature = "X-Hub-Signature-256"
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
)

type Submitter interface {
	Submit(ctx context.Context, item queue.WorkItem) error
}

type Reactor interface {
	PostReaction(ctx context.Context, installationID int64, repo vector.Repository, commentID int64, content string) error
}

type Handler struct {
	classifier *Classifier
	submitter  Submitter
	reactor    Reactor
	secret     string
	maxBytes   int64
}

func NewHandler(c *Classifier, s Submitter, r Reactor, secret string, maxBytes int64) *Handler {
	return &Handler{classifier: c, submitter: s, reactor: r, secret: secret, maxBytes: maxBytes}
}

// Handle must answer within GitHub's delivery timeout, so all real work is queued.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	eventName := r.Header.Get(HeaderEvent)

	slog.InfoContext(ctx, "webhook received", "event", eventName, "delivery", r.Header.Get(HeaderDelivery), "correlationId", correlationID)

	header := r.Header.Get(HeaderSignature)
	if header == "" {
		slog.WarnContext(ctx, "no signature in headers")
		h.reject(ctx, w, eventName, "MISSING_SIGNATURE", "Can only process signed requests", http.StatusBadRequest)
		return
	}
	if len(header) != signature.HeaderLength {
		slog.WarnContext(ctx, "signature length unexpected", "length", len(header))
		h.reject(ctx, w, eventName, "MALFORMED_SIGNATURE", "Signature length unexpected", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		slog.WarnContext(ctx, "failed to read webhook body", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(ctx, w, eventName, "PAYLOAD_TOO_LARGE", "Body exceeds the size limit", http.StatusRequestEntityTooLarge)
			return
		}
		h.reject(ctx, w, eventName, "BAD_REQUEST", "Could not read body", http.StatusBadRequest)
		return
	}

	proof, err := signature.Verify(body, h.secret, header)
	if err != nil {
		var mismatch *signature.MismatchError
		if errors.As(err, &mismatch) {
			slog.WarnContext(ctx, "signature verification failed", "got", mismatch.Got, "expected", mismatch.Expected)
		}
		h.reject(ctx, w, eventName, "UNAUTHORIZED", "Signature (GitHub App secret) mismatch", http.StatusUnauthorized)
		return
	}
	slog.DebugContext(ctx, "signature verified")

	if eventName == "" {
		slog.ErrorContext(ctx, "no event name in headers")
		h.reject(ctx, w, eventName, "MISSING_EVENT", "No event name in headers", http.StatusBadRequest)
		return
	}

	plan, err := h.classifier.Classify(eventName, proof)
	if err != nil {
		code := "MALFORMED_EVENT"
		if errors.Is(err, ErrMissingInstallation) {
			code = "MISSING_INSTALLATION"
		}
		slog.ErrorContext(ctx, "cannot process event", "event", eventName, "error", err)
		h.reject(ctx, w, eventName, code, err.Error(), http.StatusBadRequest)
		return
	}
	if plan.NoOp() {
		slog.InfoContext(ctx, "event not relevant, skipping", "event", eventName, "relevant", plan.Relevant)
		metrics.WebhookEvents.WithLabelValues(eventName, "skipped").Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Queue failures are logged only. The delivery itself was valid.
	submitted := 0
	for _, item := range plan.Items {
		if err := h.submitter.Submit(ctx, item); err != nil {
			slog.ErrorContext(ctx, "failed to submit work item", "type", item.Type(), "error", err)
			continue
		}
		submitted++
	}

	reacted := false
	if plan.Reaction != nil {
		rx := plan.Reaction
		if err := h.reactor.PostReaction(ctx, rx.InstallationID, rx.Repository, rx.CommentID, rx.Content); err != nil {
			slog.ErrorContext(ctx, "failed to react to comment", "comment_id", rx.CommentID, "error", err)
		} else {
			reacted = true
		}
	}

	metrics.WebhookEvents.WithLabelValues(eventName, "processed").Inc()
	slog.InfoContext(ctx, "event processed", "event", eventName, "planned", len(plan.Items), "submitted", submitted, "reacted", reacted)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	resp := map[string]interface{}{
		"data": map[string]interface{}{
			"planned":   len(plan.Items),
			"submitted": submitted,
			"reacted":   reacted,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, eventName, code, message string, status int) {
	metrics.WebhookEvents.WithLabelValues(eventName, "rejected").Inc()
	h.writeError(ctx, w, code, message, status)
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
