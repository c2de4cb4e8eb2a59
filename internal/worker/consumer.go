package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"
	"issuedigger/features/job"
	"issuedigger/internal/metrics"
	"issuedigger/internal/middleware"
	"issuedigger/internal/queue"
)

// HandlerName tags dead letters written by this consumer.
const HandlerName = "dispatcher"

// Consumer adapts the dispatcher to NSQ. Transient failures are returned so NSQ requeues
// the message; invariant violations are dead-lettered and acknowledged.
type Consumer struct {
	visitor queue.Visitor
	dead    DeadLetters
}

func NewConsumer(v queue.Visitor, d DeadLetters) *Consumer {
	return &Consumer{visitor: v, dead: d}
}

func (c *Consumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	ctx := middleware.WithCorrelationID(context.Background(), string(m.ID[:]))

	item, err := queue.Unmarshal(m.Body)
	if err != nil {
		slog.ErrorContext(ctx, "invalid work item, dead-lettering", "error", err)
		metrics.WorkItemsProcessed.WithLabelValues(job.KindUnknown, "dead_lettered").Inc()
		c.deadLetter(ctx, job.KindUnknown, m.Body, err)
		return nil
	}

	kind := string(item.Type())
	slog.DebugContext(ctx, "processing work item", "type", kind, "attempts", m.Attempts)

	start := time.Now()
	err = item.Accept(ctx, c.visitor)
	metrics.WorkItemDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.WorkItemsProcessed.WithLabelValues(kind, "ok").Inc()
		return nil
	case IsInvariant(err):
		slog.ErrorContext(ctx, "work item violates an invariant, dead-lettering", "type", kind, "error", err)
		metrics.WorkItemsProcessed.WithLabelValues(kind, "dead_lettered").Inc()
		c.deadLetter(ctx, kind, m.Body, err)
		return nil
	default:
		slog.WarnContext(ctx, "work item failed, requeueing", "type", kind, "attempts", m.Attempts, "error", err)
		metrics.WorkItemsProcessed.WithLabelValues(kind, "retried").Inc()
		return err
	}
}

// LogFailedMessage is called by NSQ once a message exhausted its attempts.
func (c *Consumer) LogFailedMessage(m *nsq.Message) {
	ctx := middleware.WithCorrelationID(context.Background(), string(m.ID[:]))

	kind := job.KindUnknown
	if item, err := queue.Unmarshal(m.Body); err == nil {
		kind = string(item.Type())
	}

	slog.ErrorContext(ctx, "work item exhausted its attempts", "type", kind, "attempts", m.Attempts)
	metrics.WorkItemsProcessed.WithLabelValues(kind, "exhausted").Inc()
	c.deadLetter(ctx, kind, m.Body, errExhausted(m.Attempts))
}

func (c *Consumer) deadLetter(ctx context.Context, kind string, body []byte, cause error) {
	failed := &job.Job{
		Kind:    kind,
		Handler: HandlerName,
		Payload: deadLetterPayload(body),
		Error:   cause.Error(),
	}
	if err := c.dead.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		return
	}
	slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
}

func errExhausted(attempts uint16) error {
	return fmt.Errorf("gave up after %d attempts", attempts)
}

// deadLetterPayload keeps the body as-is when it is JSON and quotes it otherwise, since
// failed_jobs.payload is JSONB.
func deadLetterPayload(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
