package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"issuedigger/internal/metrics"
)

// ErrTooLarge is returned for items whose encoding exceeds the transport's message size.
var ErrTooLarge = errors.New("work item exceeds maximum message size")

// Publisher is the queue transport. *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Submitter publishes work items. Index items authored by the app, or comments that
// are app commands, are dropped here so they never take up queue capacity.
type Submitter struct {
	pub       Publisher
	topic     string
	isCommand func(body string) bool
	backfill  *rate.Limiter
	maxBytes  int64
}

// NewSubmitter returns a Submitter publishing to topic. isCommand recognizes app
// commands; backfill paces SubmitBackfilled.
func NewSubmitter(pub Publisher, topic string, isCommand func(body string) bool, backfill *rate.Limiter) *Submitter {
	if isCommand == nil {
		isCommand = func(string) bool { return false }
	}
	if backfill == nil {
		backfill = rate.NewLimiter(rate.Inf, 1)
	}
	return &Submitter{pub: pub, topic: topic, isCommand: isCommand, backfill: backfill}
}

// LimitBodySize rejects items encoding to more than n bytes. Zero means no limit.
func (s *Submitter) LimitBodySize(n int64) *Submitter {
	s.maxBytes = n
	return s
}

// Submit publishes item unless it is self-authored or an app command.
func (s *Submitter) Submit(ctx context.Context, item WorkItem) error {
	return s.submit(ctx, item, true)
}

// SubmitBackfilled publishes an item enumerated from the host during onboarding or
// reindexing. Such items cannot have triggered the app, so only self-authored items are
// dropped. Calls block while the backfill rate is exhausted.
func (s *Submitter) SubmitBackfilled(ctx context.Context, item WorkItem) error {
	if err := s.backfill.Wait(ctx); err != nil {
		return fmt.Errorf("wait for backfill capacity: %w", err)
	}
	return s.submit(ctx, item, false)
}

func (s *Submitter) submit(ctx context.Context, item WorkItem, checkCommands bool) error {
	if idx, ok := item.(IndexItem); ok && s.suppressed(idx, checkCommands) {
		slog.InfoContext(ctx, "not submitting, item is associated with this app",
			"type", item.Type(), "repository", idx.Repository.String(), "issue", idx.IssueNumber)
		metrics.WorkItemsSubmitted.WithLabelValues(string(item.Type()), "suppressed").Inc()
		return nil
	}

	body, err := Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", item.Type(), err)
	}

	if s.maxBytes > 0 && int64(len(body)) > s.maxBytes {
		metrics.WorkItemsSubmitted.WithLabelValues(string(item.Type()), "failed").Inc()
		return fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, item.Type(), len(body))
	}

	slog.DebugContext(ctx, "submitting work item", "type", item.Type(), "bytes", len(body))
	if err := s.pub.Publish(s.topic, body); err != nil {
		metrics.WorkItemsSubmitted.WithLabelValues(string(item.Type()), "failed").Inc()
		return fmt.Errorf("publish %s: %w", item.Type(), err)
	}
	metrics.WorkItemsSubmitted.WithLabelValues(string(item.Type()), "published").Inc()
	return nil
}

func (s *Submitter) suppressed(item IndexItem, checkCommands bool) bool {
	if item.IsSelfAuthored {
		return true
	}
	return checkCommands && item.Kind == KindComment && item.Body != nil && s.isCommand(*item.Body)
}
