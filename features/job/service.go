package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"issuedigger/internal/config"
	"issuedigger/internal/queue"
)

var (
	ErrUnknownKind = errors.New("unknown job kind")
	// ErrNotRetryable marks stored payloads that no longer decode into a work item.
	// Publishing them again would only dead-letter them again.
	ErrNotRetryable = errors.New("job payload is not a valid work item")
)

type Service struct {
	repo Repository
	pub  queue.Publisher
}

func NewService(repo Repository, pub queue.Publisher) *Service {
	return &Service{repo: repo, pub: pub}
}

func (s *Service) List(ctx context.Context, f Filter) ([]Job, error) {
	if f.Kind != "" && !validKind(f.Kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, f.Kind)
	}
	return s.repo.List(ctx, f)
}

// Retry decodes the stored payload, puts the work item back on the work topic and forgets
// the job. The job is kept when the payload does not decode or publishing fails.
func (s *Service) Retry(ctx context.Context, id string) (queue.WorkItem, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	item, err := queue.Unmarshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRetryable, err)
	}
	body, err := queue.Marshal(item)
	if err != nil {
		return nil, err
	}

	if err := s.pub.Publish(config.TopicWork, body); err != nil {
		return nil, fmt.Errorf("republish %s: %w", item.Type(), err)
	}
	slog.InfoContext(ctx, "republished failed job", "id", id, "type", item.Type(), "retries", job.Retries)

	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
