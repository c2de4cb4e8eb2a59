package worker

import (
	"context"
	"errors"
	"iter"

	"issuedigger/features/job"
	ghadapter "issuedigger/internal/adapter/github"
	"issuedigger/internal/embedding"
	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
)

// ErrInvariant marks failures that point at a bug or corrupt data rather than a flaky
// dependency. Retrying them cannot help.
var ErrInvariant = errors.New("invariant violated")

// IsInvariant reports whether err should be dead-lettered instead of retried.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant) ||
		errors.Is(err, vector.ErrInvalidMetadata) ||
		errors.Is(err, vector.ErrMissingNamespace) ||
		errors.Is(err, vector.ErrAlreadyExists) ||
		errors.Is(err, queue.ErrUnknownType) ||
		errors.Is(err, queue.ErrMalformed) ||
		errors.Is(err, embedding.ErrNoParagraphs)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Entities folds index items into issue vectors.
type Entities interface {
	Apply(ctx context.Context, item queue.IndexItem) (vector.ID, error)
}

type Vectors interface {
	Query(ctx context.Context, values []float32, ns vector.Namespace, topK int) ([]vector.Match, error)
	DeleteRepository(ctx context.Context, repo vector.Repository) (vector.SweepResult, error)
}

// Host is the source-control API as seen by one installation.
type Host interface {
	CreateComment(ctx context.Context, repo vector.Repository, issueNumber int, body string) error
	IssuesWithComments(ctx context.Context, repo vector.Repository) iter.Seq2[ghadapter.Item, error]
	CommentsForIssue(ctx context.Context, repo vector.Repository, issueNumber int) iter.Seq2[ghadapter.Item, error]
}

// DeadLetters stores work items that will not be retried by the queue.
type DeadLetters interface {
	Save(ctx context.Context, j *job.Job) error
}

type Hosts interface {
	ForInstallation(installationID int64) (Host, error)
}

// HostsFunc adapts a function to Hosts.
type HostsFunc func(installationID int64) (Host, error)

func (f HostsFunc) ForInstallation(installationID int64) (Host, error) { return f(installationID) }

// Backfiller queues items enumerated from the host.
type Backfiller interface {
	SubmitBackfilled(ctx context.Context, item queue.WorkItem) error
}
