// Package entity owns the vector of each issue thread. All writes to one issue's vector
// go through Store.Apply, which serializes them per issue.
package entity

import (
	"context"
	"fmt"
	"log/slog"

	"issuedigger/internal/embedding"
	"issuedigger/internal/keylock"
	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
)

// Embedder reduces text to one document vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Vectors is the subset of the vector gateway the store writes through.
type Vectors interface {
	Get(ctx context.Context, id vector.ID) (*vector.Record, error)
	Insert(ctx context.Context, rec vector.Record) error
	Upsert(ctx context.Context, rec vector.Record) error
}

type Store struct {
	embedder Embedder
	vectors  Vectors
	locks    *keylock.Locker
}

func NewStore(embedder Embedder, vectors Vectors, locks *keylock.Locker) *Store {
	if locks == nil {
		locks = keylock.New()
	}
	return &Store{embedder: embedder, vectors: vectors, locks: locks}
}

// Apply folds item into its issue's vector and returns the vector id.
//
// An existing vector is averaged with the item's vector at equal weight, however many
// contributions it already holds. A missing one is inserted; losing an insert race
// surfaces vector.ErrAlreadyExists and is not repaired.
func (s *Store) Apply(ctx context.Context, item queue.IndexItem) (vector.ID, error) {
	id := vector.IDFor(item.Repository, item.IssueNumber)

	unlock := s.locks.Lock(string(id))
	defer unlock()

	values, err := s.embedder.Embed(ctx, item.Text())
	if err != nil {
		return "", fmt.Errorf("embed %s: %w", id, err)
	}

	existing, err := s.vectors.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if existing != nil {
		merged, err := embedding.Average(existing.Values, values)
		if err != nil {
			return "", fmt.Errorf("merge into %s: %w", id, err)
		}
		existing.Values = merged
		if err := s.vectors.Upsert(ctx, *existing); err != nil {
			return "", err
		}
		slog.InfoContext(ctx, "merged into existing vector", "vector_id", id, "kind", item.Kind)
		return id, nil
	}

	rec := vector.Record{
		ID:        id,
		Namespace: vector.NamespaceFor(item.Repository),
		Values:    values,
		Metadata:  vector.NewMetadata(item.Repository, item.IssueNumber),
	}
	if err := s.vectors.Insert(ctx, rec); err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "created vector", "vector_id", id, "kind", item.Kind)
	return id, nil
}
