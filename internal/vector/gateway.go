package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Store is the raw vector index.
type Store interface {
	// Insert fails if a vector with the same id already exists.
	Insert(ctx context.Context, rec Record) error
	Upsert(ctx context.Context, rec Record) error
	GetByIDs(ctx context.Context, ids []ID) ([]Record, error)
	Query(ctx context.Context, values []float32, ns Namespace, topK int) ([]Match, error)
	DeleteByIDs(ctx context.Context, ids []ID) error
}

// KeyPage is one page of a prefix listing. Cursor resumes the listing when Complete is false.
type KeyPage struct {
	Keys     []string
	Cursor   string
	Complete bool
}

// Bookkeeper tracks which ids exist in the index, since the index cannot enumerate a namespace.
type Bookkeeper interface {
	Put(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix, cursor string) (KeyPage, error)
}

// SweepResult summarizes a repository deletion.
type SweepResult struct {
	Deleted int
	Failed  int
}

// Gateway is the only translator between records and the raw stores. Every write and
// read is checked against the current metadata schema.
type Gateway struct {
	store Store
	keys  Bookkeeper
}

func NewGateway(store Store, keys Bookkeeper) *Gateway {
	return &Gateway{store: store, keys: keys}
}

// Get returns the record for id, or nil if none is stored.
func (g *Gateway) Get(ctx context.Context, id ID) (*Record, error) {
	recs, err := g.store.GetByIDs(ctx, []ID{id})
	if err != nil {
		return nil, fmt.Errorf("get vector %s: %w", id, err)
	}
	for _, rec := range recs {
		if rec.ID != id {
			continue
		}
		if err := rec.Metadata.Validate(); err != nil {
			return nil, fmt.Errorf("vector %s: %w", id, err)
		}
		return &rec, nil
	}
	return nil, nil
}

// Insert creates a record and tracks its id. It fails on an id collision.
func (g *Gateway) Insert(ctx context.Context, rec Record) error {
	if err := checkWritable(rec); err != nil {
		return err
	}
	if err := g.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert vector %s: %w", rec.ID, err)
	}
	return g.track(ctx, rec.ID)
}

// Upsert overwrites a record and tracks its id.
func (g *Gateway) Upsert(ctx context.Context, rec Record) error {
	if err := checkWritable(rec); err != nil {
		return err
	}
	if err := g.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("upsert vector %s: %w", rec.ID, err)
	}
	return g.track(ctx, rec.ID)
}

// Query returns up to topK matches in ns, highest score first.
func (g *Gateway) Query(ctx context.Context, values []float32, ns Namespace, topK int) ([]Match, error) {
	if ns == "" {
		return nil, ErrMissingNamespace
	}
	matches, err := g.store.Query(ctx, values, ns, topK)
	if err != nil {
		return nil, fmt.Errorf("query namespace %s: %w", ns, err)
	}
	for _, m := range matches {
		if err := m.Metadata.Validate(); err != nil {
			return nil, fmt.Errorf("match %s: %w", m.ID, err)
		}
	}
	// The index documents sorted results; sort anyway.
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	slog.InfoContext(ctx, "queried namespace", "namespace", ns, "matches", len(matches))
	return matches, nil
}

// DeleteRepository removes every tracked vector of repo from both stores. A failing key
// is logged and skipped. Only a failing listing aborts the sweep.
func (g *Gateway) DeleteRepository(ctx context.Context, repo Repository) (SweepResult, error) {
	var res SweepResult
	prefix := BaseID(repo) + "/"
	cursor := ""
	for {
		page, err := g.keys.List(ctx, prefix, cursor)
		if err != nil {
			return res, fmt.Errorf("list keys under %s: %w", prefix, err)
		}

		for _, key := range page.Keys {
			ok := true
			if err := g.keys.Delete(ctx, key); err != nil {
				slog.ErrorContext(ctx, "failed to delete bookkeeping key", "key", key, "error", err)
				ok = false
			}
			if err := g.store.DeleteByIDs(ctx, []ID{ID(key)}); err != nil {
				slog.ErrorContext(ctx, "failed to delete vector", "key", key, "error", err)
				ok = false
			}
			if ok {
				res.Deleted++
			} else {
				res.Failed++
			}
		}

		if page.Complete || page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	slog.InfoContext(ctx, "deleted vectors for repository", "repository", repo.String(), "deleted", res.Deleted, "failed", res.Failed)
	return res, nil
}

func (g *Gateway) track(ctx context.Context, id ID) error {
	if err := g.keys.Put(ctx, string(id)); err != nil {
		return fmt.Errorf("track vector %s: %w", id, err)
	}
	return nil
}

func checkWritable(rec Record) error {
	if rec.Namespace == "" {
		return fmt.Errorf("vector %s: %w", rec.ID, ErrMissingNamespace)
	}
	if err := rec.Metadata.Validate(); err != nil {
		return fmt.Errorf("vector %s: %w", rec.ID, err)
	}
	return nil
}
