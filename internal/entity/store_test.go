package entity_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuedigger/internal/entity"
	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
)

// fixedEmbedder maps text to a preset vector.
type fixedEmbedder struct {
	vectors map[string][]float32
	delay   time.Duration
	err     error
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

// memVectors mimics the gateway, including insert collisions. It also detects
// overlapping read-modify-write cycles on one id.
type memVectors struct {
	mu       sync.Mutex
	records  map[vector.ID]vector.Record
	inFlight map[vector.ID]int
	overlap  atomic.Bool
	upserts  int
}

func newMemVectors() *memVectors {
	return &memVectors{records: map[vector.ID]vector.Record{}, inFlight: map[vector.ID]int{}}
}

func (m *memVectors) Get(ctx context.Context, id vector.ID) (*vector.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[id]++
	if m.inFlight[id] > 1 {
		m.overlap.Store(true)
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	rec.Values = append([]float32(nil), rec.Values...)
	return &rec, nil
}

func (m *memVectors) Insert(ctx context.Context, rec vector.Record) error {
	// Widen the window between read and write.
	time.Sleep(time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[rec.ID]--
	if _, ok := m.records[rec.ID]; ok {
		return vector.ErrAlreadyExists
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memVectors) Upsert(ctx context.Context, rec vector.Record) error {
	time.Sleep(time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[rec.ID]--
	m.records[rec.ID] = rec
	m.upserts++
	return nil
}

func str(s string) *string { return &s }

var repo = vector.Repository{Owner: "o", Name: "r"}

func TestApply_CreatesThenMerges(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{
		"bug\nit crashes": {1, 0},
		"\nsame here":     {0, 1},
	}}
	vecs := newMemVectors()
	s := entity.NewStore(emb, vecs, nil)
	ctx := context.Background()

	id, err := s.Apply(ctx, queue.IndexItem{Kind: queue.KindIssue, Repository: repo, IssueNumber: 7, Title: str("bug"), Body: str("it crashes")})
	require.NoError(t, err)
	assert.Equal(t, vector.ID("I1/o/r/7"), id)

	rec := vecs.records[id]
	assert.Equal(t, vector.Namespace("N1/o/r"), rec.Namespace)
	assert.Equal(t, vector.NewMetadata(repo, 7), rec.Metadata)
	assert.Equal(t, []float32{1, 0}, rec.Values)

	_, err = s.Apply(ctx, queue.IndexItem{Kind: queue.KindComment, Repository: repo, IssueNumber: 7, Body: str("same here")})
	require.NoError(t, err)

	assert.Equal(t, []float32{0.5, 0.5}, vecs.records[id].Values)
	assert.Equal(t, 1, vecs.upserts)
}

func TestApply_EqualWeightMerge(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{
		"\na": {4},
		"\nb": {0},
	}}
	vecs := newMemVectors()
	s := entity.NewStore(emb, vecs, nil)
	ctx := context.Background()

	for _, body := range []string{"a", "b", "b"} {
		_, err := s.Apply(ctx, queue.IndexItem{Kind: queue.KindComment, Repository: repo, IssueNumber: 1, Body: str(body)})
		require.NoError(t, err)
	}
	// (4+0)/2 = 2, then (2+0)/2 = 1.
	assert.Equal(t, []float32{1}, vecs.records["I1/o/r/1"].Values)
}

func TestApply_SerializesSameIssue(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{"\nx": {1, 1}}, delay: time.Millisecond}
	vecs := newMemVectors()
	s := entity.NewStore(emb, vecs, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Apply(context.Background(), queue.IndexItem{Kind: queue.KindComment, Repository: repo, IssueNumber: 3, Body: str("x")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.False(t, vecs.overlap.Load(), "read-modify-write cycles overlapped")
	assert.Equal(t, 19, vecs.upserts)
}

func TestApply_InsertCollisionSurfaces(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{"\nx": {1}}}
	vecs := &collidingVectors{}
	s := entity.NewStore(emb, vecs, nil)

	_, err := s.Apply(context.Background(), queue.IndexItem{Kind: queue.KindIssue, Repository: repo, IssueNumber: 2, Body: str("x")})
	assert.ErrorIs(t, err, vector.ErrAlreadyExists)
}

func TestApply_EmbedFailure(t *testing.T) {
	emb := &fixedEmbedder{err: errors.New("all paragraphs failed")}
	vecs := newMemVectors()
	s := entity.NewStore(emb, vecs, nil)

	_, err := s.Apply(context.Background(), queue.IndexItem{Kind: queue.KindIssue, Repository: repo, IssueNumber: 2, Body: str("x")})
	assert.Error(t, err)
	assert.Empty(t, vecs.records)
}

// collidingVectors reports no existing record but rejects every insert, as when a
// concurrent writer outside this process created the vector first.
type collidingVectors struct{}

func (collidingVectors) Get(context.Context, vector.ID) (*vector.Record, error) { return nil, nil }
func (collidingVectors) Insert(ctx context.Context, rec vector.Record) error {
	return vector.ErrAlreadyExists
}
func (collidingVectors) Upsert(context.Context, vector.Record) error { return nil }
