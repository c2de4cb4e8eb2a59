package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"issuedigger/internal/metrics"
)

var (
	ErrNoVectors    = errors.New("no vectors to average")
	ErrNoParagraphs = errors.New("text has no non-empty paragraphs")
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

var blankLine = regexp.MustCompile(`\n\s*\n`)

// Paragraphs splits text on blank lines and drops paragraphs that are empty after trimming.
func Paragraphs(text string) []string {
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Reducer turns a document into one vector: the mean of its paragraph embeddings.
// A paragraph that cannot be embedded is summarized and the summary embedded instead;
// if that fails too the paragraph is dropped.
type Reducer struct {
	embedder   Embedder
	summarizer Summarizer
	calls      *semaphore.Weighted
}

// NewReducer caps concurrent model calls across all documents at maxConcurrent.
func NewReducer(e Embedder, s Summarizer, maxConcurrent int64) *Reducer {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Reducer{
		embedder:   e,
		summarizer: s,
		calls:      semaphore.NewWeighted(maxConcurrent),
	}
}

// EmbedParagraphs embeds every paragraph of text concurrently and returns the vectors
// that succeeded, in paragraph order. It never fails; an empty result means nothing
// could be embedded.
func (r *Reducer) EmbedParagraphs(ctx context.Context, text string) [][]float32 {
	paragraphs := Paragraphs(text)
	slog.DebugContext(ctx, "split text into paragraphs", "paragraphs", len(paragraphs))

	results := make([][]float32, len(paragraphs))
	var g errgroup.Group
	for i, p := range paragraphs {
		g.Go(func() error {
			results[i] = r.embedParagraph(ctx, i, p)
			return nil
		})
	}
	_ = g.Wait()

	vectors := make([][]float32, 0, len(results))
	for _, v := range results {
		if v != nil {
			vectors = append(vectors, v)
		}
	}
	return vectors
}

// Embed returns the mean paragraph vector of text. It fails with ErrNoParagraphs for
// blank text, and with ErrNoVectors if no paragraph could be embedded.
func (r *Reducer) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(Paragraphs(text)) == 0 {
		return nil, ErrNoParagraphs
	}
	vectors := r.EmbedParagraphs(ctx, text)
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}
	return Average(vectors...)
}

func (r *Reducer) embedParagraph(ctx context.Context, index int, paragraph string) []float32 {
	vec, err := r.call(ctx, func() ([]float32, error) {
		return r.embedder.Embed(ctx, paragraph)
	})
	if err == nil {
		metrics.EmbeddedParagraphs.WithLabelValues("direct").Inc()
		return vec
	}
	slog.WarnContext(ctx, "embedding paragraph failed, falling back on summary", "paragraph", index, "error", err)

	vec, err = r.call(ctx, func() ([]float32, error) {
		summary, err := r.summarizer.Summarize(ctx, paragraph)
		if err != nil {
			return nil, fmt.Errorf("summarize: %w", err)
		}
		return r.embedder.Embed(ctx, summary)
	})
	if err == nil {
		metrics.EmbeddedParagraphs.WithLabelValues("summarized").Inc()
		return vec
	}
	slog.ErrorContext(ctx, "embedding paragraph summary failed, skipping paragraph", "paragraph", index, "error", err)
	metrics.EmbeddedParagraphs.WithLabelValues("dropped").Inc()
	return nil
}

func (r *Reducer) call(ctx context.Context, fn func() ([]float32, error)) ([]float32, error) {
	if err := r.calls.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.calls.Release(1)

	vec, err := fn()
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, errors.New("empty embedding received")
	}
	return vec, nil
}

// Average returns the per-dimension arithmetic mean of vectors, which must share one
// dimensionality.
func Average(vectors ...[]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}

	n := float64(len(vectors))
	avg := make([]float32, dim)
	for j, s := range sum {
		avg[j] = float32(s / n)
	}
	return avg, nil
}
