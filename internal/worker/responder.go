package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
)

const (
	NoMatchesMessage = "No similar issues found."
	responseHeader   = "The most similar issues to this one are:\n"
	lowScoreWarning  = " ⚠️ This is a low score, indicating weak similarity."

	// LowScore is the similarity below which a match is flagged as weak.
	LowScore = 0.6
)

// Responder finds the issues most similar to a given one.
type Responder struct {
	embedder Embedder
	vectors  Vectors
	k        int
}

func NewResponder(e Embedder, v Vectors, k int) *Responder {
	return &Responder{embedder: e, vectors: v, k: k}
}

// Similar returns up to k matches for the item, never including the item's own issue.
func (r *Responder) Similar(ctx context.Context, item queue.PostComment) ([]vector.Match, error) {
	values, err := r.embedder.Embed(ctx, item.Text())
	if err != nil {
		return nil, fmt.Errorf("embed issue %d: %w", item.IssueNumber, err)
	}

	// One extra, since the issue usually finds itself.
	matches, err := r.vectors.Query(ctx, values, vector.NamespaceFor(item.Repository), r.k+1)
	if err != nil {
		return nil, err
	}

	self := vector.IDFor(item.Repository, item.IssueNumber)
	out := make([]vector.Match, 0, len(matches))
	for _, m := range matches {
		if m.ID == self {
			continue
		}
		out = append(out, m)
	}
	if len(out) > r.k {
		out = out[:r.k]
	}
	return out, nil
}

// FormatResponse renders matches as a numbered markdown list, best first. Any match with
// invalid metadata fails the whole response.
func FormatResponse(matches []vector.Match) (string, error) {
	if len(matches) == 0 {
		return NoMatchesMessage, nil
	}

	sorted := append([]vector.Match(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	parts := []string{responseHeader}
	for i, m := range sorted {
		if err := m.Metadata.Validate(); err != nil {
			return "", fmt.Errorf("metadata of vector %s not usable: %w", m.ID, err)
		}
		line := fmt.Sprintf("%d. #%d , with a similarity score of _%s_.", i+1, m.Metadata.IssueNumber, significant(float64(m.Score), 2))
		if m.Score < LowScore {
			line += lowScoreWarning
		}
		parts = append(parts, line)
	}

	response := strings.Join(parts, "\n")
	slog.Debug("formatted response", "matches", len(sorted))
	return response, nil
}

// significant formats x with p significant digits, keeping trailing zeros
// (0.8 becomes "0.80").
func significant(x float64, p int) string {
	if x == 0 {
		return strconv.FormatFloat(0, 'f', p-1, 64)
	}
	// Rounding can carry into a new digit (0.996 to 1.0), so take the exponent after it.
	sci := strconv.FormatFloat(x, 'e', p-1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err != nil || exp < -6 || exp >= p {
		return sci
	}
	decimals := p - 1 - exp
	if decimals < 0 {
		decimals = 0
	}
	return strconv.FormatFloat(x, 'f', decimals, 64)
}
