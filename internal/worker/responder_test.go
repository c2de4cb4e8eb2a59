package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
	"issuedigger/internal/worker"
)

var testRepo = vector.Repository{Owner: "acme", Name: "widgets"}

func match(issue int, score float32) vector.Match {
	return vector.Match{
		ID:       vector.IDFor(testRepo, issue),
		Score:    score,
		Metadata: vector.NewMetadata(testRepo, issue),
	}
}

func TestFormatResponse_Empty(t *testing.T) {
	out, err := worker.FormatResponse(nil)
	require.NoError(t, err)
	assert.Equal(t, "No similar issues found.", out)
}

func TestFormatResponse_LowScore(t *testing.T) {
	out, err := worker.FormatResponse([]vector.Match{match(7, 0.42)})
	require.NoError(t, err)
	assert.Equal(t,
		"The most similar issues to this one are:\n\n"+
			"1. #7 , with a similarity score of _0.42_. ⚠️ This is a low score, indicating weak similarity.",
		out)
}

func TestFormatResponse_SortsDescending(t *testing.T) {
	in := []vector.Match{match(3, 0.7), match(9, 0.91), match(4, 0.8)}

	out, err := worker.FormatResponse(in)
	require.NoError(t, err)
	assert.Equal(t,
		"The most similar issues to this one are:\n\n"+
			"1. #9 , with a similarity score of _0.91_.\n"+
			"2. #4 , with a similarity score of _0.80_.\n"+
			"3. #3 , with a similarity score of _0.70_.",
		out)

	// Input is left alone.
	assert.Equal(t, 3, in[0].Metadata.IssueNumber)
}

func TestFormatResponse_InvalidMetadataFailsBatch(t *testing.T) {
	bad := match(5, 0.9)
	bad.Metadata.Version = 0

	_, err := worker.FormatResponse([]vector.Match{match(1, 0.95), bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, vector.ErrInvalidMetadata)
	assert.True(t, worker.IsInvariant(err))
}

func TestResponder_Similar(t *testing.T) {
	ctx := context.Background()
	title, body := "Crash on start", "It crashes."
	item := queue.PostComment{Repository: testRepo, IssueNumber: 12, Title: &title, Body: &body, InstallationID: 1}
	values := []float32{0.1, 0.2}

	t.Run("drops itself", func(t *testing.T) {
		e := new(MockEmbedder)
		v := new(MockVectors)
		e.On("Embed", ctx, "Crash on start\nIt crashes.").Return(values, nil)
		v.On("Query", ctx, values, vector.NamespaceFor(testRepo), 4).
			Return([]vector.Match{match(12, 1), match(3, 0.9), match(4, 0.8), match(5, 0.7)}, nil)

		got, err := worker.NewResponder(e, v, 3).Similar(ctx, item)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for _, m := range got {
			assert.NotEqual(t, vector.IDFor(testRepo, 12), m.ID)
		}
		v.AssertExpectations(t)
	})

	t.Run("truncates to k when itself is absent", func(t *testing.T) {
		e := new(MockEmbedder)
		v := new(MockVectors)
		e.On("Embed", ctx, mock.Anything).Return(values, nil)
		v.On("Query", ctx, values, vector.NamespaceFor(testRepo), 3).
			Return([]vector.Match{match(3, 0.9), match(4, 0.8), match(5, 0.7)}, nil)

		got, err := worker.NewResponder(e, v, 2).Similar(ctx, item)
		require.NoError(t, err)
		assert.Equal(t, []vector.Match{match(3, 0.9), match(4, 0.8)}, got)
	})

	t.Run("embed failure", func(t *testing.T) {
		e := new(MockEmbedder)
		v := new(MockVectors)
		e.On("Embed", ctx, mock.Anything).Return(nil, errors.New("quota"))

		_, err := worker.NewResponder(e, v, 3).Similar(ctx, item)
		assert.Error(t, err)
		v.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
