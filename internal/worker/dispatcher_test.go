package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	ghadapter "issuedigger/internal/adapter/github"
	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
	"issuedigger/internal/worker"
)

type dispatcherDeps struct {
	entities *MockEntities
	vectors  *MockVectors
	embedder *MockEmbedder
	host     *MockHost
	backfill *MockBackfiller
	hostErr  error
}

func newDispatcher(lookback int) (*worker.Dispatcher, *dispatcherDeps) {
	d := &dispatcherDeps{
		entities: new(MockEntities),
		vectors:  new(MockVectors),
		embedder: new(MockEmbedder),
		host:     new(MockHost),
		backfill: new(MockBackfiller),
	}
	hosts := worker.HostsFunc(func(int64) (worker.Host, error) {
		if d.hostErr != nil {
			return nil, d.hostErr
		}
		return d.host, nil
	})
	r := worker.NewResponder(d.embedder, d.vectors, 3)
	return worker.NewDispatcher(d.entities, d.vectors, hosts, d.backfill, r, lookback), d
}

func str(s string) *string { return &s }

func issueItems(n int) []ghadapter.Item {
	items := make([]ghadapter.Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, ghadapter.Item{Kind: queue.KindIssue, IssueNumber: i, Title: str("t"), Body: str("b")})
	}
	return items
}

func TestDispatcher_Index(t *testing.T) {
	ctx := context.Background()
	disp, d := newDispatcher(10)
	item := queue.IndexItem{Kind: queue.KindComment, Repository: testRepo, IssueNumber: 4, Body: str("hello")}
	d.entities.On("Apply", ctx, item).Return(vector.IDFor(testRepo, 4), nil)

	require.NoError(t, item.Accept(ctx, disp))
	d.entities.AssertExpectations(t)
}

func TestDispatcher_Onboard(t *testing.T) {
	ctx := context.Background()
	onboard := queue.Onboard{Repository: testRepo, InstallationID: 42}

	t.Run("stops at the lookback limit", func(t *testing.T) {
		disp, d := newDispatcher(3)
		d.host.On("IssuesWithComments", ctx, testRepo).Return(issueItems(5), nil)
		d.backfill.On("SubmitBackfilled", ctx, mock.Anything).Return(nil)

		require.NoError(t, onboard.Accept(ctx, disp))
		d.backfill.AssertNumberOfCalls(t, "SubmitBackfilled", 3)
	})

	t.Run("items keep their shape", func(t *testing.T) {
		disp, d := newDispatcher(10)
		items := []ghadapter.Item{
			{Kind: queue.KindIssue, IssueNumber: 1, Title: str("Bug"), Body: str("Broken")},
			{Kind: queue.KindComment, IssueNumber: 1, CommentID: 99, Body: str("me too"), SelfAuthored: true},
		}
		d.host.On("IssuesWithComments", ctx, testRepo).Return(items, nil)
		d.backfill.On("SubmitBackfilled", ctx, queue.IndexItem{
			Kind: queue.KindIssue, Repository: testRepo, IssueNumber: 1,
			Title: str("Bug"), Body: str("Broken"), InstallationID: 42,
		}).Return(nil).Once()
		d.backfill.On("SubmitBackfilled", ctx, queue.IndexItem{
			Kind: queue.KindComment, Repository: testRepo, IssueNumber: 1,
			Body: str("me too"), IsSelfAuthored: true, InstallationID: 42,
		}).Return(nil).Once()

		require.NoError(t, onboard.Accept(ctx, disp))
		d.backfill.AssertExpectations(t)
	})

	t.Run("submit failure skips the item", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.host.On("IssuesWithComments", ctx, testRepo).Return(issueItems(3), nil)
		d.backfill.On("SubmitBackfilled", ctx, mock.Anything).Return(errors.New("nsqd down")).Once()
		d.backfill.On("SubmitBackfilled", ctx, mock.Anything).Return(nil)

		require.NoError(t, onboard.Accept(ctx, disp))
		d.backfill.AssertNumberOfCalls(t, "SubmitBackfilled", 3)
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		disp, d := newDispatcher(10)
		d.host.On("IssuesWithComments", cctx, testRepo).Return(issueItems(3), nil)
		d.backfill.On("SubmitBackfilled", cctx, mock.Anything).Return(context.Canceled)

		err := onboard.Accept(cctx, disp)
		assert.ErrorIs(t, err, context.Canceled)
		d.backfill.AssertNumberOfCalls(t, "SubmitBackfilled", 1)
	})

	t.Run("listing failure before any item is retried", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.host.On("IssuesWithComments", ctx, testRepo).Return([]ghadapter.Item{}, errors.New("502"))

		assert.Error(t, onboard.Accept(ctx, disp))
		d.backfill.AssertNotCalled(t, "SubmitBackfilled", mock.Anything, mock.Anything)
	})

	t.Run("listing failure after some items keeps them", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.host.On("IssuesWithComments", ctx, testRepo).Return(issueItems(2), errors.New("502"))
		d.backfill.On("SubmitBackfilled", ctx, mock.Anything).Return(nil)

		require.NoError(t, onboard.Accept(ctx, disp))
		d.backfill.AssertNumberOfCalls(t, "SubmitBackfilled", 2)
	})

	t.Run("no host client", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.hostErr = errors.New("bad key")

		assert.Error(t, onboard.Accept(ctx, disp))
	})
}

func TestDispatcher_ReindexComments(t *testing.T) {
	ctx := context.Background()
	disp, d := newDispatcher(1)
	comments := []ghadapter.Item{
		{Kind: queue.KindComment, IssueNumber: 8, CommentID: 1, Body: str("a")},
		{Kind: queue.KindComment, IssueNumber: 8, CommentID: 2, Body: str("b")},
	}
	d.host.On("CommentsForIssue", ctx, testRepo, 8).Return(comments, nil)
	d.backfill.On("SubmitBackfilled", ctx, mock.MatchedBy(func(item queue.WorkItem) bool {
		idx, ok := item.(queue.IndexItem)
		return ok && idx.Kind == queue.KindComment && idx.IssueNumber == 8 && idx.InstallationID == 5
	})).Return(nil)

	item := queue.ReindexComments{Repository: testRepo, IssueNumber: 8, InstallationID: 5}
	require.NoError(t, item.Accept(ctx, disp))

	// The lookback limit only bounds onboarding.
	d.backfill.AssertNumberOfCalls(t, "SubmitBackfilled", 2)
}

func TestDispatcher_Offboard(t *testing.T) {
	ctx := context.Background()

	t.Run("sweeps repository", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.vectors.On("DeleteRepository", ctx, testRepo).Return(vector.SweepResult{Deleted: 4, Failed: 1}, nil)

		require.NoError(t, queue.Offboard{Repository: testRepo}.Accept(ctx, disp))
		d.vectors.AssertExpectations(t)
	})

	t.Run("listing failure is returned", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.vectors.On("DeleteRepository", ctx, testRepo).Return(vector.SweepResult{Deleted: 2}, errors.New("db gone"))

		assert.Error(t, queue.Offboard{Repository: testRepo}.Accept(ctx, disp))
	})
}

func TestDispatcher_PostComment(t *testing.T) {
	ctx := context.Background()
	item := queue.PostComment{Repository: testRepo, IssueNumber: 12, Title: str("t"), Body: str("b"), InstallationID: 9}
	values := []float32{1, 0}

	t.Run("posts formatted matches", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.embedder.On("Embed", ctx, "t\nb").Return(values, nil)
		d.vectors.On("Query", ctx, values, vector.NamespaceFor(testRepo), 4).
			Return([]vector.Match{match(12, 1), match(3, 0.9)}, nil)
		d.host.On("CreateComment", ctx, testRepo, 12,
			"The most similar issues to this one are:\n\n1. #3 , with a similarity score of _0.90_.").Return(nil)

		require.NoError(t, item.Accept(ctx, disp))
		d.host.AssertExpectations(t)
	})

	t.Run("no matches", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.embedder.On("Embed", ctx, mock.Anything).Return(values, nil)
		d.vectors.On("Query", ctx, values, vector.NamespaceFor(testRepo), 4).
			Return([]vector.Match{match(12, 1)}, nil)
		d.host.On("CreateComment", ctx, testRepo, 12, "No similar issues found.").Return(nil)

		require.NoError(t, item.Accept(ctx, disp))
		d.host.AssertExpectations(t)
	})

	t.Run("posting failure is not retried", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.embedder.On("Embed", ctx, mock.Anything).Return(values, nil)
		d.vectors.On("Query", ctx, values, vector.NamespaceFor(testRepo), 4).Return([]vector.Match{}, nil)
		d.host.On("CreateComment", ctx, testRepo, 12, mock.Anything).Return(errors.New("403"))

		assert.NoError(t, item.Accept(ctx, disp))
	})

	t.Run("query failure is returned", func(t *testing.T) {
		disp, d := newDispatcher(10)
		d.embedder.On("Embed", ctx, mock.Anything).Return(values, nil)
		d.vectors.On("Query", ctx, values, vector.NamespaceFor(testRepo), 4).Return(nil, errors.New("timeout"))

		err := item.Accept(ctx, disp)
		require.Error(t, err)
		assert.False(t, worker.IsInvariant(err))
		d.host.AssertNotCalled(t, "CreateComment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
