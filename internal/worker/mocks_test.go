package worker_test

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"
	"issuedigger/features/job"
	ghadapter "issuedigger/internal/adapter/github"
	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
)

// Mocks

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockEntities struct{ mock.Mock }

func (m *MockEntities) Apply(ctx context.Context, item queue.IndexItem) (vector.ID, error) {
	args := m.Called(ctx, item)
	return args.Get(0).(vector.ID), args.Error(1)
}

type MockVectors struct{ mock.Mock }

func (m *MockVectors) Query(ctx context.Context, values []float32, ns vector.Namespace, topK int) ([]vector.Match, error) {
	args := m.Called(ctx, values, ns, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.Match), args.Error(1)
}

func (m *MockVectors) DeleteRepository(ctx context.Context, repo vector.Repository) (vector.SweepResult, error) {
	args := m.Called(ctx, repo)
	return args.Get(0).(vector.SweepResult), args.Error(1)
}

// MockHost yields the items and then the error registered for a listing call.
type MockHost struct{ mock.Mock }

func (m *MockHost) CreateComment(ctx context.Context, repo vector.Repository, issueNumber int, body string) error {
	args := m.Called(ctx, repo, issueNumber, body)
	return args.Error(0)
}

func (m *MockHost) IssuesWithComments(ctx context.Context, repo vector.Repository) iter.Seq2[ghadapter.Item, error] {
	args := m.Called(ctx, repo)
	return sequence(args.Get(0).([]ghadapter.Item), args.Error(1))
}

func (m *MockHost) CommentsForIssue(ctx context.Context, repo vector.Repository, issueNumber int) iter.Seq2[ghadapter.Item, error] {
	args := m.Called(ctx, repo, issueNumber)
	return sequence(args.Get(0).([]ghadapter.Item), args.Error(1))
}

func sequence(items []ghadapter.Item, tail error) iter.Seq2[ghadapter.Item, error] {
	return func(yield func(ghadapter.Item, error) bool) {
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
		if tail != nil {
			yield(ghadapter.Item{}, tail)
		}
	}
}

type MockBackfiller struct{ mock.Mock }

func (m *MockBackfiller) SubmitBackfilled(ctx context.Context, item queue.WorkItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

type MockVisitor struct{ mock.Mock }

func (m *MockVisitor) VisitIndex(ctx context.Context, item queue.IndexItem) error {
	return m.Called(ctx, item).Error(0)
}

func (m *MockVisitor) VisitReindexComments(ctx context.Context, item queue.ReindexComments) error {
	return m.Called(ctx, item).Error(0)
}

func (m *MockVisitor) VisitOnboard(ctx context.Context, item queue.Onboard) error {
	return m.Called(ctx, item).Error(0)
}

func (m *MockVisitor) VisitOffboard(ctx context.Context, item queue.Offboard) error {
	return m.Called(ctx, item).Error(0)
}

func (m *MockVisitor) VisitPostComment(ctx context.Context, item queue.PostComment) error {
	return m.Called(ctx, item).Error(0)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

