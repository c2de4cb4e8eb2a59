package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	ghadapter "issuedigger/internal/adapter/github"
	"issuedigger/internal/metrics"
	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
)

// Dispatcher drives the side effect of each kind of work item.
type Dispatcher struct {
	entities  Entities
	vectors   Vectors
	hosts     Hosts
	backfill  Backfiller
	responder *Responder
	lookback  int
}

var _ queue.Visitor = (*Dispatcher)(nil)

func NewDispatcher(e Entities, v Vectors, h Hosts, b Backfiller, r *Responder, lookback int) *Dispatcher {
	return &Dispatcher{
		entities:  e,
		vectors:   v,
		hosts:     h,
		backfill:  b,
		responder: r,
		lookback:  lookback,
	}
}

func (d *Dispatcher) VisitIndex(ctx context.Context, item queue.IndexItem) error {
	id, err := d.entities.Apply(ctx, item)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "indexed item", "id", id, "kind", item.Kind)
	return nil
}

func (d *Dispatcher) VisitOnboard(ctx context.Context, item queue.Onboard) error {
	host, err := d.hosts.ForInstallation(item.InstallationID)
	if err != nil {
		return fmt.Errorf("host client for installation %d: %w", item.InstallationID, err)
	}

	slog.InfoContext(ctx, "backfilling repository", "repository", item.Repository.String(), "limit", d.lookback)

	count := 0
	for it, err := range host.IssuesWithComments(ctx, item.Repository) {
		if err != nil {
			return d.backfillStopped(ctx, "onboard", count, err)
		}
		if count >= d.lookback {
			slog.InfoContext(ctx, "reached lookback limit, stopping", "limit", d.lookback)
			break
		}
		if err := d.resubmit(ctx, item.Repository, item.InstallationID, it); err != nil {
			return err
		}
		count++
	}

	slog.InfoContext(ctx, "backfill complete", "repository", item.Repository.String(), "items", count)
	return nil
}

func (d *Dispatcher) VisitReindexComments(ctx context.Context, item queue.ReindexComments) error {
	host, err := d.hosts.ForInstallation(item.InstallationID)
	if err != nil {
		return fmt.Errorf("host client for installation %d: %w", item.InstallationID, err)
	}

	count := 0
	for it, err := range host.CommentsForIssue(ctx, item.Repository, item.IssueNumber) {
		if err != nil {
			return d.backfillStopped(ctx, "reindex", count, err)
		}
		if err := d.resubmit(ctx, item.Repository, item.InstallationID, it); err != nil {
			return err
		}
		count++
	}

	slog.InfoContext(ctx, "reindex submitted", "repository", item.Repository.String(), "issue", item.IssueNumber, "comments", count)
	return nil
}

// resubmit queues one enumerated item. Only a cancelled context stops the loop; any other
// submission failure loses that single item.
func (d *Dispatcher) resubmit(ctx context.Context, repo vector.Repository, installationID int64, it ghadapter.Item) error {
	err := d.backfill.SubmitBackfilled(ctx, queue.IndexItem{
		Kind:           it.Kind,
		Repository:     repo,
		IssueNumber:    it.IssueNumber,
		Title:          it.Title,
		Body:           it.Body,
		IsSelfAuthored: it.SelfAuthored,
		InstallationID: installationID,
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	slog.ErrorContext(ctx, "failed to submit backfilled item", "issue", it.IssueNumber, "kind", it.Kind, "error", err)
	return nil
}

// backfillStopped handles an enumeration failure. Once something was queued a retry would
// fold the same items in twice, so a partial backfill is kept and acknowledged.
func (d *Dispatcher) backfillStopped(ctx context.Context, op string, submitted int, err error) error {
	if submitted == 0 || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: list items: %w", op, err)
	}
	slog.WarnContext(ctx, "listing stopped early, keeping partial backfill", "op", op, "submitted", submitted, "error", err)
	return nil
}

func (d *Dispatcher) VisitOffboard(ctx context.Context, item queue.Offboard) error {
	res, err := d.vectors.DeleteRepository(ctx, item.Repository)
	metrics.OffboardedVectors.WithLabelValues("deleted").Add(float64(res.Deleted))
	metrics.OffboardedVectors.WithLabelValues("failed").Add(float64(res.Failed))
	if err != nil {
		return fmt.Errorf("offboard %s: %w", item.Repository, err)
	}

	slog.InfoContext(ctx, "offboarding complete", "repository", item.Repository.String(), "deleted", res.Deleted, "failed", res.Failed)
	return nil
}

func (d *Dispatcher) VisitPostComment(ctx context.Context, item queue.PostComment) error {
	matches, err := d.responder.Similar(ctx, item)
	if err != nil {
		return err
	}

	body, err := FormatResponse(matches)
	if err != nil {
		return err
	}

	host, err := d.hosts.ForInstallation(item.InstallationID)
	if err != nil {
		return fmt.Errorf("host client for installation %d: %w", item.InstallationID, err)
	}

	if err := host.CreateComment(ctx, item.Repository, item.IssueNumber, body); err != nil {
		slog.ErrorContext(ctx, "failed to post comment", "repository", item.Repository.String(), "issue", item.IssueNumber, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "posted similar issues", "repository", item.Repository.String(), "issue", item.IssueNumber, "matches", len(matches))
	return nil
}
