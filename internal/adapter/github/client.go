// Package github talks to the GitHub REST API on behalf of one app installation.
package github

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"

	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
)

// PerPage matches the REST API default page size.
const PerPage = 30

// Item is one issue or human comment enumerated during a backfill.
type Item struct {
	Kind         queue.IndexKind
	IssueNumber  int
	CommentID    int64
	Title        *string
	Body         *string
	SelfAuthored bool
}

type Client struct {
	gh      *github.Client
	botUser string
}

// NewClient wraps an HTTP client that already authenticates as an installation.
// An empty baseURL targets api.github.com.
func NewClient(httpClient *http.Client, baseURL, appSlug string) (*Client, error) {
	gh := github.NewClient(httpClient)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		gh.BaseURL = u
	}
	return &Client{gh: gh, botUser: BotLogin(appSlug)}, nil
}

// BotLogin is the login GitHub shows for content created by the app.
func BotLogin(appSlug string) string {
	return appSlug + "[bot]"
}

func (c *Client) CreateComment(ctx context.Context, repo vector.Repository, issueNumber int, body string) error {
	slog.DebugContext(ctx, "posting issue comment", "repository", repo.String(), "issue", issueNumber)
	_, _, err := c.gh.Issues.CreateComment(ctx, repo.Owner, repo.Name, issueNumber, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("create comment on %s#%d: %w", repo, issueNumber, err)
	}
	return nil
}

// PostReaction reacts to an issue comment, e.g. with "+1".
func (c *Client) PostReaction(ctx context.Context, repo vector.Repository, commentID int64, reaction string) error {
	slog.DebugContext(ctx, "posting reaction", "repository", repo.String(), "comment_id", commentID, "reaction", reaction)
	_, _, err := c.gh.Reactions.CreateIssueCommentReaction(ctx, repo.Owner, repo.Name, commentID, reaction)
	if err != nil {
		return fmt.Errorf("react to comment %d in %s: %w", commentID, repo, err)
	}
	return nil
}

// IssuesWithComments yields every issue of repo, open or closed, each followed by its
// human comments. Pull requests are skipped. Pages are fetched as the sequence is consumed.
func (c *Client) IssuesWithComments(ctx context.Context, repo vector.Repository) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		opts := &github.IssueListByRepoOptions{
			State:       "all",
			ListOptions: github.ListOptions{PerPage: PerPage},
		}
		for {
			issues, resp, err := c.gh.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
			if err != nil {
				yield(Item{}, fmt.Errorf("list issues of %s: %w", repo, err))
				return
			}

			for _, issue := range issues {
				if issue.IsPullRequest() {
					continue
				}
				item := Item{
					Kind:         queue.KindIssue,
					IssueNumber:  issue.GetNumber(),
					Title:        issue.Title,
					Body:         issue.Body,
					SelfAuthored: issue.GetUser().GetLogin() == c.botUser,
				}
				if !yield(item, nil) {
					return
				}
				for comment, err := range c.CommentsForIssue(ctx, repo, issue.GetNumber()) {
					if !yield(comment, err) || err != nil {
						return
					}
				}
			}

			if resp.NextPage == 0 {
				return
			}
			opts.Page = resp.NextPage
		}
	}
}

// CommentsForIssue yields the comments of one issue written by human users. Bots and
// deleted accounts are skipped.
func (c *Client) CommentsForIssue(ctx context.Context, repo vector.Repository, issueNumber int) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		opts := &github.IssueListCommentsOptions{
			ListOptions: github.ListOptions{PerPage: PerPage},
		}
		for {
			comments, resp, err := c.gh.Issues.ListComments(ctx, repo.Owner, repo.Name, issueNumber, opts)
			if err != nil {
				yield(Item{}, fmt.Errorf("list comments of %s#%d: %w", repo, issueNumber, err))
				return
			}

			for _, comment := range comments {
				if comment.User == nil || comment.User.GetType() != "User" {
					continue
				}
				item := Item{
					Kind:         queue.KindComment,
					IssueNumber:  issueNumber,
					CommentID:    comment.GetID(),
					Body:         comment.Body,
					SelfAuthored: comment.User.GetLogin() == c.botUser,
				}
				if !yield(item, nil) {
					return
				}
			}

			if resp.NextPage == 0 {
				return
			}
			opts.Page = resp.NextPage
		}
	}
}
