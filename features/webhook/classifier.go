package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"

	"issuedigger/internal/queue"
	"issuedigger/internal/signature"
	"issuedigger/internal/vector"
)

var (
	ErrMissingInstallation = errors.New("installation id missing, cannot authenticate")
	ErrMalformedEvent      = errors.New("malformed webhook event")
)

// Trigger words that end an app command.
const (
	TriggerDig      = "dig"
	TriggerOnboard  = "onboard"
	TriggerOffboard = "offboard"
	TriggerReindex  = "reindex"
)

// Reaction is the acknowledgement of an app command.
type Reaction struct {
	Repository     vector.Repository
	CommentID      int64
	InstallationID int64
	Content        string
}

// Plan is everything one webhook event should cause. A plan with no items and no
// reaction is a no-op.
type Plan struct {
	Relevant bool
	Items    []queue.WorkItem
	Reaction *Reaction
}

func (p Plan) NoOp() bool {
	return !p.Relevant || (len(p.Items) == 0 && p.Reaction == nil)
}

// Classifier maps webhook events to work. It holds no state besides the app identity.
type Classifier struct {
	slug  string
	owner string
}

func NewClassifier(appSlug, appOwner string) *Classifier {
	return &Classifier{slug: appSlug, owner: appOwner}
}

// IsAppCommand reports whether a comment body is addressed to the app: after leading
// whitespace it starts with the app mention and a space.
func (c *Classifier) IsAppCommand(body string) bool {
	return strings.HasPrefix(strings.TrimLeft(body, " \t\r\n"), "@"+c.slug+" ")
}

// BotLogin is the login of content created by the app itself.
func (c *Classifier) BotLogin() string {
	return c.slug + "[bot]"
}

// Relevant reports whether events named eventName are ever acted upon.
func Relevant(eventName string) bool {
	switch eventName {
	case "issues", "issue_comment", "installation", "installation_repositories":
		return true
	}
	return false
}

// event is the flattened view of one payload the trigger rules are evaluated on.
type event struct {
	isIssue     bool
	isComment   bool
	isInstall   bool
	isUninstall bool

	installationID int64
	repository     vector.Repository
	issue          *github.Issue
	comment        *github.IssueComment
	actor          string
	// Repositories named by installation payloads.
	repositories []*github.Repository
}

// Classify decides the work for one authenticated delivery. Irrelevant events give a plan
// with Relevant unset.
func (c *Classifier) Classify(eventName string, proof signature.Proof) (Plan, error) {
	if !Relevant(eventName) {
		return Plan{}, nil
	}

	payload, err := github.ParseWebHook(eventName, proof.Body())
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev, ok := flatten(payload)
	if !ok {
		return Plan{}, nil
	}
	if ev.installationID == 0 {
		return Plan{}, ErrMissingInstallation
	}

	return c.plan(ev), nil
}

func flatten(payload interface{}) (event, bool) {
	var ev event
	switch e := payload.(type) {
	case *github.IssuesEvent:
		action := e.GetAction()
		ev.isIssue = action == "opened" || action == "edited"
		ev.installationID = e.GetInstallation().GetID()
		ev.repository = repositoryOf(e.GetRepo())
		ev.issue = e.GetIssue()
		ev.actor = e.GetSender().GetLogin()
	case *github.IssueCommentEvent:
		action := e.GetAction()
		ev.isComment = action == "created" || action == "edited"
		ev.installationID = e.GetInstallation().GetID()
		ev.repository = repositoryOf(e.GetRepo())
		ev.issue = e.GetIssue()
		ev.comment = e.GetComment()
		ev.actor = e.GetComment().GetUser().GetLogin()
	case *github.InstallationEvent:
		action := e.GetAction()
		ev.isInstall = action == "created"
		ev.isUninstall = action == "deleted"
		ev.installationID = e.GetInstallation().GetID()
		ev.repositories = e.Repositories
	case *github.InstallationRepositoriesEvent:
		ev.installationID = e.GetInstallation().GetID()
		switch e.GetAction() {
		case "added":
			ev.isInstall = true
			ev.repositories = e.RepositoriesAdded
		case "removed":
			ev.isUninstall = true
			ev.repositories = e.RepositoriesRemoved
		}
	default:
		return ev, false
	}
	return ev, ev.isIssue || ev.isComment || ev.isInstall || ev.isUninstall
}

func (c *Classifier) plan(ev event) Plan {
	p := Plan{Relevant: true}

	isCommand := ev.isComment && c.IsAppCommand(ev.comment.GetBody())
	command := ""
	if isCommand {
		command = strings.TrimRight(ev.comment.GetBody(), " \t\r\n")
	}
	fromOwner := c.owner != "" && ev.actor == c.owner
	triggered := func(word string, ownerOnly bool) bool {
		return isCommand && strings.HasSuffix(command, word) && (!ownerOnly || fromOwner)
	}

	if ev.isIssue || triggered(TriggerDig, false) {
		p.Items = append(p.Items, queue.PostComment{
			Repository:     ev.repository,
			IssueNumber:    ev.issue.GetNumber(),
			Title:          ev.issue.Title,
			Body:           ev.issue.Body,
			InstallationID: ev.installationID,
		})
	}

	if ev.isInstall || triggered(TriggerOnboard, true) {
		for _, repo := range c.targets(ev) {
			p.Items = append(p.Items, queue.Onboard{Repository: repo, InstallationID: ev.installationID})
		}
	}

	if ev.isUninstall || triggered(TriggerOffboard, true) {
		for _, repo := range c.targets(ev) {
			p.Items = append(p.Items, queue.Offboard{Repository: repo})
		}
	}

	reindex := triggered(TriggerReindex, true)
	switch {
	case reindex:
		p.Items = append(p.Items, c.issueItem(ev), queue.ReindexComments{
			Repository:     ev.repository,
			IssueNumber:    ev.issue.GetNumber(),
			InstallationID: ev.installationID,
		})
	case ev.isIssue:
		p.Items = append(p.Items, c.issueItem(ev))
	case ev.isComment:
		p.Items = append(p.Items, queue.IndexItem{
			Kind:           queue.KindComment,
			Repository:     ev.repository,
			IssueNumber:    ev.issue.GetNumber(),
			Body:           ev.comment.Body,
			IsSelfAuthored: ev.comment.GetUser().GetLogin() == c.BotLogin(),
			InstallationID: ev.installationID,
		})
	}

	if isCommand {
		p.Reaction = &Reaction{
			Repository:     ev.repository,
			CommentID:      ev.comment.GetID(),
			InstallationID: ev.installationID,
			Content:        "+1",
		}
	}
	return p
}

func (c *Classifier) issueItem(ev event) queue.IndexItem {
	return queue.IndexItem{
		Kind:           queue.KindIssue,
		Repository:     ev.repository,
		IssueNumber:    ev.issue.GetNumber(),
		Title:          ev.issue.Title,
		Body:           ev.issue.Body,
		IsSelfAuthored: ev.issue.GetUser().GetLogin() == c.BotLogin(),
		InstallationID: ev.installationID,
	}
}

// targets resolves the repositories an onboarding or offboarding applies to.
// Installation payloads only carry full names, so the owner is taken from there.
func (c *Classifier) targets(ev event) []vector.Repository {
	if !ev.isInstall && !ev.isUninstall {
		return []vector.Repository{ev.repository}
	}
	var repos []vector.Repository
	for _, r := range ev.repositories {
		owner, _, _ := strings.Cut(r.GetFullName(), "/")
		if owner == "" || r.GetName() == "" {
			continue
		}
		repos = append(repos, vector.Repository{Owner: owner, Name: r.GetName()})
	}
	return repos
}

func repositoryOf(r *github.Repository) vector.Repository {
	return vector.Repository{Owner: r.GetOwner().GetLogin(), Name: r.GetName()}
}
