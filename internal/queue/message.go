package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"issuedigger/internal/vector"
)

var (
	ErrUnknownType = errors.New("unknown work item type")
	ErrMalformed   = errors.New("malformed work item")
)

// Type is the wire discriminant of a work item.
type Type string

const (
	TypeIndexIssue      Type = "index_issue"
	TypeIndexComment    Type = "index_issue_comment"
	TypeReindexComments Type = "reindex_issue_comments"
	TypeOnboard         Type = "onboard"
	TypeOffboard        Type = "offboard"
	TypePostComment     Type = "post_comment"
)

// Known reports whether t is the discriminant of a work item variant.
func (t Type) Known() bool {
	switch t {
	case TypeIndexIssue, TypeIndexComment, TypeReindexComments, TypeOnboard, TypeOffboard, TypePostComment:
		return true
	}
	return false
}

// IndexKind tells whether an IndexItem carries an issue or one of its comments.
type IndexKind string

const (
	KindIssue   IndexKind = "issue"
	KindComment IndexKind = "comment"
)

// WorkItem is one unit of background work. The set of implementations is closed: adding
// one means adding a Visitor method, which breaks every visitor until it handles it.
type WorkItem interface {
	Type() Type
	Accept(ctx context.Context, v Visitor) error
	validate() error
}

// Visitor handles every kind of WorkItem.
type Visitor interface {
	VisitIndex(ctx context.Context, item IndexItem) error
	VisitReindexComments(ctx context.Context, item ReindexComments) error
	VisitOnboard(ctx context.Context, item Onboard) error
	VisitOffboard(ctx context.Context, item Offboard) error
	VisitPostComment(ctx context.Context, item PostComment) error
}

// IndexItem folds one issue or comment into the vector of its issue thread.
type IndexItem struct {
	Kind           IndexKind         `json:"-"`
	Repository     vector.Repository `json:"repository"`
	IssueNumber    int               `json:"issue_number"`
	Title          *string           `json:"title,omitempty"`
	Body           *string           `json:"body,omitempty"`
	IsSelfAuthored bool              `json:"is_self_authored"`
	InstallationID int64             `json:"installation_id"`
}

func (i IndexItem) Type() Type {
	if i.Kind == KindComment {
		return TypeIndexComment
	}
	return TypeIndexIssue
}

func (i IndexItem) Accept(ctx context.Context, v Visitor) error { return v.VisitIndex(ctx, i) }

func (i IndexItem) validate() error {
	return checkIssue(i.Repository, i.IssueNumber)
}

func (i IndexItem) MarshalJSON() ([]byte, error) {
	type alias IndexItem
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{i.Type(), alias(i)})
}

// Text is the content embedded for the item. Missing parts count as empty.
func (i IndexItem) Text() string {
	return joinText(i.Title, i.Body)
}

// ReindexComments re-emits every human comment of one issue for indexing.
type ReindexComments struct {
	Repository     vector.Repository `json:"repository"`
	IssueNumber    int               `json:"issue_number"`
	InstallationID int64             `json:"installation_id"`
}

func (ReindexComments) Type() Type { return TypeReindexComments }

func (r ReindexComments) Accept(ctx context.Context, v Visitor) error {
	return v.VisitReindexComments(ctx, r)
}

func (r ReindexComments) validate() error {
	return checkIssue(r.Repository, r.IssueNumber)
}

func (r ReindexComments) MarshalJSON() ([]byte, error) {
	type alias ReindexComments
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{r.Type(), alias(r)})
}

// Onboard backfills a repository's issues and comments.
type Onboard struct {
	Repository     vector.Repository `json:"repository"`
	InstallationID int64             `json:"installation_id"`
}

func (Onboard) Type() Type { return TypeOnboard }

func (o Onboard) Accept(ctx context.Context, v Visitor) error { return v.VisitOnboard(ctx, o) }

func (o Onboard) validate() error { return checkRepository(o.Repository) }

func (o Onboard) MarshalJSON() ([]byte, error) {
	type alias Onboard
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{o.Type(), alias(o)})
}

// Offboard deletes every vector of a repository.
type Offboard struct {
	Repository vector.Repository `json:"repository"`
}

func (Offboard) Type() Type { return TypeOffboard }

func (o Offboard) Accept(ctx context.Context, v Visitor) error { return v.VisitOffboard(ctx, o) }

func (o Offboard) validate() error { return checkRepository(o.Repository) }

func (o Offboard) MarshalJSON() ([]byte, error) {
	type alias Offboard
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{o.Type(), alias(o)})
}

// PostComment answers an issue with its most similar issues.
type PostComment struct {
	Repository     vector.Repository `json:"repository"`
	IssueNumber    int               `json:"issue_number"`
	Title          *string           `json:"title,omitempty"`
	Body           *string           `json:"body,omitempty"`
	InstallationID int64             `json:"installation_id"`
}

func (PostComment) Type() Type { return TypePostComment }

func (p PostComment) Accept(ctx context.Context, v Visitor) error {
	return v.VisitPostComment(ctx, p)
}

func (p PostComment) validate() error {
	return checkIssue(p.Repository, p.IssueNumber)
}

func (p PostComment) MarshalJSON() ([]byte, error) {
	type alias PostComment
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{p.Type(), alias(p)})
}

// Text is the content embedded for the query.
func (p PostComment) Text() string {
	return joinText(p.Title, p.Body)
}

// Marshal encodes item as a JSON object carrying its "type" discriminant.
func Marshal(item WorkItem) ([]byte, error) {
	return json.Marshal(item)
}

// Unmarshal decodes a message produced by Marshal. An unknown or missing discriminant
// yields ErrUnknownType.
func Unmarshal(data []byte) (WorkItem, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var item WorkItem
	var err error
	switch head.Type {
	case TypeIndexIssue, TypeIndexComment:
		var i IndexItem
		err = json.Unmarshal(data, &i)
		i.Kind = KindIssue
		if head.Type == TypeIndexComment {
			i.Kind = KindComment
		}
		item = i
	case TypeReindexComments:
		var r ReindexComments
		err = json.Unmarshal(data, &r)
		item = r
	case TypeOnboard:
		var o Onboard
		err = json.Unmarshal(data, &o)
		item = o
	case TypeOffboard:
		var o Offboard
		err = json.Unmarshal(data, &o)
		item = o
	case TypePostComment:
		var p PostComment
		err = json.Unmarshal(data, &p)
		item = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	if err := item.validate(); err != nil {
		return nil, err
	}
	return item, nil
}

func checkRepository(repo vector.Repository) error {
	if repo.Owner == "" || repo.Name == "" {
		return fmt.Errorf("%w: repository %q", ErrMalformed, repo.String())
	}
	return nil
}

func checkIssue(repo vector.Repository, number int) error {
	if err := checkRepository(repo); err != nil {
		return err
	}
	if number <= 0 {
		return fmt.Errorf("%w: issue number %d", ErrMalformed, number)
	}
	return nil
}

func joinText(title, body *string) string {
	var t, b string
	if title != nil {
		t = *title
	}
	if body != nil {
		b = *body
	}
	return t + "\n" + b
}
