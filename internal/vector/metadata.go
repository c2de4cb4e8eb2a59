package vector

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMetadata  = errors.New("invalid vector metadata")
	ErrMissingNamespace = errors.New("vector has no namespace")
	ErrAlreadyExists    = errors.New("vector already exists")
)

// Metadata is the self-describing tag stored next to every vector.
type Metadata struct {
	Version     int    `json:"version"`
	IssueNumber int    `json:"issue_number"`
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
}

// NewMetadata builds metadata of the current schema version.
func NewMetadata(repo Repository, issueNumber int) Metadata {
	return Metadata{
		Version:     SchemaVersion,
		IssueNumber: issueNumber,
		Owner:       repo.Owner,
		Repo:        repo.Name,
	}
}

// IsValid reports whether m has the shape required by the given schema version.
// Unknown versions are never valid.
func (m Metadata) IsValid(version int) bool {
	switch version {
	case 1:
		return m.Version == 1 && m.IssueNumber > 0 && m.Owner != "" && m.Repo != ""
	default:
		return false
	}
}

// Validate wraps IsValid for the current schema version into an error.
func (m Metadata) Validate() error {
	if !m.IsValid(SchemaVersion) {
		return fmt.Errorf("%w: %+v", ErrInvalidMetadata, m)
	}
	return nil
}

// Record is one stored vector.
type Record struct {
	ID        ID
	Namespace Namespace
	Values    []float32
	Metadata  Metadata
}

// Match is a query hit. Score is a similarity in [0, 1], higher is closer.
type Match struct {
	ID       ID
	Score    float32
	Metadata Metadata
}
