package vector

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	// SchemaVersion prefixes namespaces and ids so a future metadata layout can coexist
	// with vectors written under this one.
	SchemaVersion = 1

	// Soft limits of the vector index. Exceeding them is logged, never rejected.
	MaxNamespaceBytes = 63
	MaxIDBytes        = 64
)

// Repository identifies a repository on the source-control host. It scopes namespaces,
// onboarding and offboarding.
type Repository struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// Namespace is a per-repository partition of the vector index.
type Namespace string

// ID identifies the vector of one issue thread. It doubles as a bookkeeping key.
type ID string

// NamespaceFor returns "N1/{owner}/{name}".
func NamespaceFor(repo Repository) Namespace {
	ns := fmt.Sprintf("N%d/%s/%s", SchemaVersion, repo.Owner, repo.Name)
	if len(ns) > MaxNamespaceBytes {
		slog.Warn("namespace exceeds index limit", "namespace", ns, "bytes", len(ns), "limit", MaxNamespaceBytes)
	}
	return Namespace(ns)
}

// BaseID returns the id prefix shared by all vectors of a repository.
//
// Periods are rewritten to "@" because the bookkeeping keyspace forbids them. GitHub
// owners cannot contain either character and repository names cannot contain "@", so
// the substitution is assumed collision free. It is not injective in general.
func BaseID(repo Repository) string {
	id := fmt.Sprintf("I%d/%s/%s", SchemaVersion, repo.Owner, repo.Name)
	return strings.ReplaceAll(id, ".", "@")
}

// IDFor returns "{BaseID}/{issueNumber}".
func IDFor(repo Repository, issueNumber int) ID {
	id := fmt.Sprintf("%s/%d", BaseID(repo), issueNumber)
	if len(id) > MaxIDBytes {
		slog.Warn("vector id exceeds index limit", "id", id, "bytes", len(id), "limit", MaxIDBytes)
	}
	return ID(id)
}
