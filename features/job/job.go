// Package job keeps work items that could not be processed, so an operator can inspect
// and retry them.
package job

import (
	"encoding/json"
	"time"

	"issuedigger/internal/queue"
)

// KindUnknown labels dead letters whose payload carried no recognizable work item type.
const KindUnknown = "unknown"

type Job struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter narrows a listing. The zero value lists everything.
type Filter struct {
	Kind string
}

// validKind reports whether kind can appear on a stored job.
func validKind(kind string) bool {
	return kind == KindUnknown || queue.Type(kind).Known()
}
