// Package queue implements the durable offline operation queue: local
// mutations made while disconnected are persisted, coalesced per path, and
// replayed in FIFO order once connectivity returns.
package queue

import (
	"time"

	"github.com/tildaslashalef/vaultsync/internal/ulid"
)

// OpKind identifies the local mutation a queued operation carries.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
	OpRename OpKind = "rename"
)

// Status is the lifecycle state of a queued operation.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Operation is one pending local mutation. At most one Queued operation
// exists per path; newer mutations coalesce into it, keeping the original
// queue time but the latest payload.
type Operation struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Kind       OpKind    `json:"kind"`
	Content    []byte    `json:"content,omitempty"`
	OldPath    string    `json:"old_path,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
}

// NewOperation creates a queued operation for a path.
func NewOperation(path string, kind OpKind, content []byte, oldPath string) *Operation {
	return &Operation{
		ID:       ulid.OperationID(),
		Path:     path,
		Kind:     kind,
		Content:  content,
		OldPath:  oldPath,
		QueuedAt: time.Now(),
		Status:   StatusQueued,
	}
}
