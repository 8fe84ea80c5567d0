// Package engine implements per-file synchronization: uploads with hash
// short-circuiting, downloads that preserve remote timestamps, idempotent
// deletes, and the change-detection primitives the vault-wide orchestration
// builds on.
package engine

import (
	"fmt"
)

// Action identifies what a sync operation did to a path.
type Action string

const (
	ActionUploaded   Action = "uploaded"
	ActionDownloaded Action = "downloaded"
	ActionDeleted    Action = "deleted"
	ActionSkipped    Action = "skipped"
)

// Result is the structured outcome of a single sync operation. Failed
// operations carry Err and a human-readable Message instead of panicking or
// losing the path context.
type Result struct {
	Path    string `json:"path"`
	Action  Action `json:"action"`
	Skipped bool   `json:"skipped"`
	Hash    string `json:"hash,omitempty"`
	Bytes   int64  `json:"bytes"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

// PathConflictError reports that the local filesystem shape prevents an
// operation, typically a regular file occupying a name a download needs as a
// directory. It is fatal and never retried.
type PathConflictError struct {
	Path     string
	Blocking string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("path conflict: %q is blocked by existing file %q", e.Path, e.Blocking)
}
