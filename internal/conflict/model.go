// Package conflict detects divergence between local and remote file versions
// and applies resolution strategies. A conflict is not a failure: it is a
// durable record awaiting an explicit decision.
package conflict

import (
	"errors"
	"time"

	"github.com/tildaslashalef/vaultsync/internal/ulid"
)

// ErrMergeContentRequired is returned when a manual-merge resolution is
// requested without the final content.
var ErrMergeContentRequired = errors.New("manual merge resolution requires final content")

// Kind classifies what diverged.
type Kind string

const (
	// KindContent means both sides changed the file since the last sync.
	KindContent Kind = "content"

	// KindDeletion means the file was deleted locally while the remote copy
	// changed after the last sync.
	KindDeletion Kind = "deletion"

	// KindRename means the file moved on one side while changing on the other.
	KindRename Kind = "rename"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	// KeepLocal pushes the local version to the remote store.
	KeepLocal Strategy = "keep_local"

	// KeepRemote overwrites the local file with the remote version.
	KeepRemote Strategy = "keep_remote"

	// KeepBoth keeps the remote version at the original path and materializes
	// the local version under a timestamped sibling path.
	KeepBoth Strategy = "keep_both"

	// MergeManual writes caller-supplied content to both sides.
	MergeManual Strategy = "merge_manual"
)

// Record is a durable conflict awaiting resolution. At most one open record
// exists per path.
type Record struct {
	ID               string    `json:"id"`
	Path             string    `json:"path"`
	Kind             Kind      `json:"kind"`
	LocalContent     []byte    `json:"local_content,omitempty"`
	RemoteContent    []byte    `json:"remote_content,omitempty"`
	LocalModifiedAt  time.Time `json:"local_modified_at"`
	RemoteModifiedAt time.Time `json:"remote_modified_at"`
	AutoResolvable   bool      `json:"auto_resolvable"`
	DetectedAt       time.Time `json:"detected_at"`
}

// NewRecord creates a conflict record for a path.
func NewRecord(path string, kind Kind) *Record {
	return &Record{
		ID:         ulid.ConflictID(),
		Path:       path,
		Kind:       kind,
		DetectedAt: time.Now(),
	}
}
