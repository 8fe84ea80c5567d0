// Package state provides the durable sync state store: one record per
// tracked vault path holding the hash and timestamp both sides last agreed
// on.
package state

import (
	"time"
)

// SyncRecord is the per-path record of the last synchronized content. Its
// hash equals the hash of the last content this process wrote to both the
// local and the remote store; any divergence discovered later is, by
// definition, a conflict.
type SyncRecord struct {
	Path           string    `json:"path"`
	LastSyncedHash string    `json:"last_synced_hash"`
	LastSyncedAt   time.Time `json:"last_synced_at"`
	ReadOnly       bool      `json:"read_only"`
	LocallyDeleted bool      `json:"locally_deleted"`
}

// NewSyncRecord creates a record for a freshly synchronized path.
func NewSyncRecord(path, hash string) *SyncRecord {
	return &SyncRecord{
		Path:           path,
		LastSyncedHash: hash,
		LastSyncedAt:   time.Now(),
	}
}
