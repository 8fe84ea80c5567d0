// Package sync orchestrates vault-wide synchronization: each tick compares
// the local tree against the remote store, decides a direction per path,
// routes divergence to the conflict engine, and replays the offline queue
// when connectivity returns.
package sync

// Summary reports what one sync tick did, or would do in a dry run.
type Summary struct {
	SyncID     string   `json:"sync_id"`
	Uploaded   int      `json:"uploaded"`
	Downloaded int      `json:"downloaded"`
	Deleted    int      `json:"deleted"`
	Skipped    int      `json:"skipped"`
	Conflicts  int      `json:"conflicts"`
	Failed     int      `json:"failed"`
	DryRun     bool     `json:"dry_run"`
	Planned    []string `json:"planned,omitempty"`
}

// Status is a point-in-time view of the sync session for reporting.
type Status struct {
	Connection    string `json:"connection"`
	TrackedFiles  int    `json:"tracked_files"`
	OpenConflicts int    `json:"open_conflicts"`
	PendingOps    int    `json:"pending_ops"`
}
