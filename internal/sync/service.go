package sync

import (
	"context"
	"fmt"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/conflict"
	"github.com/tildaslashalef/vaultsync/internal/engine"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/queue"
	"github.com/tildaslashalef/vaultsync/internal/realtime"
	"github.com/tildaslashalef/vaultsync/internal/remote"
	"github.com/tildaslashalef/vaultsync/internal/state"
	"github.com/tildaslashalef/vaultsync/internal/ulid"
	"github.com/tildaslashalef/vaultsync/internal/vault"
)

// Store is the remote store surface the orchestrator consumes.
type Store interface {
	ListFiles(ctx context.Context, vaultID string) ([]remote.FileRecord, error)
	GetFile(ctx context.Context, vaultID, path string) (*remote.FileContent, error)
}

// Engine is the per-file transfer surface. Implemented by engine.Service.
type Engine interface {
	Upload(ctx context.Context, path string, forceCreate bool) (*engine.Result, error)
	Download(ctx context.Context, path string) (*engine.Result, error)
	Delete(ctx context.Context, path string) (*engine.Result, error)
	HasLocalChanges(ctx context.Context, path string) (bool, error)
	HasRemoteChanges(ctx context.Context, path, remoteHash string) (bool, error)
}

// Conflicts is the conflict engine surface. Implemented by conflict.Service.
type Conflicts interface {
	Detect(ctx context.Context, path string, remoteFile *remote.FileContent) (*conflict.Record, error)
	List(ctx context.Context) ([]*conflict.Record, error)
}

// Replayer is the offline queue surface. Implemented by queue.Service.
type Replayer interface {
	Replay(ctx context.Context) ([]*queue.Operation, error)
	PendingCount(ctx context.Context) (int, error)
}

// Connection reports realtime connectivity for status output.
type Connection interface {
	State() realtime.State
}

// Service runs vault-wide synchronization ticks.
type Service struct {
	vaultID   string
	files     vault.FS
	records   state.Repository
	engine    Engine
	conflicts Conflicts
	queue     Replayer
	store     Store
	conn      Connection
	logger    *loggy.Logger
}

// NewService creates the sync orchestrator. conn may be nil when running
// without a realtime connection.
func NewService(vaultCfg config.VaultConfig, store Store, eng Engine, conflicts Conflicts, replayer Replayer, files vault.FS, records state.Repository, conn Connection, logger *loggy.Logger) *Service {
	return &Service{
		vaultID:   vaultCfg.ID,
		files:     files,
		records:   records,
		engine:    eng,
		conflicts: conflicts,
		queue:     replayer,
		store:     store,
		conn:      conn,
		logger:    logger,
	}
}

// Tick runs one full synchronization pass. Every path present on either side
// gets a direction decision from hash comparison; divergence on both sides
// goes to the conflict engine instead of being overwritten. With dryRun set,
// decisions are collected but nothing is transferred.
func (s *Service) Tick(ctx context.Context, dryRun bool) (*Summary, error) {
	summary := &Summary{SyncID: ulid.SyncID(), DryRun: dryRun}

	remoteFiles, err := s.store.ListFiles(ctx, s.vaultID)
	if err != nil {
		return nil, fmt.Errorf("listing remote files: %w", err)
	}
	remoteByPath := make(map[string]remote.FileRecord, len(remoteFiles))
	for _, rf := range remoteFiles {
		remoteByPath[rf.Path] = rf
	}

	localFiles, err := s.files.List()
	if err != nil {
		return nil, fmt.Errorf("listing local files: %w", err)
	}
	localPaths := make(map[string]bool, len(localFiles))

	s.logger.Info("Sync tick started", "sync_id", summary.SyncID,
		"local", len(localFiles), "remote", len(remoteFiles), "dry_run", dryRun)

	for _, lf := range localFiles {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		localPaths[lf.Path] = true

		rf, onRemote := remoteByPath[lf.Path]
		if !onRemote {
			s.syncLocalOnly(ctx, lf.Path, summary)
			continue
		}
		s.syncBothSides(ctx, lf.Path, rf, summary)
	}

	for _, rf := range remoteFiles {
		if localPaths[rf.Path] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		s.syncRemoteOnly(ctx, rf.Path, summary)
	}

	s.logger.Info("Sync tick finished", "sync_id", summary.SyncID,
		"uploaded", summary.Uploaded, "downloaded", summary.Downloaded,
		"deleted", summary.Deleted, "conflicts", summary.Conflicts,
		"skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

// syncLocalOnly handles a path that exists locally but not remotely: a new
// local file is uploaded unless its record says we deleted it everywhere.
func (s *Service) syncLocalOnly(ctx context.Context, path string, summary *Summary) {
	record, err := s.records.Get(ctx, path)
	if err != nil {
		s.fail(summary, path, err)
		return
	}
	if record != nil && record.LocallyDeleted {
		// Deleted on both sides; the lingering local copy is stale.
		summary.Skipped++
		return
	}

	if summary.DryRun {
		summary.Uploaded++
		summary.Planned = append(summary.Planned, "upload "+path)
		return
	}
	if _, err := s.engine.Upload(ctx, path, false); err != nil {
		s.fail(summary, path, err)
		return
	}
	summary.Uploaded++
}

// syncBothSides handles a path present on both sides.
func (s *Service) syncBothSides(ctx context.Context, path string, rf remote.FileRecord, summary *Summary) {
	localChanged, err := s.engine.HasLocalChanges(ctx, path)
	if err != nil {
		s.fail(summary, path, err)
		return
	}
	remoteChanged, err := s.engine.HasRemoteChanges(ctx, path, rf.Hash)
	if err != nil {
		s.fail(summary, path, err)
		return
	}

	switch {
	case localChanged && remoteChanged:
		if summary.DryRun {
			summary.Conflicts++
			summary.Planned = append(summary.Planned, "conflict "+path)
			return
		}
		file, err := s.store.GetFile(ctx, s.vaultID, path)
		if err != nil {
			s.fail(summary, path, err)
			return
		}
		record, err := s.conflicts.Detect(ctx, path, file)
		if err != nil {
			s.fail(summary, path, err)
			return
		}
		if record != nil {
			summary.Conflicts++
		} else {
			// Both sides arrived at the same content independently.
			summary.Skipped++
		}

	case localChanged:
		if summary.DryRun {
			summary.Uploaded++
			summary.Planned = append(summary.Planned, "upload "+path)
			return
		}
		if _, err := s.engine.Upload(ctx, path, false); err != nil {
			s.fail(summary, path, err)
			return
		}
		summary.Uploaded++

	case remoteChanged:
		if summary.DryRun {
			summary.Downloaded++
			summary.Planned = append(summary.Planned, "download "+path)
			return
		}
		if _, err := s.engine.Download(ctx, path); err != nil {
			s.fail(summary, path, err)
			return
		}
		summary.Downloaded++

	default:
		summary.Skipped++
	}
}

// syncRemoteOnly handles a path that exists remotely but not locally: new
// remote files come down; a tracked file we deleted locally either
// propagates the deletion or surfaces a deletion conflict.
func (s *Service) syncRemoteOnly(ctx context.Context, path string, summary *Summary) {
	record, err := s.records.Get(ctx, path)
	if err != nil {
		s.fail(summary, path, err)
		return
	}

	if record == nil || record.LastSyncedHash == "" && !record.LocallyDeleted {
		if summary.DryRun {
			summary.Downloaded++
			summary.Planned = append(summary.Planned, "download "+path)
			return
		}
		if _, err := s.engine.Download(ctx, path); err != nil {
			s.fail(summary, path, err)
			return
		}
		summary.Downloaded++
		return
	}

	if summary.DryRun {
		summary.Deleted++
		summary.Planned = append(summary.Planned, "delete "+path)
		return
	}

	file, err := s.store.GetFile(ctx, s.vaultID, path)
	if err != nil {
		s.fail(summary, path, err)
		return
	}
	conflictRecord, err := s.conflicts.Detect(ctx, path, file)
	if err != nil {
		s.fail(summary, path, err)
		return
	}
	if conflictRecord != nil {
		summary.Conflicts++
		return
	}

	// Remote unchanged since last sync: the local deletion wins.
	if _, err := s.engine.Delete(ctx, path); err != nil {
		s.fail(summary, path, err)
		return
	}
	summary.Deleted++
}

func (s *Service) fail(summary *Summary, path string, err error) {
	summary.Failed++
	s.logger.Warn("Sync step failed", "path", path, "error", err)
}

// HandleConnected replays the offline queue. Wired to the connection
// manager's connected hook.
func (s *Service) HandleConnected(ctx context.Context) {
	processed, err := s.queue.Replay(ctx)
	if err != nil {
		s.logger.Error("Queue replay after reconnect failed", "error", err)
		return
	}
	if len(processed) > 0 {
		s.logger.Info("Replayed offline queue", "operations", len(processed))
	}
}

// Status summarizes the sync session for reporting.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	records, err := s.records.List(ctx)
	if err != nil {
		return nil, err
	}
	tracked := 0
	for _, record := range records {
		if record.LastSyncedHash != "" {
			tracked++
		}
	}

	open, err := s.conflicts.List(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.queue.PendingCount(ctx)
	if err != nil {
		return nil, err
	}

	connection := "offline"
	if s.conn != nil {
		connection = s.conn.State().String()
	}
	return &Status{
		Connection:    connection,
		TrackedFiles:  tracked,
		OpenConflicts: len(open),
		PendingOps:    pending,
	}, nil
}

// OnFileChanged reacts to a remote change notification: unchanged local
// copies are refreshed immediately, divergence goes to the conflict engine.
func (s *Service) OnFileChanged(event realtime.FileChanged) {
	ctx := context.Background()

	changed, err := s.engine.HasRemoteChanges(ctx, event.Path, event.Hash)
	if err != nil || !changed {
		return
	}

	localChanged, err := s.engine.HasLocalChanges(ctx, event.Path)
	if err != nil {
		s.logger.Warn("Remote change handling failed", "path", event.Path, "error", err)
		return
	}

	if localChanged {
		file, err := s.store.GetFile(ctx, s.vaultID, event.Path)
		if err != nil {
			s.logger.Warn("Fetching changed remote file failed", "path", event.Path, "error", err)
			return
		}
		if _, err := s.conflicts.Detect(ctx, event.Path, file); err != nil {
			s.logger.Warn("Conflict detection failed", "path", event.Path, "error", err)
		}
		return
	}

	if _, err := s.engine.Download(ctx, event.Path); err != nil {
		s.logger.Warn("Applying remote change failed", "path", event.Path, "error", err)
	}
}

// OnConflictRaised logs conflicts reported by the server or other devices;
// the next tick picks them up.
func (s *Service) OnConflictRaised(event realtime.ConflictRaised) {
	s.logger.Info("Conflict raised remotely", "path", event.Path, "kind", event.Kind)
}

// OnPresenceChanged logs collaborator presence.
func (s *Service) OnPresenceChanged(event realtime.PresenceChanged) {
	s.logger.Debug("Presence changed", "user", event.UserID, "online", event.Online)
}
