package conflict

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/engine"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/remote"
	"github.com/tildaslashalef/vaultsync/internal/state"
	"github.com/tildaslashalef/vaultsync/internal/vault"
)

// ErrNotFound is returned when a conflict record id does not exist.
var ErrNotFound = errors.New("conflict record not found")

// Store is the remote store surface conflict detection consumes.
type Store interface {
	ListFiles(ctx context.Context, vaultID string) ([]remote.FileRecord, error)
	GetFile(ctx context.Context, vaultID, path string) (*remote.FileContent, error)
}

// Engine is the per-file transfer surface resolution runs on. Implemented by
// engine.Service.
type Engine interface {
	Upload(ctx context.Context, path string, forceCreate bool) (*engine.Result, error)
	Download(ctx context.Context, path string) (*engine.Result, error)
	Delete(ctx context.Context, path string) (*engine.Result, error)
}

// Service detects conflicts and applies resolution strategies.
type Service struct {
	vaultID       string
	readOnly      bool
	skewTolerance time.Duration
	store         Store
	engine        Engine
	files         vault.FS
	records       state.Repository
	conflicts     Repository
	logger        *loggy.Logger

	now func() time.Time
}

// NewService creates a conflict engine for one vault.
func NewService(vaultCfg config.VaultConfig, syncCfg config.SyncConfig, store Store, eng Engine, files vault.FS, records state.Repository, conflicts Repository, logger *loggy.Logger) *Service {
	return &Service{
		vaultID:       vaultCfg.ID,
		readOnly:      vaultCfg.ReadOnly,
		skewTolerance: syncCfg.SkewTolerance,
		store:         store,
		engine:        eng,
		files:         files,
		records:       records,
		conflicts:     conflicts,
		logger:        logger,
		now:           time.Now,
	}
}

// Detect runs conflict detection for one path against the given remote
// version. A detected conflict is persisted (replacing any open record for the
// same path) and returned; nil means the path is conflict-free.
func (s *Service) Detect(ctx context.Context, filePath string, remoteFile *remote.FileContent) (*Record, error) {
	record, err := s.records.Get(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("loading sync record: %w", err)
	}

	localContent, err := s.files.Read(filePath)
	if errors.Is(err, vault.ErrNotExist) {
		return s.detectDeletion(ctx, filePath, record, remoteFile)
	}
	if err != nil {
		return nil, fmt.Errorf("reading local file: %w", err)
	}

	localHash := vault.Hash(localContent)
	if localHash == remoteFile.Hash {
		return nil, nil
	}

	neverSynced := record == nil || record.LastSyncedHash == ""
	if !neverSynced {
		localChanged := localHash != record.LastSyncedHash
		remoteChanged := remoteFile.Hash != record.LastSyncedHash
		if !localChanged || !remoteChanged {
			// Only one side moved: the sync engine handles it, no conflict.
			return nil, nil
		}
	}

	conflict := NewRecord(filePath, KindContent)
	conflict.LocalContent = localContent
	conflict.RemoteContent = remoteFile.Content
	conflict.RemoteModifiedAt = remoteFile.UpdatedAt
	if info, statErr := s.files.Stat(filePath); statErr == nil {
		conflict.LocalModifiedAt = info.ModTime
	}

	if err := s.conflicts.Upsert(ctx, conflict); err != nil {
		return nil, fmt.Errorf("persisting conflict record: %w", err)
	}
	stored, err := s.conflicts.GetByPath(ctx, filePath)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Content conflict detected", "path", filePath, "id", stored.ID)
	return stored, nil
}

// detectDeletion flags a tracked file that is absent locally while the remote
// copy changed after the last sync. The comparison subtracts a tolerance
// window because the local and remote timestamps come from different clocks.
func (s *Service) detectDeletion(ctx context.Context, filePath string, record *state.SyncRecord, remoteFile *remote.FileContent) (*Record, error) {
	if record == nil || record.LastSyncedHash == "" || remoteFile == nil {
		return nil, nil
	}
	if !remoteFile.UpdatedAt.After(record.LastSyncedAt.Add(-s.skewTolerance)) {
		return nil, nil
	}

	conflict := NewRecord(filePath, KindDeletion)
	conflict.RemoteContent = remoteFile.Content
	conflict.RemoteModifiedAt = remoteFile.UpdatedAt

	if err := s.conflicts.Upsert(ctx, conflict); err != nil {
		return nil, fmt.Errorf("persisting conflict record: %w", err)
	}
	stored, err := s.conflicts.GetByPath(ctx, filePath)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deletion conflict detected", "path", filePath, "id", stored.ID)
	return stored, nil
}

// DetectAll runs detection across every file the remote store reports,
// returning the open conflict records it found or refreshed.
func (s *Service) DetectAll(ctx context.Context) ([]*Record, error) {
	remoteFiles, err := s.store.ListFiles(ctx, s.vaultID)
	if err != nil {
		return nil, fmt.Errorf("listing remote files: %w", err)
	}

	var found []*Record
	for _, rf := range remoteFiles {
		file, err := s.store.GetFile(ctx, s.vaultID, rf.Path)
		if err != nil {
			s.logger.Warn("Skipping path during conflict scan", "path", rf.Path, "error", err)
			continue
		}
		record, err := s.Detect(ctx, rf.Path, file)
		if err != nil {
			return nil, err
		}
		if record != nil {
			found = append(found, record)
		}
	}
	return found, nil
}

// Get returns the conflict record with the given id, nil if absent.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.conflicts.Get(ctx, id)
}

// List returns all open conflict records.
func (s *Service) List(ctx context.Context) ([]*Record, error) {
	return s.conflicts.List(ctx)
}

// Resolve applies one strategy to a conflict record. The record is removed
// only after every write succeeds; on failure it stays untouched and the
// error propagates. A read-only vault coerces every request to KeepRemote.
func (s *Service) Resolve(ctx context.Context, id string, strategy Strategy, mergedContent []byte) error {
	record, err := s.conflicts.Get(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrNotFound
	}

	if s.readOnly && strategy != KeepRemote {
		s.logger.Info("Read-only vault, coercing resolution to keep-remote",
			"path", record.Path, "requested", string(strategy))
		strategy = KeepRemote
	}

	switch strategy {
	case KeepLocal:
		err = s.resolveKeepLocal(ctx, record)
	case KeepRemote:
		err = s.resolveKeepRemote(ctx, record)
	case KeepBoth:
		err = s.resolveKeepBoth(ctx, record)
	case MergeManual:
		err = s.resolveMergeManual(ctx, record, mergedContent)
	default:
		return fmt.Errorf("unknown resolution strategy %q", strategy)
	}
	if err != nil {
		return err
	}

	if err := s.conflicts.Delete(ctx, record.ID); err != nil {
		return fmt.Errorf("removing resolved conflict record: %w", err)
	}
	s.logger.Info("Conflict resolved", "path", record.Path, "strategy", string(strategy))
	return nil
}

func (s *Service) resolveKeepLocal(ctx context.Context, record *Record) error {
	if record.Kind == KindDeletion {
		// The local decision was to delete; make the remote follow.
		_, err := s.engine.Delete(ctx, record.Path)
		return err
	}
	_, err := s.engine.Upload(ctx, record.Path, false)
	return err
}

func (s *Service) resolveKeepRemote(ctx context.Context, record *Record) error {
	_, err := s.engine.Download(ctx, record.Path)
	return err
}

func (s *Service) resolveKeepBoth(ctx context.Context, record *Record) error {
	// The original path stays future-consistent with the remote version. The
	// sibling is written only after the download succeeds, so a failed
	// resolution leaves no stray copy behind.
	if _, err := s.engine.Download(ctx, record.Path); err != nil {
		return err
	}
	if len(record.LocalContent) > 0 {
		sibling := siblingPath(record.Path, s.now())
		if err := s.files.Write(sibling, record.LocalContent, time.Time{}); err != nil {
			return fmt.Errorf("writing conflict sibling: %w", err)
		}
	}
	return nil
}

func (s *Service) resolveMergeManual(ctx context.Context, record *Record, content []byte) error {
	if content == nil {
		return ErrMergeContentRequired
	}
	if err := s.files.Write(record.Path, content, time.Time{}); err != nil {
		return fmt.Errorf("writing merged content: %w", err)
	}
	_, err := s.engine.Upload(ctx, record.Path, false)
	return err
}

// siblingPath derives the timestamped path the local version is kept under,
// e.g. notes/a.md becomes notes/a.conflict-1767267600000.md.
func siblingPath(filePath string, ts time.Time) string {
	ext := path.Ext(filePath)
	base := strings.TrimSuffix(filePath, ext)
	return fmt.Sprintf("%s.conflict-%d%s", base, ts.UnixMilli(), ext)
}
