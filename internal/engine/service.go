package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/remote"
	"github.com/tildaslashalef/vaultsync/internal/state"
	"github.com/tildaslashalef/vaultsync/internal/vault"
)

// Store is the remote file store surface the engine consumes. Implemented by
// remote.Client.
type Store interface {
	GetFile(ctx context.Context, vaultID, path string) (*remote.FileContent, error)
	CreateFile(ctx context.Context, vaultID, path string, content []byte) (*remote.FileRecord, error)
	UpdateFile(ctx context.Context, vaultID, fileID string, content []byte) (*remote.FileRecord, error)
	DeleteFile(ctx context.Context, vaultID, fileID string) error
	FileExists(ctx context.Context, vaultID, path string) (*remote.ExistsResponse, error)
}

// ChunkUploader transfers a large payload in resumable chunks. Implemented by
// upload.Service.
type ChunkUploader interface {
	Upload(ctx context.Context, path string, content []byte) (*remote.FileRecord, error)
}

// Service orchestrates per-file transfers between the local vault and the
// remote store.
type Service struct {
	vaultID        string
	store          Store
	uploader       ChunkUploader
	files          vault.FS
	records        state.Repository
	chunkThreshold int64
	logger         *loggy.Logger
}

// NewService creates a file sync engine for one vault.
func NewService(cfg config.VaultConfig, syncCfg config.SyncConfig, store Store, uploader ChunkUploader, files vault.FS, records state.Repository, logger *loggy.Logger) *Service {
	return &Service{
		vaultID:        cfg.ID,
		store:          store,
		uploader:       uploader,
		files:          files,
		records:        records,
		chunkThreshold: syncCfg.ChunkThreshold,
		logger:         logger,
	}
}

// Upload pushes the local content of path to the remote store. When the
// content hash matches the last synced hash the call is a skipped success and
// no network request is made. Payloads at or above the chunk threshold go
// through the chunked uploader.
func (s *Service) Upload(ctx context.Context, path string, forceCreate bool) (*Result, error) {
	content, err := s.files.Read(path)
	if err != nil {
		return s.failed(path, ActionUploaded, err, "reading local file")
	}
	hash := vault.Hash(content)

	record, err := s.records.Get(ctx, path)
	if err != nil {
		return s.failed(path, ActionUploaded, err, "loading sync record")
	}
	if record != nil && record.LastSyncedHash == hash && !forceCreate {
		s.logger.Debug("Upload skipped, content unchanged", "path", path, "hash", hash)
		return &Result{Path: path, Action: ActionSkipped, Skipped: true, Hash: hash}, nil
	}

	if int64(len(content)) >= s.chunkThreshold {
		if _, err := s.uploader.Upload(ctx, path, content); err != nil {
			return s.failed(path, ActionUploaded, err, "chunked upload")
		}
	} else if err := s.transferWhole(ctx, path, content, forceCreate); err != nil {
		return s.failed(path, ActionUploaded, err, "uploading file")
	}

	if err := s.commit(ctx, path, hash, record); err != nil {
		return s.failed(path, ActionUploaded, err, "committing sync record")
	}

	s.logger.Debug("Uploaded file", "path", path, "bytes", len(content))
	return &Result{Path: path, Action: ActionUploaded, Hash: hash, Bytes: int64(len(content))}, nil
}

// transferWhole sends content in one request, choosing create or update by an
// existence probe unless forceCreate bypasses it.
func (s *Service) transferWhole(ctx context.Context, path string, content []byte, forceCreate bool) error {
	if forceCreate {
		_, err := s.store.CreateFile(ctx, s.vaultID, path, content)
		return err
	}

	resp, err := s.store.FileExists(ctx, s.vaultID, path)
	if err != nil {
		return err
	}
	if resp.Exists && resp.File != nil {
		_, err = s.store.UpdateFile(ctx, s.vaultID, resp.File.ID, content)
		return err
	}
	_, err = s.store.CreateFile(ctx, s.vaultID, path, content)
	return err
}

// Download fetches the remote content of path and writes it locally with the
// remote's modification time, so the file is not immediately re-flagged as
// changed. A regular file occupying a needed parent directory name is a fatal
// PathConflictError.
func (s *Service) Download(ctx context.Context, path string) (*Result, error) {
	file, err := s.store.GetFile(ctx, s.vaultID, path)
	if err != nil {
		return s.failed(path, ActionDownloaded, err, "fetching remote file")
	}

	if blocking, ok := s.blockedParent(path); ok {
		err := &PathConflictError{Path: path, Blocking: blocking}
		return s.failed(path, ActionDownloaded, err, "creating parent directories")
	}

	if err := s.files.Write(path, file.Content, file.UpdatedAt); err != nil {
		return s.failed(path, ActionDownloaded, err, "writing local file")
	}

	hash := vault.Hash(file.Content)
	record, err := s.records.Get(ctx, path)
	if err != nil {
		return s.failed(path, ActionDownloaded, err, "loading sync record")
	}
	if err := s.commit(ctx, path, hash, record); err != nil {
		return s.failed(path, ActionDownloaded, err, "committing sync record")
	}

	s.logger.Debug("Downloaded file", "path", path, "bytes", len(file.Content))
	return &Result{Path: path, Action: ActionDownloaded, Hash: hash, Bytes: int64(len(file.Content))}, nil
}

// Delete removes the remote copy of path. A missing remote file counts as
// success. The sync record's hash is cleared and the local-deletion flag set
// so a later listing does not resurrect the file.
func (s *Service) Delete(ctx context.Context, path string) (*Result, error) {
	resp, err := s.store.FileExists(ctx, s.vaultID, path)
	if err != nil {
		return s.failed(path, ActionDeleted, err, "probing remote file")
	}
	if resp.Exists && resp.File != nil {
		if err := s.store.DeleteFile(ctx, s.vaultID, resp.File.ID); err != nil && !remote.IsNotFound(err) {
			return s.failed(path, ActionDeleted, err, "deleting remote file")
		}
	}

	record, err := s.records.Get(ctx, path)
	if err != nil {
		return s.failed(path, ActionDeleted, err, "loading sync record")
	}
	tombstone := &state.SyncRecord{Path: path, LocallyDeleted: true}
	if record != nil {
		tombstone.ReadOnly = record.ReadOnly
	}
	if err := s.records.Upsert(ctx, tombstone); err != nil {
		return s.failed(path, ActionDeleted, err, "committing sync record")
	}

	s.logger.Debug("Deleted file", "path", path)
	return &Result{Path: path, Action: ActionDeleted}, nil
}

// HasLocalChanges reports whether the local content of path differs from the
// last synced hash. A path with no sync record counts as changed.
func (s *Service) HasLocalChanges(ctx context.Context, path string) (bool, error) {
	content, err := s.files.Read(path)
	if errors.Is(err, vault.ErrNotExist) {
		record, recErr := s.records.Get(ctx, path)
		if recErr != nil {
			return false, recErr
		}
		return record != nil && record.LastSyncedHash != "", nil
	}
	if err != nil {
		return false, fmt.Errorf("reading local file: %w", err)
	}

	record, err := s.records.Get(ctx, path)
	if err != nil {
		return false, err
	}
	if record == nil {
		return true, nil
	}
	return vault.Hash(content) != record.LastSyncedHash, nil
}

// HasRemoteChanges reports whether the remote hash for path differs from the
// last synced hash. A path with no sync record counts as changed.
func (s *Service) HasRemoteChanges(ctx context.Context, path, remoteHash string) (bool, error) {
	record, err := s.records.Get(ctx, path)
	if err != nil {
		return false, err
	}
	if record == nil {
		return true, nil
	}
	return remoteHash != record.LastSyncedHash, nil
}

// commit records a successful transfer, preserving the read-only flag and
// clearing any local-deletion flag for the path.
func (s *Service) commit(ctx context.Context, path, hash string, previous *state.SyncRecord) error {
	record := state.NewSyncRecord(path, hash)
	if previous != nil {
		record.ReadOnly = previous.ReadOnly
	}
	return s.records.Upsert(ctx, record)
}

// blockedParent walks the ancestor directories of path and reports the first
// one occupied by a regular file.
func (s *Service) blockedParent(path string) (string, bool) {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		dir := strings.Join(parts[:i], "/")
		info, err := s.files.Stat(dir)
		if errors.Is(err, vault.ErrNotExist) {
			return "", false
		}
		if err != nil {
			continue
		}
		if !info.IsDir {
			return dir, true
		}
	}
	return "", false
}

func (s *Service) failed(path string, action Action, err error, message string) (*Result, error) {
	s.logger.Warn("Sync operation failed", "path", path, "action", string(action), "error", err)
	return &Result{
		Path:    path,
		Action:  action,
		Message: fmt.Sprintf("%s: %v", message, err),
		Err:     err,
	}, fmt.Errorf("%s %s: %w", action, path, err)
}
