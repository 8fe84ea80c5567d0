package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/remote"
	"github.com/tildaslashalef/vaultsync/internal/retry"
)

// ErrPaused is returned when an upload stops at a wave boundary because the
// service was paused. The session stays persisted for resume.
var ErrPaused = errors.New("upload paused")

// ChunkStore is the remote chunk endpoint. Implemented by remote.Client.
type ChunkStore interface {
	UploadChunk(ctx context.Context, vaultID string, req remote.ChunkUploadRequest) (*remote.ChunkAck, error)
}

// Service uploads large payloads in resumable chunks.
type Service struct {
	vaultID  string
	cfg      config.UploadConfig
	store    ChunkStore
	sessions Repository
	breaker  *retry.Breaker
	limiter  *rate.Limiter
	logger   *loggy.Logger

	paused atomic.Bool

	mu       sync.Mutex
	trackers map[string]*tracker
}

// NewService creates a chunked upload manager for one vault. The breaker is
// shared with other remote traffic so a systemic outage pauses all chunk
// waves, not just one upload.
func NewService(vaultCfg config.VaultConfig, uploadCfg config.UploadConfig, store ChunkStore, sessions Repository, breaker *retry.Breaker, logger *loggy.Logger) *Service {
	var limiter *rate.Limiter
	if uploadCfg.BandwidthLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(uploadCfg.BandwidthLimit), int(uploadCfg.ChunkSize))
	}

	return &Service{
		vaultID:  vaultCfg.ID,
		cfg:      uploadCfg,
		store:    store,
		sessions: sessions,
		breaker:  breaker,
		limiter:  limiter,
		logger:   logger,
		trackers: make(map[string]*tracker),
	}
}

// Upload transfers content in chunks, resuming any persisted session for the
// same path and size. Only missing chunk indices are sent. On failure the
// session stays persisted so a later call picks up where this one stopped.
func (s *Service) Upload(ctx context.Context, filePath string, content []byte) (*remote.FileRecord, error) {
	session, err := s.resumeOrCreate(ctx, filePath, int64(len(content)))
	if err != nil {
		return nil, err
	}

	missing := session.Missing()
	if len(missing) > 0 {
		s.logger.Info("Starting chunked upload",
			"path", filePath, "chunks", session.ChunkCount, "missing", len(missing))
	}

	progress := s.trackerFor(filePath)
	var finalRecord *remote.FileRecord

	for start := 0; start < len(missing); start += s.cfg.Concurrency {
		if s.paused.Load() {
			return nil, ErrPaused
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + s.cfg.Concurrency
		if end > len(missing) {
			end = len(missing)
		}
		wave := missing[start:end]

		var wg sync.WaitGroup
		var waveMu sync.Mutex
		var waveErr error

		for _, index := range wave {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()

				ack, sent, err := s.uploadChunk(ctx, session, content, index)

				waveMu.Lock()
				defer waveMu.Unlock()
				if err != nil {
					if waveErr == nil {
						waveErr = fmt.Errorf("chunk %d: %w", index, err)
					}
					return
				}
				session.MarkUploaded(index)
				if saveErr := s.sessions.Save(ctx, session); saveErr != nil && waveErr == nil {
					waveErr = saveErr
					return
				}
				progress.Add(sent)
				if ack.Complete && ack.File != nil {
					finalRecord = ack.File
				}
			}(index)
		}
		wg.Wait()

		if waveErr != nil {
			return nil, waveErr
		}
	}

	if err := s.sessions.Delete(ctx, session.UploadID); err != nil {
		return nil, fmt.Errorf("removing finished session: %w", err)
	}
	s.dropTracker(filePath)

	if finalRecord == nil {
		finalRecord = &remote.FileRecord{Path: filePath, Size: session.TotalSize}
	}
	s.logger.Info("Chunked upload finished", "path", filePath, "bytes", session.TotalSize)
	return finalRecord, nil
}

// uploadChunk sends one chunk through the shared breaker, compressing
// text-like payloads when it saves enough. Returns the uncompressed byte
// count that the chunk covers.
func (s *Service) uploadChunk(ctx context.Context, session *Session, content []byte, index int) (*remote.ChunkAck, int64, error) {
	if err := s.breaker.Allow(); err != nil {
		return nil, 0, err
	}

	start := int64(index) * session.ChunkSize
	end := start + session.ChunkSize
	if end > session.TotalSize {
		end = session.TotalSize
	}
	data := content[start:end]

	payload := data
	compressed := false
	if isTextLike(session.Path) {
		payload, compressed = compressChunk(data, s.cfg.MinCompression)
	}

	if s.limiter != nil {
		if err := s.limiter.WaitN(ctx, len(payload)); err != nil {
			return nil, 0, err
		}
	}

	ack, err := s.store.UploadChunk(ctx, s.vaultID, remote.ChunkUploadRequest{
		Filename:   path.Base(session.Path),
		Path:       session.Path,
		ChunkIndex: index,
		ChunkTotal: session.ChunkCount,
		Data:       payload,
		Overwrite:  true,
		Compressed: compressed,
	})
	if err != nil {
		s.breaker.RecordFailure()
		return nil, 0, err
	}
	s.breaker.RecordSuccess()
	return ack, int64(len(data)), nil
}

// resumeOrCreate returns the persisted session for path when its geometry
// still matches the payload, otherwise starts a fresh one.
func (s *Service) resumeOrCreate(ctx context.Context, filePath string, totalSize int64) (*Session, error) {
	existing, err := s.sessions.GetByPath(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.TotalSize == totalSize && existing.ChunkSize == s.cfg.ChunkSize {
			s.logger.Info("Resuming upload session",
				"path", filePath, "id", existing.UploadID, "uploaded", len(existing.UploadedChunks))
			return existing, nil
		}
		// Content changed since the session was cut; its chunks are useless.
		if err := s.sessions.Delete(ctx, existing.UploadID); err != nil {
			return nil, err
		}
	}

	session := NewSession(filePath, totalSize, s.cfg.ChunkSize)
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("persisting new session: %w", err)
	}
	return session, nil
}

// Progress returns the current progress for a path, nil when no session is
// active.
func (s *Service) Progress(ctx context.Context, filePath string) (*Progress, error) {
	session, err := s.sessions.GetByPath(ctx, filePath)
	if err != nil || session == nil {
		return nil, err
	}

	uploaded := session.UploadedBytes()
	transferRate := s.trackerFor(filePath).Rate()
	return &Progress{
		Path:          filePath,
		UploadedBytes: uploaded,
		TotalBytes:    session.TotalSize,
		BytesPerSec:   transferRate,
		Remaining:     estimate(session.TotalSize-uploaded, transferRate),
	}, nil
}

// Pause stops chunk waves at the next boundary. In-flight chunks finish.
func (s *Service) Pause() { s.paused.Store(true) }

// Resume lifts a pause; the caller re-invokes Upload to continue.
func (s *Service) Resume() { s.paused.Store(false) }

// IsPaused reports the pause flag.
func (s *Service) IsPaused() bool { return s.paused.Load() }

// Cancel discards the persisted session for a path.
func (s *Service) Cancel(ctx context.Context, filePath string) error {
	session, err := s.sessions.GetByPath(ctx, filePath)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, session.UploadID); err != nil {
		return err
	}
	s.dropTracker(filePath)
	s.logger.Info("Upload canceled", "path", filePath, "id", session.UploadID)
	return nil
}

// GC removes sessions that are complete or older than the configured maximum
// age, returning the number removed.
func (s *Service) GC(ctx context.Context) (int, error) {
	removed, err := s.sessions.DeleteStartedBefore(ctx, time.Now().Add(-s.cfg.SessionMaxAge))
	if err != nil {
		return 0, err
	}

	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return removed, err
	}
	for _, session := range sessions {
		if !session.IsComplete() {
			continue
		}
		if err := s.sessions.Delete(ctx, session.UploadID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Cleaned up upload sessions", "removed", removed)
	}
	return removed, nil
}

// List returns all persisted sessions.
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	return s.sessions.List(ctx)
}

func (s *Service) trackerFor(filePath string) *tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trackers[filePath]; ok {
		return t
	}
	t := newTracker(s.cfg.ProgressWindow)
	s.trackers[filePath] = t
	return t
}

func (s *Service) dropTracker(filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trackers, filePath)
}
