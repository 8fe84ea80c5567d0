package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/conflict"
	"github.com/tildaslashalef/vaultsync/internal/engine"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/remote"
	"github.com/tildaslashalef/vaultsync/internal/vault"
)

// Store is the remote store surface the replay pre-check consumes.
type Store interface {
	GetFile(ctx context.Context, vaultID, path string) (*remote.FileContent, error)
}

// Applier executes a replayed operation against both sides. Implemented by
// engine.Service.
type Applier interface {
	Upload(ctx context.Context, path string, forceCreate bool) (*engine.Result, error)
	Delete(ctx context.Context, path string) (*engine.Result, error)
}

// Service is the durable offline queue.
type Service struct {
	vaultID   string
	capacity  int
	ops       Repository
	store     Store
	applier   Applier
	conflicts conflict.Repository
	files     vault.FS
	logger    *loggy.Logger
}

// NewService creates an offline queue for one vault.
func NewService(vaultCfg config.VaultConfig, queueCfg config.QueueConfig, ops Repository, store Store, applier Applier, conflicts conflict.Repository, files vault.FS, logger *loggy.Logger) *Service {
	return &Service{
		vaultID:   vaultCfg.ID,
		capacity:  queueCfg.Capacity,
		ops:       ops,
		store:     store,
		applier:   applier,
		conflicts: conflicts,
		files:     files,
		logger:    logger,
	}
}

// Enqueue records a local mutation for later replay. A pending operation for
// the same path is coalesced: the entry keeps its original queue time but
// takes the latest kind and payload. When the queue is full the oldest
// pending entry is evicted.
func (s *Service) Enqueue(ctx context.Context, path string, kind OpKind, content []byte, oldPath string) (*Operation, error) {
	existing, err := s.ops.GetQueuedByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.Kind = kind
		existing.Content = content
		existing.OldPath = oldPath
		if err := s.ops.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("coalescing queued operation: %w", err)
		}
		s.logger.Debug("Coalesced queued operation", "path", path, "kind", string(kind))
		return s.ops.Get(ctx, existing.ID)
	}

	if err := s.evictIfFull(ctx); err != nil {
		return nil, err
	}

	op := NewOperation(path, kind, content, oldPath)
	if err := s.ops.Insert(ctx, op); err != nil {
		return nil, fmt.Errorf("inserting queued operation: %w", err)
	}
	s.logger.Debug("Enqueued operation", "path", path, "kind", string(kind), "id", op.ID)
	return op, nil
}

func (s *Service) evictIfFull(ctx context.Context) error {
	count, err := s.ops.CountByStatus(ctx, StatusQueued)
	if err != nil {
		return err
	}
	if count < s.capacity {
		return nil
	}

	queued, err := s.ops.ListByStatus(ctx, StatusQueued)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		return nil
	}
	oldest := queued[0]
	s.logger.Warn("Queue at capacity, evicting oldest entry",
		"path", oldest.Path, "queued_at", oldest.QueuedAt)
	return s.ops.Delete(ctx, oldest.ID)
}

// Replay applies all pending operations in FIFO order by original queue time.
// Each entry is pre-checked against the remote store: if the remote copy
// changed after the entry was queued, the entry is marked Failed with a
// conflict annotation and a conflict record is created instead of blindly
// applying the stale mutation. Returns the operations with their final
// statuses.
func (s *Service) Replay(ctx context.Context) ([]*Operation, error) {
	queued, err := s.ops.ListByStatus(ctx, StatusQueued)
	if err != nil {
		return nil, err
	}

	var processed []*Operation
	for _, op := range queued {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		op.Status = StatusSyncing
		if err := s.ops.Update(ctx, op); err != nil {
			return processed, err
		}

		conflicted, err := s.preCheck(ctx, op)
		switch {
		case err != nil:
			s.fail(ctx, op, fmt.Sprintf("conflict pre-check: %v", err))
		case conflicted:
			s.fail(ctx, op, "conflict: remote changed after operation was queued")
		default:
			if applyErr := s.apply(ctx, op); applyErr != nil {
				s.fail(ctx, op, applyErr.Error())
			} else {
				op.Status = StatusSynced
				op.LastError = ""
				if err := s.ops.Update(ctx, op); err != nil {
					return processed, err
				}
			}
		}
		processed = append(processed, op)
	}

	s.logger.Info("Queue replay finished", "processed", len(processed))
	return processed, nil
}

// preCheck reports whether the remote copy moved after the operation was
// queued, recording a conflict when it did.
func (s *Service) preCheck(ctx context.Context, op *Operation) (bool, error) {
	file, err := s.store.GetFile(ctx, s.vaultID, op.Path)
	if remote.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !file.UpdatedAt.After(op.QueuedAt) {
		return false, nil
	}

	kind := conflict.KindContent
	if op.Kind == OpDelete {
		kind = conflict.KindDeletion
	}
	record := conflict.NewRecord(op.Path, kind)
	record.LocalContent = op.Content
	record.RemoteContent = file.Content
	record.RemoteModifiedAt = file.UpdatedAt
	record.LocalModifiedAt = op.QueuedAt

	if err := s.conflicts.Upsert(ctx, record); err != nil {
		return false, fmt.Errorf("recording replay conflict: %w", err)
	}
	return true, nil
}

func (s *Service) apply(ctx context.Context, op *Operation) error {
	switch op.Kind {
	case OpCreate, OpUpdate:
		if op.Content != nil {
			if err := s.files.Write(op.Path, op.Content, time.Time{}); err != nil {
				return fmt.Errorf("restoring queued content: %w", err)
			}
		}
		_, err := s.applier.Upload(ctx, op.Path, false)
		return err
	case OpDelete:
		_, err := s.applier.Delete(ctx, op.Path)
		return err
	case OpRename:
		if op.OldPath != "" {
			if _, err := s.applier.Delete(ctx, op.OldPath); err != nil {
				return err
			}
		}
		if op.Content != nil {
			if err := s.files.Write(op.Path, op.Content, time.Time{}); err != nil {
				return fmt.Errorf("restoring queued content: %w", err)
			}
		}
		_, err := s.applier.Upload(ctx, op.Path, false)
		return err
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func (s *Service) fail(ctx context.Context, op *Operation, reason string) {
	op.Status = StatusFailed
	op.LastError = reason
	op.RetryCount++
	if err := s.ops.Update(ctx, op); err != nil {
		s.logger.Error("Failed to persist operation failure", "id", op.ID, "error", err)
	}
	s.logger.Warn("Queued operation failed", "path", op.Path, "reason", reason)
}

// RetryFailed resets one failed operation back to Queued.
func (s *Service) RetryFailed(ctx context.Context, id string) error {
	op, err := s.ops.Get(ctx, id)
	if err != nil {
		return err
	}
	if op == nil {
		return fmt.Errorf("operation %s not found", id)
	}
	if op.Status != StatusFailed {
		return fmt.Errorf("operation %s is %s, not failed", id, op.Status)
	}

	pending, err := s.ops.GetQueuedByPath(ctx, op.Path)
	if err != nil {
		return err
	}
	if pending != nil {
		return fmt.Errorf("another operation is already queued for %s", op.Path)
	}

	op.Status = StatusQueued
	op.LastError = ""
	return s.ops.Update(ctx, op)
}

// RetryAllFailed resets every failed operation back to Queued, returning the
// number reset.
func (s *Service) RetryAllFailed(ctx context.Context) (int, error) {
	failed, err := s.ops.ListByStatus(ctx, StatusFailed)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, op := range failed {
		if err := s.RetryFailed(ctx, op.ID); err != nil {
			s.logger.Warn("Skipping failed operation during bulk retry", "id", op.ID, "error", err)
			continue
		}
		reset++
	}
	return reset, nil
}

// ClearSynced removes completed operations kept for feedback.
func (s *Service) ClearSynced(ctx context.Context) error {
	return s.ops.DeleteByStatus(ctx, StatusSynced)
}

// ClearFailed removes failed operations the user gave up on.
func (s *Service) ClearFailed(ctx context.Context) error {
	return s.ops.DeleteByStatus(ctx, StatusFailed)
}

// List returns all operations in FIFO order.
func (s *Service) List(ctx context.Context) ([]*Operation, error) {
	return s.ops.List(ctx)
}

// PendingCount returns the number of operations waiting for replay.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	return s.ops.CountByStatus(ctx, StatusQueued)
}
