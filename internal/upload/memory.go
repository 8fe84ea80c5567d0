package upload

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemRepository is an in-memory Repository used in tests.
type MemRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemRepository creates an empty in-memory repository.
func NewMemRepository() *MemRepository {
	return &MemRepository{sessions: make(map[string]*Session)}
}

func (m *MemRepository) Get(ctx context.Context, uploadID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if session, ok := m.sessions[uploadID]; ok {
		return copySession(session), nil
	}
	return nil, nil
}

func (m *MemRepository) GetByPath(ctx context.Context, path string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Session
	for _, session := range m.sessions {
		if session.Path != path {
			continue
		}
		if latest == nil || session.StartedAt.After(latest.StartedAt) {
			latest = session
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copySession(latest), nil
}

func (m *MemRepository) Save(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.UploadID] = copySession(session)
	return nil
}

func (m *MemRepository) Delete(ctx context.Context, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, uploadID)
	return nil
}

func (m *MemRepository) List(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, copySession(session))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (m *MemRepository) DeleteStartedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, session := range m.sessions {
		if session.StartedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func copySession(s *Session) *Session {
	out := *s
	out.UploadedChunks = append([]int(nil), s.UploadedChunks...)
	return &out
}
