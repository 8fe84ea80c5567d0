package conflict

import (
	"context"
	"sort"
	"sync"
)

// MemRepository is an in-memory Repository used in tests.
type MemRepository struct {
	mu      sync.RWMutex
	records map[string]*Record // keyed by id
}

// NewMemRepository creates an empty in-memory repository.
func NewMemRepository() *MemRepository {
	return &MemRepository{records: make(map[string]*Record)}
}

func (m *MemRepository) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if record, ok := m.records[id]; ok {
		out := *record
		return &out, nil
	}
	return nil, nil
}

func (m *MemRepository) GetByPath(ctx context.Context, path string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, record := range m.records {
		if record.Path == path {
			out := *record
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemRepository) Upsert(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.records {
		if existing.Path == record.Path {
			updated := *record
			updated.ID = existing.ID
			m.records[id] = &updated
			return nil
		}
	}
	stored := *record
	m.records[record.ID] = &stored
	return nil
}

func (m *MemRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemRepository) List(ctx context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		out := *record
		records = append(records, &out)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].DetectedAt.Before(records[j].DetectedAt)
	})
	return records, nil
}
