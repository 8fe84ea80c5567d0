package state

import (
	"context"
	"sort"
	"sync"
)

// MemRepository is an in-memory Repository used in tests and dry runs.
type MemRepository struct {
	mu      sync.RWMutex
	records map[string]SyncRecord
}

// NewMemRepository creates an empty in-memory repository.
func NewMemRepository() *MemRepository {
	return &MemRepository{records: make(map[string]SyncRecord)}
}

func (m *MemRepository) Get(ctx context.Context, path string) (*SyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if record, ok := m.records[path]; ok {
		out := record
		return &out, nil
	}
	return nil, nil
}

func (m *MemRepository) Upsert(ctx context.Context, record *SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Path] = *record
	return nil
}

func (m *MemRepository) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, path)
	return nil
}

func (m *MemRepository) List(ctx context.Context) ([]*SyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]*SyncRecord, 0, len(m.records))
	for _, record := range m.records {
		out := record
		records = append(records, &out)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

func (m *MemRepository) SetReadOnly(ctx context.Context, path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[path]; ok {
		record.ReadOnly = readOnly
		m.records[path] = record
	}
	return nil
}

func (m *MemRepository) SetLocallyDeleted(ctx context.Context, path string, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[path]; ok {
		record.LocallyDeleted = deleted
		m.records[path] = record
	}
	return nil
}
