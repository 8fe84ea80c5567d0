package queue

import (
	"context"
	"sort"
	"sync"
)

// MemRepository is an in-memory Repository used in tests.
type MemRepository struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

// NewMemRepository creates an empty in-memory repository.
func NewMemRepository() *MemRepository {
	return &MemRepository{ops: make(map[string]*Operation)}
}

func (m *MemRepository) Get(ctx context.Context, id string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if op, ok := m.ops[id]; ok {
		out := *op
		return &out, nil
	}
	return nil, nil
}

func (m *MemRepository) GetQueuedByPath(ctx context.Context, path string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, op := range m.ops {
		if op.Path == path && op.Status == StatusQueued {
			out := *op
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemRepository) Insert(ctx context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *op
	m.ops[op.ID] = &stored
	return nil
}

func (m *MemRepository) Update(ctx context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.ops[op.ID]
	if !ok {
		return nil
	}
	updated := *op
	updated.QueuedAt = existing.QueuedAt // queue time is immutable
	m.ops[op.ID] = &updated
	return nil
}

func (m *MemRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, id)
	return nil
}

func (m *MemRepository) List(ctx context.Context) ([]*Operation, error) {
	return m.listFiltered(func(*Operation) bool { return true })
}

func (m *MemRepository) ListByStatus(ctx context.Context, status Status) ([]*Operation, error) {
	return m.listFiltered(func(op *Operation) bool { return op.Status == status })
}

func (m *MemRepository) listFiltered(keep func(*Operation) bool) ([]*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ops []*Operation
	for _, op := range m.ops {
		if keep(op) {
			out := *op
			ops = append(ops, &out)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].QueuedAt.Before(ops[j].QueuedAt) })
	return ops, nil
}

func (m *MemRepository) CountByStatus(ctx context.Context, status Status) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, op := range m.ops {
		if op.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *MemRepository) DeleteByStatus(ctx context.Context, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, op := range m.ops {
		if op.Status == status {
			delete(m.ops, id)
		}
	}
	return nil
}
