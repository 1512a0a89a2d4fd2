package progress

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore is a RecordStore for a single process.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]Record
	cancelled map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]Record),
		cancelled: make(map[string]bool),
	}
}

// NewMemoryTracker returns a Tracker backed by a fresh MemoryStore.
func NewMemoryTracker() *StoreTracker {
	return NewTracker(NewMemoryStore())
}

func (m *MemoryStore) Load(ctx context.Context, docID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[docID]
	if !ok {
		return nil, nil
	}
	rec.Stats = maps.Clone(rec.Stats)
	return &rec, nil
}

func (m *MemoryStore) Save(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	cp.Stats = maps.Clone(rec.Stats)
	m.records[rec.DocID] = cp
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, docID)
	return nil
}

func (m *MemoryStore) SetCancelled(ctx context.Context, docID string, cancelled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancelled {
		m.cancelled[docID] = true
	} else {
		delete(m.cancelled, docID)
	}
	return nil
}

func (m *MemoryStore) Cancelled(ctx context.Context, docID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[docID], nil
}
