package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory, in insertion order
type MemoryStore struct {
	mutex       sync.Mutex
	collections map[string][]*Record
	opts        options
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates a new in-memory store
func NewMemory(opts ...Option) *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]*Record),
		opts:        applyOptions(opts),
	}
}

func (m *MemoryStore) Lookup(_ context.Context, collection, requestURI string) (*Record, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, rec := range m.collections[collection] {
		if rec.RequestURI == requestURI {
			found := *rec
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Insert(_ context.Context, collection string, rec Record) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	rec.ID = uuid.NewString()
	rec.Timestamp = m.opts.timestamp()
	m.mutex.Lock()
	m.collections[collection] = append(m.collections[collection], &rec)
	m.mutex.Unlock()
	return rec.ID, nil
}

func (m *MemoryStore) Update(_ context.Context, collection, id string, rec Record) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, existing := range m.collections[collection] {
		if existing.ID == id {
			existing.RequestURI = rec.RequestURI
			existing.Data = rec.Data
			existing.Timestamp = m.opts.timestamp()
			return nil
		}
	}
	return ErrNotFound
}

// Len returns the number of records in collection
func (m *MemoryStore) Len(collection string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.collections[collection])
}

func (m *MemoryStore) Init(_ context.Context, collections ...string) error {
	for _, c := range collections {
		if err := ValidateCollection(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Close(_ context.Context) error {
	return nil
}
