package cache

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// Entry is a stored compilation result.
type Entry struct {
	// Digest is the canonical key digest.
	Digest string `json:"digest"`

	// Key is the compilation key that produced the catalog.
	Key Key `json:"-"`

	// Catalog is the compiled catalog, shared read-only by every hit.
	Catalog *engine.Catalog `json:"catalog"`

	// CompiledAt is when compilation finished.
	CompiledAt time.Time `json:"compiled_at"`

	// Duration is how long compilation took.
	Duration time.Duration `json:"duration"`
}

// Store persists cache entries by digest. Entries are never evicted.
type Store interface {
	Get(ctx context.Context, digest string) (*Entry, bool, error)
	Put(ctx context.Context, entry *Entry) error
	Len(ctx context.Context) (int, error)
}

// MemoryStore is the default process-lifetime store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Get returns the entry stored under digest.
func (s *MemoryStore) Get(_ context.Context, digest string) (*Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[digest]
	return e, ok, nil
}

// Put stores entry under its digest. An existing entry is kept.
func (s *MemoryStore) Put(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.Digest]; !ok {
		s.entries[entry.Digest] = entry
	}
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
