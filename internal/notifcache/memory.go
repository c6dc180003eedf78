package notifcache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// janitorInterval is how often the memory store sweeps expired entries.
const janitorInterval = 30 * time.Second

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryList struct {
	values    []string
	expiresAt time.Time
}

// MemoryStore implements Store in process memory with TTL expiry.
// Reads check expiry lazily; a janitor goroutine sweeps stale entries so
// an idle deployment does not accumulate dead keys.
//
// The clock is injectable for deterministic expiry tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	lists   map[string]memoryList

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewMemoryStore creates a memory store and starts its janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		lists:   make(map[string]memoryList),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// newMemoryStoreWithClock creates a store without a janitor, expiring
// entries against the supplied clock. Test use only.
func newMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		lists:   make(map[string]memoryList),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Put stores a value under key, expiring after ttl.
func (s *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// ListByPrefix returns all unexpired values whose keys start with prefix.
func (s *MemoryStore) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var values []string
	for key, entry := range s.entries {
		if strings.HasPrefix(key, prefix) && entry.expiresAt.After(now) {
			values = append(values, entry.value)
		}
	}
	return values, nil
}

// PushList appends a value to the list at key and resets its expiry.
func (s *MemoryStore) PushList(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	list := s.lists[key]
	if !list.expiresAt.IsZero() && !list.expiresAt.After(now) {
		list = memoryList{}
	}
	list.values = append(list.values, value)
	list.expiresAt = now.Add(ttl)
	s.lists[key] = list
	return nil
}

// GetList returns all unexpired list elements, oldest first.
func (s *MemoryStore) GetList(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.lists[key]
	if !ok || !list.expiresAt.After(s.now()) {
		return nil, nil
	}
	out := make([]string, len(list.values))
	copy(out, list.values)
	return out, nil
}

// HealthCheck always succeeds for the in-process store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// janitor periodically removes expired entries.
func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.entries {
		if !entry.expiresAt.After(now) {
			delete(s.entries, key)
		}
	}
	for key, list := range s.lists {
		if !list.expiresAt.After(now) {
			delete(s.lists, key)
		}
	}
}
