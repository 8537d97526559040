package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/guardgate/guardgate/pkg/domain"
)

type memoryEntry struct {
	fingerprint string
	result      domain.PipelineResult
	createdAt   time.Time
	ttl         time.Duration
	elem        *list.Element
}

// MemoryStore is the in-memory Store implementation. Eviction is by
// insertion order, not access order, which keeps the policy race-free
// under concurrent writers. Expired entries are treated as absent on
// lookup rather than proactively swept.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      *list.List // fingerprints, oldest first
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore creates a store bounded to maxEntries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached result for a fingerprint, deleting it lazily if
// its TTL has elapsed.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (domain.PipelineResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok {
		return domain.PipelineResult{}, false, nil
	}
	if s.now().Sub(e.createdAt) >= e.ttl {
		s.removeLocked(e)
		return domain.PipelineResult{}, false, nil
	}
	return e.result.Clone(), true, nil
}

// Put stores a result, evicting the oldest entry first when at capacity.
// Zero or negative TTLs are never persisted.
func (s *MemoryStore) Put(_ context.Context, fingerprint string, result domain.PipelineResult, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[fingerprint]; ok {
		s.removeLocked(existing)
	}
	for s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		oldest := s.order.Front()
		if oldest == nil {
			break
		}
		s.removeLocked(s.entries[oldest.Value.(string)])
	}

	e := &memoryEntry{
		fingerprint: fingerprint,
		result:      result.Clone(),
		createdAt:   s.now(),
		ttl:         ttl,
	}
	e.elem = s.order.PushBack(fingerprint)
	s.entries[fingerprint] = e
	return nil
}

// Purge drops all entries.
func (s *MemoryStore) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*memoryEntry)
	s.order.Init()
	return nil
}

// Len reports the current entry count, including not-yet-collected
// expired entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) removeLocked(e *memoryEntry) {
	delete(s.entries, e.fingerprint)
	s.order.Remove(e.elem)
}
