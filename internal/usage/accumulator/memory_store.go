package accumulator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/usage/domain"
)

type memoryTenant struct {
	entries   map[string]domain.AccumulatorEntry
	expiresAt time.Time
}

// MemoryStore keeps counters in process. It serves single-node deployments
// and tests; it is not visible across processes.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     func() time.Duration
	tenants map[int64]*memoryTenant
}

func NewMemoryStore(clk clock.Clock, ttl time.Duration) *MemoryStore {
	return NewMemoryStoreFunc(clk, func() time.Duration { return ttl })
}

// NewMemoryStoreFunc reads the TTL on every increment so reloaded settings
// apply to the next write.
func NewMemoryStoreFunc(clk clock.Clock, ttl func() time.Duration) *MemoryStore {
	if ttl == nil {
		ttl = func() time.Duration { return 0 }
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &MemoryStore{
		clock:   clk,
		ttl:     ttl,
		tenants: make(map[int64]*memoryTenant),
	}
}

func (s *MemoryStore) Increment(_ context.Context, tenantID int64, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID, true)
	entry := t.entries[key]
	entry.Hits++
	at = at.UTC()
	if entry.LastHitAt == nil || at.After(*entry.LastHitAt) {
		entry.LastHitAt = &at
	}
	t.entries[key] = entry
	if ttl := s.ttl(); ttl > 0 {
		t.expiresAt = s.clock.Now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Read(_ context.Context, tenantID int64) (map[string]domain.AccumulatorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.AccumulatorEntry)
	t := s.tenant(tenantID, false)
	if t == nil {
		return out, nil
	}
	for key, entry := range t.entries {
		if entry.Hits <= 0 {
			continue
		}
		copied := entry
		if entry.LastHitAt != nil {
			ts := *entry.LastHitAt
			copied.LastHitAt = &ts
		}
		out[key] = copied
	}
	return out, nil
}

func (s *MemoryStore) Consume(_ context.Context, tenantID int64, entries map[string]domain.AccumulatorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID, false)
	if t == nil {
		return nil
	}
	for key, consumed := range entries {
		entry, ok := t.entries[key]
		if !ok {
			continue
		}
		entry.Hits -= consumed.Hits
		if entry.Hits > 0 {
			t.entries[key] = entry
			continue
		}
		delete(t.entries, key)
	}
	if len(t.entries) == 0 {
		delete(s.tenants, tenantID)
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, tenantID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenantID)
	return nil
}

func (s *MemoryStore) Tenants(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int64, 0, len(s.tenants))
	for id := range s.tenants {
		if s.tenant(id, false) != nil {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// tenant must be called with mu held. Expired tenants are dropped.
func (s *MemoryStore) tenant(tenantID int64, create bool) *memoryTenant {
	t, ok := s.tenants[tenantID]
	if ok && !t.expiresAt.IsZero() && !s.clock.Now().Before(t.expiresAt) {
		delete(s.tenants, tenantID)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		t = &memoryTenant{entries: make(map[string]domain.AccumulatorEntry)}
		s.tenants[tenantID] = t
	}
	return t
}
