package room

import (
	"context"
	"sync"
	"time"
)

// Repository stores rooms with a TTL. All mutations are read-modify-write;
// there is no transactional guarantee across concurrent writers. The protocol
// accepts this because at most two participants ever write the same room and
// the capacity invariant is re-validated at join time.
type Repository interface {
	// Get returns the room or ErrNotFound. Reads never refresh the TTL.
	Get(ctx context.Context, id string) (Room, error)

	// Put writes the room and (re)arms its TTL.
	Put(ctx context.Context, id string, r Room, ttl time.Duration) error
}

// Key returns the namespaced store key for a room id.
func Key(id string) string { return "room:" + id }

type memoryEntry struct {
	room      Room
	expiresAt time.Time
}

// MemoryRepository is the in-process Repository. It is the default store for
// single-process deployments and the fake used across the test suite.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now is overridable for expiry tests.
	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[Key(id)]
	if !ok {
		return Room{}, ErrNotFound
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, Key(id))
		return Room{}, ErrNotFound
	}
	return cloneRoom(entry.room), nil
}

func (m *MemoryRepository) Put(ctx context.Context, id string, r Room, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[Key(id)] = memoryEntry{
		room:      cloneRoom(r),
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// Sweep drops expired entries. The relay runs it periodically so abandoned
// rooms do not accumulate between reads.
func (m *MemoryRepository) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func cloneRoom(r Room) Room {
	out := Room{}
	if r.Host != nil {
		host := *r.Host
		out.Host = &host
	}
	out.Users = make(map[string]User, len(r.Users))
	for id, u := range r.Users {
		out.Users[id] = u
	}
	return out
}
