package session

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds the in-memory store: a serve process that
// never restarts must not accumulate sessions forever.
const DefaultCapacity = 200

type memoryEntry struct {
	snap *Snapshot
	elem *list.Element
}

// MemoryStore is a bounded in-memory Store. Eviction is
// oldest-insertion-first, matching the document store's in-memory
// container.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*memoryEntry
	order    *list.List // of session id, front = oldest
	now      func() time.Time
}

// NewMemoryStore builds a bounded store. capacity <= 0 uses
// DefaultCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*memoryEntry),
		order:    list.New(),
		now:      time.Now,
	}
}

func (m *MemoryStore) Apply(_ context.Context, sessionID string, up Update) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	entry, ok := m.items[sessionID]
	if !ok {
		snap := &Snapshot{
			SessionID: sessionID,
			Status:    StatusQueued,
			CreatedAt: now,
		}
		elem := m.order.PushBack(sessionID)
		entry = &memoryEntry{snap: snap, elem: elem}
		m.items[sessionID] = entry
		for len(m.items) > m.capacity {
			oldest := m.order.Front()
			if oldest == nil {
				break
			}
			evicted := oldest.Value.(string)
			m.order.Remove(oldest)
			delete(m.items, evicted)
		}
	}
	entry.snap.merge(up, now)
	return entry.snap.clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.snap.clone(), nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Snapshot
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, m.items[elem.Value.(string)].snap.clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
