package docstore

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultMemoryCapacity bounds the in-memory container so a long
// serve process without a durable store cannot grow unbounded.
const DefaultMemoryCapacity = 1000

type memoryKey struct {
	id string
	pk string
}

type memoryEntry struct {
	item Item
	elem *list.Element
}

// MemoryContainer is a bounded in-memory Container used when no
// durable backend is configured. Eviction is oldest-insertion-first.
type MemoryContainer struct {
	mu       sync.Mutex
	pkPath   string
	capacity int
	items    map[memoryKey]*memoryEntry
	order    *list.List // of memoryKey, front = oldest
}

// NewMemory builds an in-memory container with the given declared
// partition key path. capacity <= 0 uses DefaultMemoryCapacity.
func NewMemory(pkPath string, capacity int) *MemoryContainer {
	if pkPath == "" {
		pkPath = DefaultPartitionKeyPath
	}
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryContainer{
		pkPath:   pkPath,
		capacity: capacity,
		items:    make(map[memoryKey]*memoryEntry),
		order:    list.New(),
	}
}

func (m *MemoryContainer) DeclaredPartitionKeyPath() string { return m.pkPath }

func (m *MemoryContainer) ReadItem(_ context.Context, id, pk string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[memoryKey{id: id, pk: pk}]
	if !ok {
		return nil, ErrNotFound
	}
	item := cloneItem(entry.item)
	return &item, nil
}

func (m *MemoryContainer) UpsertItem(_ context.Context, doc Document, pk string) (*Item, error) {
	id := doc.ID()
	if id == "" {
		return nil, ErrMissingID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeLocked(doc, pk)
}

func (m *MemoryContainer) ReplaceItem(_ context.Context, doc Document, pk, etag string) (*Item, error) {
	id := doc.ID()
	if id == "" {
		return nil, ErrMissingID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[memoryKey{id: id, pk: pk}]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.item.ETag != etag {
		return nil, ErrPreconditionFailed
	}
	return m.storeLocked(doc, pk)
}

func (m *MemoryContainer) storeLocked(doc Document, pk string) (*Item, error) {
	key := memoryKey{id: doc.ID(), pk: pk}
	item := Item{Body: doc.Clone(), ETag: uuid.NewString()}

	if entry, ok := m.items[key]; ok {
		entry.item = item
	} else {
		elem := m.order.PushBack(key)
		m.items[key] = &memoryEntry{item: item, elem: elem}
		for len(m.items) > m.capacity {
			oldest := m.order.Front()
			if oldest == nil {
				break
			}
			ok := oldest.Value.(memoryKey)
			m.order.Remove(oldest)
			delete(m.items, ok)
		}
	}
	out := cloneItem(item)
	return &out, nil
}

func (m *MemoryContainer) ListIDPrefix(_ context.Context, prefix string, limit int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Item
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		key := elem.Value.(memoryKey)
		if !strings.HasPrefix(key.id, prefix) {
			continue
		}
		out = append(out, cloneItem(m.items[key].item))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryContainer) DeleteItem(_ context.Context, id, pk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{id: id, pk: pk}
	if entry, ok := m.items[key]; ok {
		m.order.Remove(entry.elem)
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryContainer) Close() error { return nil }

func cloneItem(item Item) Item {
	return Item{Body: item.Body.Clone(), ETag: item.ETag}
}
