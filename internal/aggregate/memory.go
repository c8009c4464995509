package aggregate

import (
	"slices"
	"sort"
	"sync"
)

type item struct {
	Entry
	seq uint64
}

// Memory is an Index over a sorted slice. Lookups are binary searches;
// inserts and removes shift the tail.
type Memory struct {
	mu    sync.RWMutex
	items []item
	keys  map[string]int
	seq   uint64
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]int)}
}

// lowerIdx is the first position whose key is >= key.
func (m *Memory) lowerIdx(key int) int {
	return sort.Search(len(m.items), func(i int) bool { return m.items[i].Key >= key })
}

// upperIdx is the first position whose key is > key.
func (m *Memory) upperIdx(key int) int {
	return sort.Search(len(m.items), func(i int) bool { return m.items[i].Key > key })
}

func (m *Memory) span(b Bounds) (int, int) {
	lo, hi := 0, len(m.items)
	if b.Lower != nil {
		if b.Lower.Inclusive {
			lo = m.lowerIdx(b.Lower.Key)
		} else {
			lo = m.upperIdx(b.Lower.Key)
		}
	}
	if b.Upper != nil {
		if b.Upper.Inclusive {
			hi = m.upperIdx(b.Upper.Key)
		} else {
			hi = m.lowerIdx(b.Upper.Key)
		}
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func (m *Memory) Count(b Bounds) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo, hi := m.span(b)
	return hi - lo, nil
}

func (m *Memory) At(offset int) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if offset < 0 || offset >= len(m.items) {
		return Entry{}, ErrOutOfRange
	}
	return m.items[len(m.items)-1-offset].Entry, nil
}

func (m *Memory) Paginate(b Bounds, pageSize int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo, hi := m.span(b)
	if pageSize > 0 && hi-lo > pageSize {
		hi = lo + pageSize
	}
	page := make([]Entry, 0, hi-lo)
	for _, it := range m.items[lo:hi] {
		page = append(page, it.Entry)
	}
	return page, nil
}

func (m *Memory) Insert(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[e.ID]; exists {
		return ErrDuplicateEntry
	}
	m.seq++
	pos := m.upperIdx(e.Key)
	m.items = slices.Insert(m.items, pos, item{Entry: e, seq: m.seq})
	m.keys[e.ID] = e.Key
	return nil
}

func (m *Memory) Remove(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, exists := m.keys[e.ID]
	if !exists || key != e.Key {
		return ErrStaleEntry
	}
	for i := m.lowerIdx(e.Key); i < len(m.items) && m.items[i].Key == e.Key; i++ {
		if m.items[i].ID == e.ID {
			m.items = slices.Delete(m.items, i, i+1)
			delete(m.keys, e.ID)
			return nil
		}
	}
	return ErrStaleEntry
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	m.keys = make(map[string]int)
	return nil
}

// Len is the number of indexed entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Clone returns an independent copy, used to roll back a failed unit of work.
func (m *Memory) Clone() *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &Memory{
		items: slices.Clone(m.items),
		keys:  make(map[string]int, len(m.keys)),
		seq:   m.seq,
	}
	for id, k := range m.keys {
		c.keys[id] = k
	}
	return c
}

// Restore replaces the contents of m with those of from.
func (m *Memory) Restore(from *Memory) {
	c := from.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = c.items
	m.keys = c.keys
	m.seq = c.seq
}
