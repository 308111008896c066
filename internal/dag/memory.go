package dag

import (
	"fmt"
	"sync"

	gocid "github.com/ipfs/go-cid"
)

// MemoryStore keeps blocks, refs and links in process memory. It implements
// Blockstore, RefBackend and LinkBackend, and is safe for concurrent use so
// several in-process peers can share one instance.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[gocid.Cid][]byte
	refs   map[string]Ref
	links  map[gocid.Cid][]memoryLink
}

type memoryLink struct {
	target gocid.Cid
	typ    string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[gocid.Cid][]byte),
		refs:   make(map[string]Ref),
		links:  make(map[gocid.Cid][]memoryLink),
	}
}

func (m *MemoryStore) Put(data []byte) (gocid.Cid, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return gocid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[c]; !ok {
		m.blocks[c] = append([]byte(nil), data...)
	}
	return c, nil
}

func (m *MemoryStore) Get(c gocid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blocks[c]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", c, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Has(c gocid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[c]
	return ok, nil
}

// Len reports the number of stored blocks.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

func (m *MemoryStore) SetRef(name string, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[name] = ref
	return nil
}

func (m *MemoryStore) GetRef(name string) (Ref, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.refs[name]
	if !ok {
		return Ref{}, fmt.Errorf("ref %s: %w", name, ErrNotFound)
	}
	return ref, nil
}

func (m *MemoryStore) AddLink(source, target gocid.Cid, typ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links[source] {
		if l.target == target && l.typ == typ {
			return nil
		}
	}
	m.links[source] = append(m.links[source], memoryLink{target: target, typ: typ})
	return nil
}

func (m *MemoryStore) Links(source gocid.Cid, typ string) ([]gocid.Cid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []gocid.Cid
	for _, l := range m.links[source] {
		if l.typ == typ {
			out = append(out, l.target)
		}
	}
	return out, nil
}
