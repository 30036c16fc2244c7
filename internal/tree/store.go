package tree

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNodeNotFound is returned by a Store for an id it does not hold.
	ErrNodeNotFound = errors.New("node not found")

	// ErrTreeCycle is returned when a node id appears on its own ancestry.
	ErrTreeCycle = errors.New("node repeated on its own ancestry")
)

// Store is the read-only accessor over the live tree.
type Store interface {
	// Get returns the node for id, or ErrNodeNotFound.
	Get(ctx context.Context, id ID) (*Node, error)
}

// Capabilities advertises optional host features. The exporter never
// consults it; it is surfaced for the panel glue.
type Capabilities struct {
	Scroll bool `json:"scroll"`
}

// CapabilityReporter is implemented by stores that know their host's
// capabilities.
type CapabilityReporter interface {
	Capabilities() Capabilities
}

// MemoryStore is a Store over an in-process map. It backs fixtures and
// the per-export snapshot of nodes a walk has read.
// Safe for concurrent use. Nodes are shared, not copied: callers must not
// mutate a node after Put.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[ID]*Node
	caps  Capabilities
}

// NewMemoryStore creates an empty store holding the given nodes.
func NewMemoryStore(nodes ...*Node) *MemoryStore {
	s := &MemoryStore{nodes: make(map[ID]*Node, len(nodes))}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

// Put adds or replaces a node.
func (s *MemoryStore) Put(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id ID) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// Len returns the number of nodes held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// IDs returns every held id, sorted.
func (s *MemoryStore) IDs() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]ID, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetCapabilities records the host's capabilities.
func (s *MemoryStore) SetCapabilities(c Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = c
}

// Capabilities implements CapabilityReporter.
func (s *MemoryStore) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}
