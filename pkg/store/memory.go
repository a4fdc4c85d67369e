package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/verdantlabs/agritrace/pkg/trace"
)

// MemoryStore is an in-process NodeStore + EventStore. It backs tests and
// single-process deployments without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	nodes   map[string]*trace.Node
	events  []*trace.Event
	byID    map[string]*trace.Event
	byChain map[string][]*trace.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:   make(map[string]*trace.Node),
		byID:    make(map[string]*trace.Event),
		byChain: make(map[string][]*trace.Event),
	}
}

// Handles returns the store bundled as injectable handles.
func (s *MemoryStore) Handles() Store {
	return Store{Nodes: s, Events: s}
}

func (s *MemoryStore) CreateNode(_ context.Context, n *trace.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[n.ID]; exists {
		return ErrDuplicateID
	}
	cp := *n
	cp.LinkedVTIs = append([]string(nil), n.LinkedVTIs...)
	s.nodes[n.ID] = &cp
	return nil
}

func (s *MemoryStore) GetNode(_ context.Context, id string) (*trace.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	cp := *n
	cp.LinkedVTIs = append([]string(nil), n.LinkedVTIs...)
	return &cp, nil
}

func (s *MemoryStore) PatchNodeMetadata(_ context.Context, id string, mutate func(*trace.Metadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	mutate(&n.Metadata)
	return nil
}

func (s *MemoryStore) SetNodeStatus(_ context.Context, id string, status trace.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	n.Status = status
	return nil
}

// NodeIDs lists all stored node ids; test support.
func (s *MemoryStore) NodeIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	return ids
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *trace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[e.ID]; exists {
		return ErrDuplicateID
	}
	cp := *e
	s.events = append(s.events, &cp)
	s.byID[cp.ID] = &cp
	key := cp.ChainKey()
	s.byChain[key] = append(s.byChain[key], &cp)
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*trace.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) EventsByNode(_ context.Context, nodeID string) ([]trace.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(e *trace.Event) bool { return e.NodeRef == nodeID }), nil
}

func (s *MemoryStore) EventsByField(_ context.Context, fieldRef string) ([]trace.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(e *trace.Event) bool { return e.FieldRef == fieldRef }), nil
}

func (s *MemoryStore) EventsByFieldWindow(_ context.Context, fieldRef string, types []trace.EventType, since, until time.Time) ([]trace.Event, error) {
	typeSet := make(map[trace.EventType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(e *trace.Event) bool {
		if e.FieldRef != fieldRef {
			return false
		}
		if _, ok := typeSet[e.EventType]; !ok {
			return false
		}
		return !e.Timestamp.Before(since) && !e.Timestamp.After(until)
	}), nil
}

func (s *MemoryStore) LastOnChain(_ context.Context, chainKey string) (*trace.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.byChain[chainKey]
	if len(chain) == 0 {
		return nil, nil
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

func (s *MemoryStore) EventsOnChain(_ context.Context, chainKey string) ([]trace.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.byChain[chainKey]
	out := make([]trace.Event, 0, len(chain))
	for _, e := range chain {
		out = append(out, *e)
	}
	return out, nil
}

// collect filters in insertion order then sorts ascending by timestamp,
// keeping insertion order for equal timestamps.
func (s *MemoryStore) collect(match func(*trace.Event) bool) []trace.Event {
	out := make([]trace.Event, 0)
	for _, e := range s.events {
		if match(e) {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
