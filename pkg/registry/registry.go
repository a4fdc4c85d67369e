// Package registry implements the identifier registry: it mints provenance
// nodes (VTIs) and is the only component that creates them.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/verdantlabs/agritrace/pkg/store"
	"github.com/verdantlabs/agritrace/pkg/trace"
)

// Service mints and resolves provenance nodes.
type Service struct {
	nodes store.NodeStore
	clock func() time.Time
}

// New creates a registry backed by the given node store.
func New(nodes store.NodeStore) *Service {
	return &Service{nodes: nodes, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// CreateNodeInput are the caller-supplied fields for a new node.
type CreateNodeInput struct {
	Type       string
	LinkedVTIs []string
	Metadata   *trace.Metadata
}

// CreateNode mints a new node. The returned node is immediately resolvable
// by GetNode. Linked VTIs are caller-supplied ids of entities that already
// exist; ids minted here are fresh, so an edge can never point to a node
// created later.
func (s *Service) CreateNode(ctx context.Context, in CreateNodeInput) (*trace.Node, error) {
	if in.Type == "" {
		return nil, trace.InvalidArgumentf("type is required")
	}

	meta := trace.Metadata{}
	if in.Metadata != nil {
		meta = *in.Metadata
	}

	n := &trace.Node{
		ID:           uuid.New().String(),
		Type:         in.Type,
		CreationTime: s.clock().UTC(),
		Status:       trace.StatusActive,
		LinkedVTIs:   append([]string{}, in.LinkedVTIs...),
		Metadata:     meta,
	}
	if err := s.nodes.CreateNode(ctx, n); err != nil {
		return nil, trace.Internal(fmt.Errorf("create node: %w", err))
	}

	slog.InfoContext(ctx, "node created", "node_id", n.ID, "node_type", n.Type)
	return n, nil
}

// GetNode resolves a node by id.
func (s *Service) GetNode(ctx context.Context, id string) (*trace.Node, error) {
	if id == "" {
		return nil, trace.InvalidArgumentf("node id is required")
	}
	n, err := s.nodes.GetNode(ctx, id)
	if err == store.ErrNodeNotFound {
		return nil, trace.NotFoundf("node %s not found", id)
	}
	if err != nil {
		return nil, trace.Internal(err)
	}
	return n, nil
}
