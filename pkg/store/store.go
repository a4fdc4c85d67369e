// Package store implements persistence for provenance nodes and their
// append-only event log. Events are insert-only; the single sanctioned node
// mutation is the metadata patch used by the harvest linking step.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/verdantlabs/agritrace/pkg/trace"
)

var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrEventNotFound = errors.New("event not found")
	ErrDuplicateID   = errors.New("id already exists")
)

// NodeStore persists provenance nodes.
type NodeStore interface {
	CreateNode(ctx context.Context, n *trace.Node) error
	GetNode(ctx context.Context, id string) (*trace.Node, error)
	// PatchNodeMetadata applies mutate to the stored metadata under the
	// store's own consistency; it is the only post-creation write besides
	// SetNodeStatus.
	PatchNodeMetadata(ctx context.Context, id string, mutate func(*trace.Metadata)) error
	// SetNodeStatus is used by the harvest saga's compensation step.
	SetNodeStatus(ctx context.Context, id string, status trace.Status) error
}

// EventStore persists immutable lifecycle events.
type EventStore interface {
	AppendEvent(ctx context.Context, e *trace.Event) error
	GetEvent(ctx context.Context, id string) (*trace.Event, error)
	// EventsByNode and EventsByField return ascending by timestamp.
	EventsByNode(ctx context.Context, nodeID string) ([]trace.Event, error)
	EventsByField(ctx context.Context, fieldRef string) ([]trace.Event, error)
	// EventsByFieldWindow filters field events by type set and a half-open
	// time window [since, until].
	EventsByFieldWindow(ctx context.Context, fieldRef string, types []trace.EventType, since, until time.Time) ([]trace.Event, error)
	// LastOnChain returns the most recently appended event on a chain, or
	// nil when the chain is empty.
	LastOnChain(ctx context.Context, chainKey string) (*trace.Event, error)
	// EventsOnChain returns a chain's events in append order.
	EventsOnChain(ctx context.Context, chainKey string) ([]trace.Event, error)
}

// Store bundles the two handles constructed once at startup and injected
// into each service.
type Store struct {
	Nodes  NodeStore
	Events EventStore
}
