// Package history is the read side: it assembles a node, its ordered event
// history, and actor metadata from the external directory into one enriched
// view. Actor resolution degrades to placeholders, never to an error.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/verdantlabs/agritrace/pkg/actors"
	"github.com/verdantlabs/agritrace/pkg/store"
	"github.com/verdantlabs/agritrace/pkg/trace"
)

// Placeholder actors for events whose reference is absent or stale.
var (
	systemActor  = actors.Actor{Name: "System", Role: "System"}
	unknownActor = actors.Actor{Name: "Unknown Actor", Role: "Unknown Role"}
)

// lookupChunkSize bounds a single directory call.
const lookupChunkSize = 30

// Service assembles enriched histories.
type Service struct {
	nodes     store.NodeStore
	events    store.EventStore
	directory actors.Directory
}

// New creates a history service.
func New(nodes store.NodeStore, events store.EventStore, directory actors.Directory) *Service {
	return &Service{nodes: nodes, events: events, directory: directory}
}

// EnrichedEvent is an event plus its resolved actor.
type EnrichedEvent struct {
	trace.Event
	Actor actors.Actor `json:"actor"`
}

// NodeView is a node with timestamps normalized for transport.
type NodeView struct {
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	CreationTime      string         `json:"creation_time"`
	Status            trace.Status   `json:"status"`
	LinkedVTIs        []string       `json:"linked_vtis"`
	Metadata          trace.Metadata `json:"metadata"`
	IsPublicTraceable bool           `json:"is_public_traceable"`
}

// EnrichedHistory is the full read-side view of one node.
type EnrichedHistory struct {
	Node   NodeView        `json:"node"`
	Events []EnrichedEvent `json:"events"`
}

// EventsByField returns all events recorded against a field, ascending by
// timestamp, without enrichment.
func (s *Service) EventsByField(ctx context.Context, fieldRef string) ([]trace.Event, error) {
	if fieldRef == "" {
		return nil, trace.InvalidArgumentf("field_ref is required")
	}
	events, err := s.events.EventsByField(ctx, fieldRef)
	if err != nil {
		return nil, trace.Internal(err)
	}
	return events, nil
}

// History returns the node plus its enriched, ordered event history.
func (s *Service) History(ctx context.Context, nodeID string) (*EnrichedHistory, error) {
	if nodeID == "" {
		return nil, trace.InvalidArgumentf("node id is required")
	}

	node, err := s.nodes.GetNode(ctx, nodeID)
	if err == store.ErrNodeNotFound {
		return nil, trace.NotFoundf("node %s not found", nodeID)
	}
	if err != nil {
		return nil, trace.Internal(err)
	}

	events, err := s.events.EventsByNode(ctx, nodeID)
	if err != nil {
		return nil, trace.Internal(err)
	}

	resolved := s.resolveActors(ctx, events)

	enriched := make([]EnrichedEvent, 0, len(events))
	for _, e := range events {
		actor := systemActor
		if e.ActorRef != "" {
			var ok bool
			if actor, ok = resolved[e.ActorRef]; !ok {
				actor = unknownActor
			}
		}
		enriched = append(enriched, EnrichedEvent{Event: e, Actor: actor})
	}

	return &EnrichedHistory{
		Node: NodeView{
			ID:                node.ID,
			Type:              node.Type,
			CreationTime:      node.CreationTime.UTC().Format(time.RFC3339),
			Status:            node.Status,
			LinkedVTIs:        node.LinkedVTIs,
			Metadata:          node.Metadata,
			IsPublicTraceable: node.IsPublicTraceable,
		},
		Events: enriched,
	}, nil
}

// resolveActors bulk-resolves the distinct actor refs across events,
// chunking large sets. Directory failures degrade to an empty result so
// enrichment falls back to placeholders.
func (s *Service) resolveActors(ctx context.Context, events []trace.Event) map[string]actors.Actor {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range events {
		if e.ActorRef == "" {
			continue
		}
		if _, dup := seen[e.ActorRef]; dup {
			continue
		}
		seen[e.ActorRef] = struct{}{}
		ids = append(ids, e.ActorRef)
	}
	if len(ids) == 0 {
		return map[string]actors.Actor{}
	}

	resolved := make(map[string]actors.Actor, len(ids))
	for start := 0; start < len(ids); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk, err := s.directory.Lookup(ctx, ids[start:end])
		if err != nil {
			slog.WarnContext(ctx, "actor directory lookup failed", "error", err, "ids", len(ids[start:end]))
			continue
		}
		for id, a := range chunk {
			resolved[id] = a
		}
	}
	return resolved
}
