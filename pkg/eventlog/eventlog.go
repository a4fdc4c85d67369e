// Package eventlog implements the append-only lifecycle event log. Events
// are validated per type, stamped with a server timestamp, and hash-chained
// per subject so the append-only claim is checkable after the fact.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantlabs/agritrace/pkg/advisory"
	"github.com/verdantlabs/agritrace/pkg/store"
	"github.com/verdantlabs/agritrace/pkg/trace"
)

// Service appends and verifies lifecycle events.
type Service struct {
	nodes    store.NodeStore
	events   store.EventStore
	analyzer advisory.Analyzer
	clock    func() time.Time

	mu     sync.Mutex
	chains map[string]*chainLock
}

type chainLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an event log. analyzer may be nil when no advisory
// collaborator is configured.
func New(nodes store.NodeStore, events store.EventStore, analyzer advisory.Analyzer) *Service {
	return &Service{
		nodes:    nodes,
		events:   events,
		analyzer: analyzer,
		clock:    time.Now,
		chains:   make(map[string]*chainLock),
	}
}

// lockChain holds a per-chain mutex across seal and write. Two appends on
// one chain must not read the same tail, or both link the same PrevHash
// and the stored chain forks.
func (s *Service) lockChain(key string) func() {
	s.mu.Lock()
	cl, ok := s.chains[key]
	if !ok {
		cl = &chainLock{}
		s.chains[key] = cl
	}
	cl.refs++
	s.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		s.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(s.chains, key)
		}
		s.mu.Unlock()
	}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// AppendInput are the caller-supplied fields for a new event.
type AppendInput struct {
	NodeRef   string
	FieldRef  string
	EventType trace.EventType
	ActorRef  string
	Geo       *trace.GeoLocation
	Payload   json.RawMessage
}

// Append validates and writes one immutable event.
//
// Subject rule: at least one of NodeRef/FieldRef must be given. A bare
// NodeRef must resolve to an existing node; when a FieldRef accompanies it,
// an unresolvable node is tolerated because pre-batch events are
// legitimately written against a field before any batch node exists.
func (s *Service) Append(ctx context.Context, in AppendInput) (*trace.Event, error) {
	if in.EventType == "" {
		return nil, trace.InvalidArgumentf("event_type is required")
	}
	if in.ActorRef == "" {
		return nil, trace.InvalidArgumentf("actor_ref is required")
	}
	if in.NodeRef == "" && in.FieldRef == "" {
		return nil, trace.InvalidArgumentf("at least one of node_ref and field_ref is required")
	}
	if in.Geo != nil {
		if err := in.Geo.Validate(); err != nil {
			return nil, err
		}
	}
	if err := trace.ValidatePayload(in.EventType, in.Payload); err != nil {
		return nil, err
	}

	if in.NodeRef != "" {
		_, err := s.nodes.GetNode(ctx, in.NodeRef)
		if err == store.ErrNodeNotFound && in.FieldRef == "" {
			return nil, trace.NotFoundf("node %s not found", in.NodeRef)
		}
		if err != nil && err != store.ErrNodeNotFound {
			return nil, trace.Internal(err)
		}
	}

	payload := in.Payload
	if in.EventType == trace.EventObserved {
		payload = s.attachAdvisory(ctx, payload)
	}

	e := &trace.Event{
		ID:        uuid.New().String(),
		NodeRef:   in.NodeRef,
		FieldRef:  in.FieldRef,
		// Microsecond precision survives every backend's timestamp column,
		// so entry hashes stay verifiable after a round trip.
		Timestamp: s.clock().UTC().Truncate(time.Microsecond),
		EventType: in.EventType,
		ActorRef:  in.ActorRef,
		Geo:       in.Geo,
		Payload:   payload,
	}
	unlock := s.lockChain(e.ChainKey())
	defer unlock()
	if err := s.seal(ctx, e); err != nil {
		return nil, trace.Internal(err)
	}
	if err := s.events.AppendEvent(ctx, e); err != nil {
		return nil, trace.Internal(fmt.Errorf("append event: %w", err))
	}

	slog.InfoContext(ctx, "event appended",
		"event_id", e.ID, "event_type", e.EventType, "chain", e.ChainKey())
	return e, nil
}

// seal links the event onto its subject chain and fills the hash fields.
func (s *Service) seal(ctx context.Context, e *trace.Event) error {
	last, err := s.events.LastOnChain(ctx, e.ChainKey())
	if err != nil {
		return fmt.Errorf("read chain tail: %w", err)
	}
	e.PrevHash = trace.ChainGenesis
	if last != nil {
		e.PrevHash = last.EntryHash
	}
	e.PayloadHash, err = trace.HashPayload(e.Payload)
	if err != nil {
		return err
	}
	e.EntryHash, err = trace.ComputeEntryHash(e)
	return err
}

// attachAdvisory embeds advisory text into an OBSERVED payload under
// aiAnalysis. The advisory step never fails the write: no media or no
// configured collaborator embeds the fixed fallback, a collaborator error
// embeds the fixed failure text.
func (s *Service) attachAdvisory(ctx context.Context, raw json.RawMessage) json.RawMessage {
	fields := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			// Validated upstream; treat as empty if it still fails.
			fields = map[string]any{}
		}
	}

	var obs trace.ObservedPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &obs)
	}

	text := advisory.FallbackText
	if len(obs.MediaURLs) > 0 && s.analyzer != nil {
		result, err := s.analyzer.Analyze(ctx, obs.MediaURLs[0], obs.Details)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "advisory analysis failed", "error", err)
			text = advisory.FailureText
		default:
			text = result
		}
	}
	fields["aiAnalysis"] = text

	enriched, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return enriched
}

// VerifyChain recomputes a subject chain and reports the first break. The
// subject is a node id or, with field=true, a field reference.
func (s *Service) VerifyChain(ctx context.Context, subject string, field bool) error {
	if subject == "" {
		return trace.InvalidArgumentf("subject is required")
	}
	probe := trace.Event{NodeRef: subject}
	if field {
		probe = trace.Event{FieldRef: subject}
	}
	chain, err := s.events.EventsOnChain(ctx, probe.ChainKey())
	if err != nil {
		return trace.Internal(err)
	}

	prev := trace.ChainGenesis
	for i := range chain {
		e := &chain[i]
		if e.PrevHash != prev {
			return trace.Internal(fmt.Errorf("chain broken at %s: prev_hash %s, expected %s", e.ID, e.PrevHash, prev))
		}
		payloadHash, err := trace.HashPayload(e.Payload)
		if err != nil {
			return trace.Internal(err)
		}
		if payloadHash != e.PayloadHash {
			return trace.Internal(fmt.Errorf("payload hash mismatch at %s", e.ID))
		}
		computed, err := trace.ComputeEntryHash(e)
		if err != nil {
			return trace.Internal(err)
		}
		if computed != e.EntryHash {
			return trace.Internal(fmt.Errorf("entry hash mismatch at %s", e.ID))
		}
		prev = e.EntryHash
	}
	return nil
}
