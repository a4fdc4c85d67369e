// Package harvest implements the harvest linking engine: it turns a field's
// recent activity into a new batch node carrying a point-in-time snapshot
// of its pre-harvest history, then logs the HARVESTED event.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/verdantlabs/agritrace/pkg/authz"
	"github.com/verdantlabs/agritrace/pkg/eventlog"
	"github.com/verdantlabs/agritrace/pkg/registry"
	"github.com/verdantlabs/agritrace/pkg/store"
	"github.com/verdantlabs/agritrace/pkg/trace"
)

// Pre-harvest linking policy. Fixed: the window and type set are part of
// the operation's contract, not configuration.
const linkWindow = 365 * 24 * time.Hour

var linkEventTypes = []trace.EventType{
	trace.EventPlanted,
	trace.EventInputApplied,
	trace.EventObserved,
}

// Engine orchestrates harvest recording across the registry and event log.
type Engine struct {
	registry *registry.Service
	eventlog *eventlog.Service
	nodes    store.NodeStore
	events   store.EventStore
	roles    authz.RoleChecker
	locker   FieldLocker
	clock    func() time.Time
}

// New creates a harvest engine. locker may be nil, in which case an
// in-process locker is used.
func New(reg *registry.Service, log *eventlog.Service, st store.Store, roles authz.RoleChecker, locker FieldLocker) *Engine {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Engine{
		registry: reg,
		eventlog: log,
		nodes:    st.Nodes,
		events:   st.Events,
		roles:    roles,
		locker:   locker,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// RecordHarvestInput are the fields for recording a harvest.
type RecordHarvestInput struct {
	FieldRef     string
	CropType     string
	YieldQty     *float64
	QualityGrade string
	ActorRef     string
	Geo          *trace.GeoLocation
	// CallerID is the authenticated caller checked against the Farmer or
	// System role. Defaults to ActorRef when empty.
	CallerID string
}

// RecordHarvest creates a farm_batch node linked to the field, snapshots
// the field's pre-harvest events from the trailing year into the node's
// metadata, and appends a HARVESTED event on the new node.
//
// The steps run under a per-field advisory lock. A failure after node
// creation marks the node failed and surfaces a single error; readers may
// still observe the partially applied node.
func (e *Engine) RecordHarvest(ctx context.Context, in RecordHarvestInput) (string, error) {
	if in.FieldRef == "" {
		return "", trace.InvalidArgumentf("field_ref is required")
	}
	if in.CropType == "" {
		return "", trace.InvalidArgumentf("crop_type is required")
	}
	if in.ActorRef == "" {
		return "", trace.InvalidArgumentf("actor_ref is required")
	}
	if in.Geo != nil {
		if err := in.Geo.Validate(); err != nil {
			return "", err
		}
	}
	if in.YieldQty != nil && *in.YieldQty < 0 {
		return "", trace.InvalidArgumentf("yield_qty must not be negative")
	}

	caller := in.CallerID
	if caller == "" {
		caller = in.ActorRef
	}
	role, err := e.roles.Role(ctx, caller)
	if err != nil {
		return "", trace.Internal(fmt.Errorf("role check: %w", err))
	}
	if !authz.CanRecordHarvest(role) {
		return "", trace.PermissionDeniedf("role %q may not record harvests", role)
	}

	release, err := e.locker.Acquire(ctx, in.FieldRef)
	if err != nil {
		return "", trace.Internal(err)
	}
	defer release()

	// Step 1: mint the batch node descending from the field.
	node, err := e.registry.CreateNode(ctx, registry.CreateNodeInput{
		Type:       trace.NodeTypeFarmBatch,
		LinkedVTIs: []string{in.FieldRef},
		Metadata: &trace.Metadata{
			CropType:     in.CropType,
			YieldQty:     in.YieldQty,
			QualityGrade: in.QualityGrade,
		},
	})
	if err != nil {
		return "", trace.WrapInternal(err)
	}

	// Step 2: bounded historical scan.
	now := e.clock().UTC()
	window, err := e.events.EventsByFieldWindow(ctx, in.FieldRef, linkEventTypes, now.Add(-linkWindow), now)
	if err != nil {
		return "", e.fail(ctx, node.ID, fmt.Errorf("scan pre-harvest events: %w", err))
	}
	linked := make([]string, 0, len(window))
	for _, ev := range window {
		linked = append(linked, ev.ID)
	}

	// Step 3: write the point-in-time snapshot onto the node.
	err = e.nodes.PatchNodeMetadata(ctx, node.ID, func(m *trace.Metadata) {
		m.LinkedPreHarvestEvents = linked
	})
	if err != nil {
		return "", e.fail(ctx, node.ID, fmt.Errorf("patch snapshot: %w", err))
	}

	// Step 4: log the HARVESTED event against the new node.
	payload, err := json.Marshal(trace.HarvestedPayload{
		FieldRef:     in.FieldRef,
		CropType:     in.CropType,
		YieldQty:     in.YieldQty,
		QualityGrade: in.QualityGrade,
	})
	if err != nil {
		return "", e.fail(ctx, node.ID, err)
	}
	_, err = e.eventlog.Append(ctx, eventlog.AppendInput{
		NodeRef:   node.ID,
		EventType: trace.EventHarvested,
		ActorRef:  in.ActorRef,
		Geo:       in.Geo,
		Payload:   payload,
	})
	if err != nil {
		return "", e.fail(ctx, node.ID, err)
	}

	slog.InfoContext(ctx, "harvest recorded",
		"node_id", node.ID, "field_ref", in.FieldRef, "linked_events", len(linked))
	return node.ID, nil
}

// fail is the saga's compensation: mark the node failed so readers can
// distinguish an orphan from a completed batch, then surface one error.
func (e *Engine) fail(ctx context.Context, nodeID string, cause error) error {
	if err := e.nodes.SetNodeStatus(ctx, nodeID, trace.StatusFailed); err != nil {
		slog.ErrorContext(ctx, "harvest compensation failed",
			"node_id", nodeID, "error", err)
	} else {
		slog.WarnContext(ctx, "harvest partially applied, node marked failed",
			"node_id", nodeID, "cause", cause)
	}
	return trace.WrapInternal(cause)
}
