package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// EventType is the lifecycle event vocabulary. Unknown types are accepted
// with opaque payloads; the known set gets per-type payload validation.
type EventType string

const (
	EventPlanted      EventType = "PLANTED"
	EventInputApplied EventType = "INPUT_APPLIED"
	EventObserved     EventType = "OBSERVED"
	EventHarvested    EventType = "HARVESTED"
	EventProcessed    EventType = "PROCESSED"
	EventShipped      EventType = "SHIPPED"
	EventReceived     EventType = "RECEIVED"
)

// GeoLocation is an optional lat/lng pair on an event.
type GeoLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks coordinate ranges.
func (g GeoLocation) Validate() error {
	if g.Lat < -90 || g.Lat > 90 {
		return InvalidArgumentf("geo_location.lat %v out of range", g.Lat)
	}
	if g.Lng < -180 || g.Lng > 180 {
		return InvalidArgumentf("geo_location.lng %v out of range", g.Lng)
	}
	return nil
}

// Event is an immutable, timestamped fact about a node or a pre-batch
// field reference. At least one of NodeRef/FieldRef is set. Events are
// hash-chained per subject: PrevHash links to the previous event on the
// same chain, EntryHash covers this event's canonical form.
type Event struct {
	ID                string          `json:"id"`
	NodeRef           string          `json:"node_ref,omitempty"`
	FieldRef          string          `json:"field_ref,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
	EventType         EventType       `json:"event_type"`
	ActorRef          string          `json:"actor_ref,omitempty"`
	Geo               *GeoLocation    `json:"geo_location,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	IsPublicTraceable bool            `json:"is_public_traceable"`
	PayloadHash       string          `json:"payload_hash"`
	PrevHash          string          `json:"prev_hash"`
	EntryHash         string          `json:"entry_hash"`
}

// ChainGenesis is the PrevHash of the first event on any chain.
const ChainGenesis = "genesis"

// ChainKey identifies the hash chain an event belongs to. Events on a node
// chain on the node; pre-batch events chain on the field.
func (e *Event) ChainKey() string {
	if e.NodeRef != "" {
		return "vti:" + e.NodeRef
	}
	return "field:" + e.FieldRef
}

// HashPayload computes a canonical-JSON sha256 of a payload so the hash is
// independent of key order. Empty payloads hash the empty object.
func HashPayload(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	canonical, err := jcs.Transform(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// ComputeEntryHash computes the chained hash for an event. PayloadHash and
// PrevHash must already be set.
func ComputeEntryHash(e *Event) (string, error) {
	hashable := struct {
		ID          string    `json:"id"`
		Chain       string    `json:"chain"`
		EventType   EventType `json:"event_type"`
		Timestamp   time.Time `json:"timestamp"`
		ActorRef    string    `json:"actor_ref"`
		PayloadHash string    `json:"payload_hash"`
		PrevHash    string    `json:"prev_hash"`
	}{e.ID, e.ChainKey(), e.EventType, e.Timestamp, e.ActorRef, e.PayloadHash, e.PrevHash}

	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("marshal event for hashing: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
