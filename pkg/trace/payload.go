package trace

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Payload is the tagged union over event payloads. Known event types decode
// to a concrete shape; anything else decodes to ExtensionPayload.
type Payload interface {
	payloadType() EventType
}

// PlantedPayload records a planting on a field.
type PlantedPayload struct {
	CropType     string `json:"crop_type"`
	SeedVariety  string `json:"seed_variety,omitempty"`
	PlantingDate string `json:"planting_date,omitempty"`
}

// InputAppliedPayload records application of an agricultural input.
type InputAppliedPayload struct {
	InputID         string  `json:"input_id"`
	ApplicationDate string  `json:"application_date"`
	Quantity        float64 `json:"quantity"`
	Unit            string  `json:"unit"`
	Method          string  `json:"method,omitempty"`
}

// ObservedPayload records a field observation. AIAnalysis is filled in by
// the event log from the advisory collaborator, never by the caller.
type ObservedPayload struct {
	ObservationType string   `json:"observation_type"`
	ObservationDate string   `json:"observation_date,omitempty"`
	Details         string   `json:"details"`
	MediaURLs       []string `json:"media_urls,omitempty"`
	AIAnalysis      string   `json:"aiAnalysis,omitempty"`
}

// HarvestedPayload records the harvest that created a batch node.
type HarvestedPayload struct {
	FieldRef     string   `json:"field_ref"`
	CropType     string   `json:"crop_type"`
	YieldQty     *float64 `json:"yield_qty,omitempty"`
	QualityGrade string   `json:"quality_grade,omitempty"`
}

// ExtensionPayload carries the payload of an event type the core does not
// model. The blob is stored and returned verbatim.
type ExtensionPayload struct {
	Raw json.RawMessage
}

func (PlantedPayload) payloadType() EventType      { return EventPlanted }
func (InputAppliedPayload) payloadType() EventType { return EventInputApplied }
func (ObservedPayload) payloadType() EventType     { return EventObserved }
func (HarvestedPayload) payloadType() EventType    { return EventHarvested }
func (ExtensionPayload) payloadType() EventType    { return "" }

// DecodePayload decodes raw payload JSON into the concrete shape for the
// event type, or ExtensionPayload for unknown types.
func DecodePayload(et EventType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	switch et {
	case EventPlanted:
		var p PlantedPayload
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", et, err)
		}
		return p, nil
	case EventInputApplied:
		var p InputAppliedPayload
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", et, err)
		}
		return p, nil
	case EventObserved:
		var p ObservedPayload
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", et, err)
		}
		return p, nil
	case EventHarvested:
		var p HarvestedPayload
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", et, err)
		}
		return p, nil
	default:
		return ExtensionPayload{Raw: raw}, nil
	}
}

//go:embed schemas/*.json
var schemaFS embed.FS

var payloadSchemas = map[EventType]*jsonschema.Schema{}

func init() {
	compiler := jsonschema.NewCompiler()
	for et, name := range map[EventType]string{
		EventPlanted:      "planted.json",
		EventInputApplied: "input_applied.json",
		EventObserved:     "observed.json",
		EventHarvested:    "harvested.json",
	} {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			panic(fmt.Sprintf("embedded schema %s: %v", name, err))
		}
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			panic(fmt.Sprintf("add schema %s: %v", name, err))
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("compile schema %s: %v", name, err))
		}
		payloadSchemas[et] = schema
	}
}

// ValidatePayload checks a known event type's payload against its schema.
// Unknown types pass as long as the payload is well-formed JSON.
func ValidatePayload(et EventType, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return InvalidArgumentf("payload is not valid JSON: %v", err)
	}
	schema, ok := payloadSchemas[et]
	if !ok {
		return nil
	}
	if err := schema.Validate(v); err != nil {
		return InvalidArgumentf("payload does not match %s schema: %v", et, err)
	}
	return nil
}
