// Package trace defines the provenance data model shared by every service:
// nodes (VTIs), lifecycle events, typed payloads, and the error taxonomy.
package trace

import "time"

// NodeType values are open-ended tags; these are the ones the core writes.
const (
	NodeTypeFarmBatch = "farm_batch"
	NodeTypeShipment  = "shipment"
)

// Status is a node lifecycle flag. Active is the only state the core
// assigns at creation; Failed is written solely by the harvest saga's
// compensation step. No other transitions are defined.
type Status string

const (
	StatusActive Status = "active"
	StatusFailed Status = "failed"
)

// Metadata is the one mutable part of a node. The carbon accumulator is
// always present; the harvest fields are written once by the Harvest
// Linking Engine; Extra carries anything downstream consumers attach.
type Metadata struct {
	CarbonFootprintKg      float64        `json:"carbon_footprint_kg"`
	CropType               string         `json:"crop_type,omitempty"`
	YieldQty               *float64       `json:"yield_qty,omitempty"`
	QualityGrade           string         `json:"quality_grade,omitempty"`
	LinkedPreHarvestEvents []string       `json:"linked_pre_harvest_events,omitempty"`
	Extra                  map[string]any `json:"extra,omitempty"`
}

// Node is a durable provenance identifier (VTI) for a physical or logical
// entity. ID and CreationTime are immutable; Metadata is the only field
// patched after creation.
type Node struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	CreationTime      time.Time `json:"creation_time"`
	Status            Status    `json:"status"`
	LinkedVTIs        []string  `json:"linked_vtis"`
	Metadata          Metadata  `json:"metadata"`
	IsPublicTraceable bool      `json:"is_public_traceable"`
}
