package api

import (
	"encoding/json"
	"net/http"

	"github.com/verdantlabs/agritrace/pkg/eventlog"
	"github.com/verdantlabs/agritrace/pkg/harvest"
	"github.com/verdantlabs/agritrace/pkg/history"
	"github.com/verdantlabs/agritrace/pkg/registry"
	"github.com/verdantlabs/agritrace/pkg/trace"
)

const maxBodyBytes = 1 << 20 // 1MB

// Server routes RPC-style requests to the provenance services.
type Server struct {
	Registry *registry.Service
	Events   *eventlog.Service
	Harvest  *harvest.Engine
	History  *history.Service
}

// Routes returns the service mux. Auth and rate-limit middleware wrap it
// at startup; /healthz is mounted outside the authenticated chain.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/nodes.create", s.handleCreateNode)
	mux.HandleFunc("/v1/events.append", s.handleAppendEvent)
	mux.HandleFunc("/v1/events.input", s.handleInputApplication)
	mux.HandleFunc("/v1/events.observe", s.handleObservation)
	mux.HandleFunc("/v1/events.verify", s.handleVerifyChain)
	mux.HandleFunc("/v1/harvest.record", s.handleRecordHarvest)
	mux.HandleFunc("/v1/history.byField", s.handleEventsByField)
	mux.HandleFunc("/v1/history.get", s.handleGetHistory)
	return mux
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

type createNodeRequest struct {
	Type       string          `json:"type"`
	LinkedVTIs []string        `json:"linked_vtis"`
	Metadata   *trace.Metadata `json:"metadata"`
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if !decode(w, r, &req) {
		return
	}
	node, err := s.Registry.CreateNode(r.Context(), registry.CreateNodeInput{
		Type:       req.Type,
		LinkedVTIs: req.LinkedVTIs,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": node.ID, "status": node.Status})
}

type appendEventRequest struct {
	NodeRef   string             `json:"node_ref"`
	FieldRef  string             `json:"field_ref"`
	EventType trace.EventType    `json:"event_type"`
	ActorRef  string             `json:"actor_ref"`
	Geo       *trace.GeoLocation `json:"geo_location"`
	Payload   json.RawMessage    `json:"payload"`
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.Events.Append(r.Context(), eventlog.AppendInput{
		NodeRef:   req.NodeRef,
		FieldRef:  req.FieldRef,
		EventType: req.EventType,
		ActorRef:  req.ActorRef,
		Geo:       req.Geo,
		Payload:   req.Payload,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"message": "event recorded", "event_id": e.ID})
}

type inputApplicationRequest struct {
	FieldRef        string             `json:"field_ref"`
	InputID         string             `json:"input_id"`
	ApplicationDate string             `json:"application_date"`
	Quantity        float64            `json:"quantity"`
	Unit            string             `json:"unit"`
	Method          string             `json:"method"`
	ActorRef        string             `json:"actor_ref"`
	Geo             *trace.GeoLocation `json:"geo_location"`
}

func (s *Server) handleInputApplication(w http.ResponseWriter, r *http.Request) {
	var req inputApplicationRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.Events.AppendInputApplication(r.Context(), eventlog.InputApplicationInput{
		FieldRef:        req.FieldRef,
		InputID:         req.InputID,
		ApplicationDate: req.ApplicationDate,
		Quantity:        req.Quantity,
		Unit:            req.Unit,
		Method:          req.Method,
		ActorRef:        req.ActorRef,
		Geo:             req.Geo,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"message": "input application recorded", "event_id": e.ID})
}

type observationRequest struct {
	FieldRef        string             `json:"field_ref"`
	ObservationType string             `json:"observation_type"`
	ObservationDate string             `json:"observation_date"`
	Details         string             `json:"details"`
	MediaURLs       []string           `json:"media_urls"`
	ActorRef        string             `json:"actor_ref"`
	Geo             *trace.GeoLocation `json:"geo_location"`
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if !decode(w, r, &req) {
		return
	}
	e, advisoryText, err := s.Events.AppendObservation(r.Context(), eventlog.ObservationInput{
		FieldRef:        req.FieldRef,
		ObservationType: req.ObservationType,
		ObservationDate: req.ObservationDate,
		Details:         req.Details,
		MediaURLs:       req.MediaURLs,
		ActorRef:        req.ActorRef,
		Geo:             req.Geo,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"message":  "observation recorded",
		"event_id": e.ID,
		"advisory": advisoryText,
	})
}

type verifyChainRequest struct {
	NodeRef  string `json:"node_ref"`
	FieldRef string `json:"field_ref"`
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	var req verifyChainRequest
	if !decode(w, r, &req) {
		return
	}
	subject, field := req.NodeRef, false
	if subject == "" {
		subject, field = req.FieldRef, true
	}
	if err := s.Events.VerifyChain(r.Context(), subject, field); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"verified": true})
}

type recordHarvestRequest struct {
	FieldRef     string             `json:"field_ref"`
	CropType     string             `json:"crop_type"`
	YieldQty     *float64           `json:"yield_qty"`
	QualityGrade string             `json:"quality_grade"`
	ActorRef     string             `json:"actor_ref"`
	Geo          *trace.GeoLocation `json:"geo_location"`
}

func (s *Server) handleRecordHarvest(w http.ResponseWriter, r *http.Request) {
	var req recordHarvestRequest
	if !decode(w, r, &req) {
		return
	}
	newNodeID, err := s.Harvest.RecordHarvest(r.Context(), harvest.RecordHarvestInput{
		FieldRef:     req.FieldRef,
		CropType:     req.CropType,
		YieldQty:     req.YieldQty,
		QualityGrade: req.QualityGrade,
		ActorRef:     req.ActorRef,
		Geo:          req.Geo,
		CallerID:     CallerID(r.Context()),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"new_node_id": newNodeID})
}

type eventsByFieldRequest struct {
	FieldRef string `json:"field_ref"`
}

func (s *Server) handleEventsByField(w http.ResponseWriter, r *http.Request) {
	var req eventsByFieldRequest
	if !decode(w, r, &req) {
		return
	}
	events, err := s.History.EventsByField(r.Context(), req.FieldRef)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"events": events})
}

type getHistoryRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	var req getHistoryRequest
	if !decode(w, r, &req) {
		return
	}
	h, err := s.History.History(r.Context(), req.NodeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, h)
}
