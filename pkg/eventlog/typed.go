package eventlog

import (
	"context"
	"encoding/json"

	"github.com/verdantlabs/agritrace/pkg/trace"
)

// InputApplicationInput are the fields for recording an input application
// against a field.
type InputApplicationInput struct {
	FieldRef        string
	InputID         string
	ApplicationDate string
	Quantity        float64
	Unit            string
	Method          string
	ActorRef        string
	Geo             *trace.GeoLocation
}

// AppendInputApplication records an INPUT_APPLIED event.
func (s *Service) AppendInputApplication(ctx context.Context, in InputApplicationInput) (*trace.Event, error) {
	if in.FieldRef == "" {
		return nil, trace.InvalidArgumentf("field_ref is required")
	}
	if in.InputID == "" {
		return nil, trace.InvalidArgumentf("input_id is required")
	}
	if in.ApplicationDate == "" {
		return nil, trace.InvalidArgumentf("application_date is required")
	}
	if in.Unit == "" {
		return nil, trace.InvalidArgumentf("unit is required")
	}

	payload, err := json.Marshal(trace.InputAppliedPayload{
		InputID:         in.InputID,
		ApplicationDate: in.ApplicationDate,
		Quantity:        in.Quantity,
		Unit:            in.Unit,
		Method:          in.Method,
	})
	if err != nil {
		return nil, trace.Internal(err)
	}
	return s.Append(ctx, AppendInput{
		FieldRef:  in.FieldRef,
		EventType: trace.EventInputApplied,
		ActorRef:  in.ActorRef,
		Geo:       in.Geo,
		Payload:   payload,
	})
}

// ObservationInput are the fields for recording a field observation.
type ObservationInput struct {
	FieldRef        string
	ObservationType string
	ObservationDate string
	Details         string
	MediaURLs       []string
	ActorRef        string
	Geo             *trace.GeoLocation
}

// AppendObservation records an OBSERVED event and returns the advisory
// text embedded in its payload.
func (s *Service) AppendObservation(ctx context.Context, in ObservationInput) (*trace.Event, string, error) {
	if in.FieldRef == "" {
		return nil, "", trace.InvalidArgumentf("field_ref is required")
	}
	if in.ObservationType == "" {
		return nil, "", trace.InvalidArgumentf("observation_type is required")
	}
	if in.Details == "" {
		return nil, "", trace.InvalidArgumentf("details is required")
	}

	payload, err := json.Marshal(trace.ObservedPayload{
		ObservationType: in.ObservationType,
		ObservationDate: in.ObservationDate,
		Details:         in.Details,
		MediaURLs:       in.MediaURLs,
	})
	if err != nil {
		return nil, "", trace.Internal(err)
	}
	e, err := s.Append(ctx, AppendInput{
		FieldRef:  in.FieldRef,
		EventType: trace.EventObserved,
		ActorRef:  in.ActorRef,
		Geo:       in.Geo,
		Payload:   payload,
	})
	if err != nil {
		return nil, "", err
	}

	var obs trace.ObservedPayload
	_ = json.Unmarshal(e.Payload, &obs)
	return e, obs.AIAnalysis, nil
}
