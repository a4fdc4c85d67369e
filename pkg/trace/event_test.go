package trace

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHashPayloadKeyOrderIndependent(t *testing.T) {
	a, err := HashPayload(json.RawMessage(`{"crop_type":"maize","seed_variety":"H614"}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashPayload(json.RawMessage(`{"seed_variety":"H614","crop_type":"maize"}`))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("hash depends on key order: %s vs %s", a, b)
	}
}

func TestHashPayloadEmpty(t *testing.T) {
	a, err := HashPayload(nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashPayload(json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("nil payload should hash like the empty object")
	}
}

func TestChainKey(t *testing.T) {
	e := &Event{NodeRef: "v1", FieldRef: "f1"}
	if e.ChainKey() != "vti:v1" {
		t.Fatalf("node ref should win: %s", e.ChainKey())
	}
	e = &Event{FieldRef: "f1"}
	if e.ChainKey() != "field:f1" {
		t.Fatalf("expected field chain: %s", e.ChainKey())
	}
}

func TestComputeEntryHashDeterministic(t *testing.T) {
	e := &Event{
		ID:          "e1",
		FieldRef:    "f1",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EventType:   EventPlanted,
		ActorRef:    "a1",
		PayloadHash: "sha256:abc",
		PrevHash:    ChainGenesis,
	}
	h1, err := ComputeEntryHash(e)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ComputeEntryHash(e)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("entry hash not deterministic")
	}

	e.PrevHash = "sha256:other"
	h3, err := ComputeEntryHash(e)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Fatal("prev hash change must change entry hash")
	}
}

func TestGeoLocationValidate(t *testing.T) {
	cases := []struct {
		geo GeoLocation
		ok  bool
	}{
		{GeoLocation{Lat: 0, Lng: 0}, true},
		{GeoLocation{Lat: -90, Lng: 180}, true},
		{GeoLocation{Lat: 91, Lng: 0}, false},
		{GeoLocation{Lat: 0, Lng: -181}, false},
	}
	for _, tc := range cases {
		err := tc.geo.Validate()
		if tc.ok && err != nil {
			t.Errorf("%+v: unexpected error %v", tc.geo, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%+v: expected error", tc.geo)
		}
	}
}
