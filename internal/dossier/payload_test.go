package dossier

import (
	"errors"
	"testing"
)

func TestDecodePayloadVersions(t *testing.T) {
	v2 := []byte(`{"version":2,"client_alias":"A-1","client":{"name":"N","email":"e@x"},"screenings":[{"instrument":"PHQ-9","score":3}],"narrative":"n"}`)
	p, err := DecodePayload(v2)
	if err != nil {
		t.Fatalf("decode v2: %v", err)
	}
	if p.Client.Email != "e@x" || len(p.Screenings) != 1 {
		t.Fatalf("unexpected v2 payload: %+v", p)
	}

	v1 := []byte(`{"version":1,"client_alias":"A-1","client_name":"N","client_email":"e@x","scores":{"b":2,"a":1}}`)
	p, err = DecodePayload(v1)
	if err != nil {
		t.Fatalf("decode v1: %v", err)
	}
	if p.Version != CurrentPayloadVersion || p.Client.Name != "N" {
		t.Fatalf("v1 not migrated: %+v", p)
	}
	if p.Screenings[0].Instrument != "a" || p.Screenings[1].Score != 2 {
		t.Fatalf("screenings not ordered: %+v", p.Screenings)
	}
}

func TestDecodePayloadRejectsUnknownShapes(t *testing.T) {
	for _, raw := range []string{`{"version":9}`, `{"client_alias":"x"}`, `not json`} {
		if _, err := DecodePayload([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
	_, err := DecodePayload([]byte(`{"version":3}`))
	if !errors.Is(err, ErrUnsupportedPayloadVersion) {
		t.Fatalf("expected ErrUnsupportedPayloadVersion, got %v", err)
	}
}

func TestRedactKeepsClinicalContent(t *testing.T) {
	p := Payload{ClientAlias: "A-1", Client: ClientInfo{Name: "N", Email: "e@x"}, Narrative: "n"}
	r := p.Redact()
	if r.Client.Name != "A-1" || r.Client.Email != "" || r.Narrative != "n" {
		t.Fatalf("unexpected redaction: %+v", r)
	}
	if p.Client.Email != "e@x" {
		t.Fatalf("redaction mutated the original")
	}
}
