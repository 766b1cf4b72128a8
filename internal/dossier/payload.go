package dossier

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CurrentPayloadVersion is the shape every decoded payload is migrated to.
const CurrentPayloadVersion = 2

// Payload is the decrypted dossier content at CurrentPayloadVersion.
type Payload struct {
	Version     int         `json:"version"`
	ClientAlias string      `json:"client_alias"`
	Client      ClientInfo  `json:"client"`
	Screenings  []Screening `json:"screenings"`
	RiskLevel   string      `json:"risk_level,omitempty"`
	RedFlags    []string    `json:"red_flags,omitempty"`
	Narrative   string      `json:"narrative"`
	GeneratedAt *time.Time  `json:"generated_at,omitempty"`
}

// ClientInfo is the identifying part of a payload.
type ClientInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Screening is one validated instrument result.
type Screening struct {
	Instrument string `json:"instrument"`
	Score      int    `json:"score"`
	Severity   string `json:"severity,omitempty"`
}

// payloadV1 is the original flat layout, scores keyed by instrument.
type payloadV1 struct {
	Version     int            `json:"version"`
	ClientAlias string         `json:"client_alias"`
	ClientName  string         `json:"client_name"`
	ClientEmail string         `json:"client_email"`
	Scores      map[string]int `json:"scores"`
	Narrative   string         `json:"narrative"`
}

type versionTag struct {
	Version *int `json:"version"`
}

// DecodePayload decodes a plaintext payload and migrates it to the current version.
// Documents without a version tag are rejected rather than guessed.
func DecodePayload(raw []byte) (Payload, error) {
	var tag versionTag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return Payload{}, fmt.Errorf("decode payload version: %w", err)
	}
	if tag.Version == nil {
		return Payload{}, fmt.Errorf("%w: missing version", ErrUnsupportedPayloadVersion)
	}
	switch *tag.Version {
	case 1:
		var v1 payloadV1
		if err := json.Unmarshal(raw, &v1); err != nil {
			return Payload{}, fmt.Errorf("decode payload v1: %w", err)
		}
		return migrateV1toV2(v1), nil
	case 2:
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Payload{}, fmt.Errorf("decode payload v2: %w", err)
		}
		return p, nil
	default:
		return Payload{}, fmt.Errorf("%w: %d", ErrUnsupportedPayloadVersion, *tag.Version)
	}
}

// EncodePayload serialises p at the current version.
func EncodePayload(p Payload) ([]byte, error) {
	p.Version = CurrentPayloadVersion
	return json.Marshal(p)
}

func migrateV1toV2(v1 payloadV1) Payload {
	instruments := make([]string, 0, len(v1.Scores))
	for name := range v1.Scores {
		instruments = append(instruments, name)
	}
	sort.Strings(instruments)
	screenings := make([]Screening, 0, len(instruments))
	for _, name := range instruments {
		screenings = append(screenings, Screening{Instrument: name, Score: v1.Scores[name]})
	}
	return Payload{
		Version:     CurrentPayloadVersion,
		ClientAlias: v1.ClientAlias,
		Client:      ClientInfo{Name: v1.ClientName, Email: v1.ClientEmail},
		Screenings:  screenings,
		Narrative:   v1.Narrative,
	}
}

// Redact replaces identifying client fields with the alias.
func (p Payload) Redact() Payload {
	p.Client = ClientInfo{Name: p.ClientAlias}
	return p
}
