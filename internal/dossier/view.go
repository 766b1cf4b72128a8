package dossier

import "time"

// View is what a successful fetch returns: dossier metadata plus the
// decrypted payload, alias-redacted when the decision requires it.
type View struct {
	ID              string       `json:"id"`
	TriageSessionID string       `json:"triage_session_id"`
	RiskLevel       string       `json:"risk_level"`
	RedFlags        []string     `json:"red_flags"`
	Version         int          `json:"version"`
	CreatedAt       time.Time    `json:"created_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
	Payload         Payload      `json:"payload"`
	Metadata        ViewMetadata `json:"metadata"`
}

// ViewMetadata describes how the view was produced.
type ViewMetadata struct {
	Channel        Channel   `json:"channel"`
	Redacted       bool      `json:"redacted"`
	PayloadVersion int       `json:"payload_version"`
	AccessedAt     time.Time `json:"accessed_at"`
}

func buildView(d *Dossier, p Payload, dec Decision, channel Channel, now time.Time) View {
	if dec.Redacted {
		p = p.Redact()
	}
	redFlags := d.RedFlags
	if redFlags == nil {
		redFlags = []string{}
	}
	return View{
		ID:              d.ID,
		TriageSessionID: d.TriageSessionID,
		RiskLevel:       d.RiskLevel,
		RedFlags:        redFlags,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
		Payload:         p,
		Metadata: ViewMetadata{
			Channel:        channel,
			Redacted:       dec.Redacted,
			PayloadVersion: p.Version,
			AccessedAt:     now.UTC(),
		},
	}
}
