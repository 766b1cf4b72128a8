// Package dossier implements controlled access to encrypted clinical
// assessment bundles: the authorization rules, retention expiry, the
// versioned payload and the orchestration of both delivery paths.
package dossier

import (
	"slices"
	"strings"
	"time"
)

// Role is the platform role of an actor.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleClient    Role = "CLIENT"
	RoleTherapist Role = "THERAPIST"
)

// ParseRole normalises a role string. Unknown roles yield "".
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleClient:
		return RoleClient
	case RoleTherapist:
		return RoleTherapist
	default:
		return ""
	}
}

// ProfileVerified is the only therapist profile status that can grant access.
const ProfileVerified = "VERIFIED"

// Dossier is an encrypted assessment bundle tied to one client and one triage session.
// Only RecommendedTherapistProfileIDs may change after creation.
type Dossier struct {
	ID                             string
	ClientID                       string
	TriageSessionID                string
	RecommendedTherapistProfileIDs []string
	RiskLevel                      string
	RedFlags                       []string
	Version                        int
	CreatedAt                      time.Time
	ExpiresAt                      time.Time
	EncryptedPayload               []byte
	EncryptionKeyID                string
}

// Expired reports whether the retention window has passed at now.
func (d *Dossier) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// Recommends reports whether profileID is listed on the dossier.
func (d *Dossier) Recommends(profileID string) bool {
	if profileID == "" {
		return false
	}
	return slices.Contains(d.RecommendedTherapistProfileIDs, profileID)
}

// Actor is the identity a request is evaluated for.
type Actor struct {
	ID    string
	Role  Role
	Email string
}

// TherapistProfile is the subset of a therapist profile needed for authorization.
type TherapistProfile struct {
	ID     string
	UserID string
	Status string
}

// Channel identifies the delivery path of a request.
type Channel string

const (
	ChannelSession        Channel = "session"
	ChannelCapabilityLink Channel = "capability_link"
)

// RequestContext carries transport details used for auditing.
type RequestContext struct {
	IP        string
	UserAgent string
	RequestID string
}
