package dossier

// Outcome is the result class of an access decision.
type Outcome string

const (
	Allow   Outcome = "ALLOW"
	Deny    Outcome = "DENY"
	Expired Outcome = "EXPIRED"
)

// Decision is the resolver's verdict. Redacted is only meaningful for Allow.
type Decision struct {
	Outcome  Outcome
	Reason   string
	Redacted bool
}

// Allowed reports whether the decision grants access.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

// Resolve maps an actor and a dossier to a decision. It performs no I/O:
// verifiedRecommended must be computed by the caller (see VerifiedRecommendation).
// Retention expiry is not considered here; callers check it first.
func Resolve(actor Actor, d *Dossier, verifiedRecommended bool) Decision {
	if d == nil || actor.ID == "" {
		return Decision{Outcome: Deny, Reason: "no identity"}
	}
	switch actor.Role {
	case RoleAdmin:
		return Decision{Outcome: Allow, Reason: "administrator"}
	case RoleClient:
		if actor.ID == d.ClientID {
			return Decision{Outcome: Allow, Reason: "owning client"}
		}
		return Decision{Outcome: Deny, Reason: "client does not own dossier"}
	case RoleTherapist:
		if verifiedRecommended {
			return Decision{Outcome: Allow, Reason: "verified recommended therapist", Redacted: true}
		}
		return Decision{Outcome: Deny, Reason: "therapist is not a verified recommendation"}
	default:
		return Decision{Outcome: Deny, Reason: "role not entitled"}
	}
}

// VerifiedRecommendation derives the therapist fact Resolve consumes: the
// profile must be VERIFIED and listed on the dossier. Listing alone is not enough.
func VerifiedRecommendation(profile *TherapistProfile, d *Dossier) bool {
	if profile == nil || d == nil {
		return false
	}
	return profile.Status == ProfileVerified && d.Recommends(profile.ID)
}
