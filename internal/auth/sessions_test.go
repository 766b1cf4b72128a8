package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"sanamind.org/internal/dossier"
)

var testSecret = []byte("session-secret-session-secret-32")

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	s, err := NewSessions(testSecret, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	token, exp, err := s.Issue(dossier.Actor{ID: "user-42", Role: dossier.RoleTherapist, Email: "t@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", exp)
	}
	actor, err := s.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if actor.ID != "user-42" || actor.Role != dossier.RoleTherapist || actor.Email != "t@example.com" {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	now = now.Add(2 * time.Hour)
	if _, err := s.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestParseRejectsForeignTokens(t *testing.T) {
	a, _ := NewSessions(testSecret)
	b, _ := NewSessions([]byte("another-secret-another-secret-32"))
	c, _ := NewSessions(testSecret, WithIssuer("someone-else"))

	token, _, err := b.Issue(dossier.Actor{ID: "u", Role: dossier.RoleAdmin}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := a.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret accepted: %v", err)
	}
	token, _, _ = c.Issue(dossier.Actor{ID: "u", Role: dossier.RoleAdmin}, 0)
	if _, err := a.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign issuer accepted: %v", err)
	}
	if _, err := a.Parse(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token accepted: %v", err)
	}
}

func TestNewSessionsValidation(t *testing.T) {
	if _, err := NewSessions([]byte("short")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	s, _ := NewSessions(testSecret)
	if _, _, err := s.Issue(dossier.Actor{ID: "u"}, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("roleless actor must not get a session, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatalf("unexpected actor in empty context")
	}
	ctx = ContextWithActor(ctx, dossier.Actor{ID: "user-7", Role: dossier.RoleClient})
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID != "user-7" || actor.Role != dossier.RoleClient {
		t.Fatalf("unexpected actor: %+v, ok=%v", actor, ok)
	}
	ctx = ContextWithToken(ctx, "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token: %q", tok)
	}
}
