// Package auth issues and validates session tokens for logged-in users.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sanamind.org/internal/dossier"
)

const (
	defaultIssuer     = "sanamind-session"
	defaultSessionTTL = 12 * time.Hour
	minSecretLen      = 32
)

// Claims represents the session JWT claims.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Sessions signs and parses HS256 session tokens. The key is injected and
// never read from the environment.
type Sessions struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures Sessions.
type Option func(*Sessions)

// WithIssuer overrides the issuer claim.
func WithIssuer(iss string) Option {
	return func(s *Sessions) {
		if iss = strings.TrimSpace(iss); iss != "" {
			s.issuer = iss
		}
	}
}

// WithTTL overrides the default session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Sessions) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessions constructs a session issuer.
func NewSessions(secret []byte, opts ...Option) (*Sessions, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%w: session secret must be at least %d bytes", ErrInvalidInput, minSecretLen)
	}
	s := &Sessions{
		secret: append([]byte(nil), secret...),
		issuer: defaultIssuer,
		ttl:    defaultSessionTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a session token for actor. ttl <= 0 uses the configured default.
func (s *Sessions) Issue(actor dossier.Actor, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}
	if actor.Role == "" {
		return "", time.Time{}, fmt.Errorf("%w: actor role is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role:  string(actor.Role),
		Email: actor.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates a session token and returns the actor it names.
func (s *Sessions) Parse(token string) (dossier.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return dossier.Actor{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	var claims Claims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return dossier.Actor{}, errors.Join(ErrInvalidToken, err)
	}
	role := dossier.ParseRole(claims.Role)
	if claims.Subject == "" || role == "" {
		return dossier.Actor{}, ErrInvalidToken
	}
	return dossier.Actor{ID: claims.Subject, Role: role, Email: claims.Email}, nil
}
