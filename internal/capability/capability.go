// Package capability mints and verifies signed, purpose-tagged, time-limited
// bearer links for dossier access. Tokens are stateless: nothing is stored
// server-side and expiry is the only revocation mechanism.
package capability

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sanamind.org/internal/obs"
)

const (
	// PurposeDossierAccess is the only purpose this service accepts.
	PurposeDossierAccess = "dossier_access"

	DefaultTTL    = 72 * time.Hour
	defaultIssuer = "sanamind"
	minSecretLen  = 32
)

var (
	ErrInvalidInput   = errors.New("capability: invalid input")
	errWrongPurpose   = errors.New("capability: wrong purpose")
	errMissingSubject = errors.New("capability: missing dossier or grantee")
)

// Claims are the signed contents of a capability token.
type Claims struct {
	DossierID string `json:"dossier_id"`
	GranteeID string `json:"grantee_id"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// Grant is what a verified token establishes: an identity for one dossier.
type Grant struct {
	DossierID string
	GranteeID string
}

// Link is a minted bearer URL.
type Link struct {
	URL       string
	Token     string
	ExpiresAt time.Time
}

// Service mints and verifies capability tokens with an injected HMAC secret.
type Service struct {
	secret     []byte
	baseURL    string
	issuer     string
	defaultTTL time.Duration
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (tests, simulated expiry).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithDefaultTTL changes the lifetime used when Mint is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// NewService constructs a Service. secret must be at least 32 bytes; baseURL is
// the public origin links are built against.
func NewService(secret []byte, baseURL string, opts ...Option) (*Service, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrInvalidInput, minSecretLen)
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidInput, baseURL)
	}
	s := &Service{
		secret:     append([]byte(nil), secret...),
		baseURL:    strings.TrimRight(base.String(), "/"),
		issuer:     defaultIssuer,
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mint signs a dossier_access token for granteeID and returns the bearer URL.
func (s *Service) Mint(dossierID, granteeID string, ttl time.Duration) (Link, error) {
	dossierID = strings.TrimSpace(dossierID)
	granteeID = strings.TrimSpace(granteeID)
	if dossierID == "" || granteeID == "" {
		return Link{}, fmt.Errorf("%w: dossier and grantee are required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	token, exp, err := s.sign(dossierID, granteeID, PurposeDossierAccess, ttl)
	if err != nil {
		return Link{}, err
	}
	obs.TokensMinted.Inc()
	return Link{
		URL:       s.linkFor(dossierID, token),
		Token:     token,
		ExpiresAt: exp,
	}, nil
}

// Verify checks signature, purpose and expiry. Every failure yields the same
// (Grant{}, false) so callers cannot tell a tampered token from an expired one.
func (s *Service) Verify(token string) (Grant, bool) {
	claims, err := s.parse(token)
	if err != nil {
		obs.TokenRejections.Inc()
		return Grant{}, false
	}
	return Grant{DossierID: claims.DossierID, GranteeID: claims.GranteeID}, true
}

func (s *Service) sign(dossierID, granteeID, purpose string, ttl time.Duration) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		DossierID: dossierID,
		GranteeID: granteeID,
		Purpose:   purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign capability token: %w", err)
	}
	// exp is encoded with second precision
	return signed, claims.ExpiresAt.Time, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, jwt.ErrTokenMalformed
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithStrictDecoding(),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Purpose != PurposeDossierAccess {
		return nil, errWrongPurpose
	}
	if strings.TrimSpace(claims.DossierID) == "" || strings.TrimSpace(claims.GranteeID) == "" {
		return nil, errMissingSubject
	}
	return claims, nil
}

func (s *Service) linkFor(dossierID, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return s.baseURL + "/dossiers/" + url.PathEscape(dossierID) + "/download?" + q.Encode()
}
