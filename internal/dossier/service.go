package dossier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sanamind.org/internal/audit"
	"sanamind.org/internal/capability"
	"sanamind.org/internal/obs"
)

// Repository loads the records access decisions depend on. Lookups of
// missing records return ErrNotFound.
type Repository interface {
	FindDossier(ctx context.Context, id string) (*Dossier, error)
	FindUser(ctx context.Context, id string) (*Actor, error)
	FindTherapistProfileByUser(ctx context.Context, userID string) (*TherapistProfile, error)
}

// Cipher decrypts payloads by opaque key id.
type Cipher interface {
	Decrypt(ciphertext []byte, keyID string) ([]byte, error)
}

// Recorder receives exactly one event per terminal access branch.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// Tokens mints and verifies capability links.
type Tokens interface {
	Mint(dossierID, granteeID string, ttl time.Duration) (capability.Link, error)
	Verify(token string) (capability.Grant, bool)
}

// Artifacts stores rendered dossier documents.
type Artifacts interface {
	Store(ctx context.Context, id string, data []byte) (string, error)
	Retrieve(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// Variant selects which rendition of an artifact is addressed.
type Variant string

const (
	VariantFull     Variant = "full"
	VariantRedacted Variant = "redacted"
)

// Service orchestrates dossier delivery for both session and capability-link requests.
type Service struct {
	repo      Repository
	cipher    Cipher
	recorder  Recorder
	tokens    Tokens
	artifacts Artifacts
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source used for retention checks.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokens enables the capability-link path and link sharing.
func WithTokens(t Tokens) Option {
	return func(s *Service) { s.tokens = t }
}

// WithArtifacts enables rendered-artifact delivery.
func WithArtifacts(a Artifacts) Option {
	return func(s *Service) { s.artifacts = a }
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the orchestrator.
func NewService(repo Repository, c Cipher, rec Recorder, opts ...Option) (*Service, error) {
	if repo == nil || c == nil || rec == nil {
		return nil, errors.New("dossier: repository, cipher and recorder are required")
	}
	s := &Service{repo: repo, cipher: c, recorder: rec, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchForActor returns the dossier view for a session-authenticated actor.
func (s *Service) FetchForActor(ctx context.Context, dossierID string, actor Actor, req RequestContext) (View, error) {
	d, err := s.load(ctx, dossierID)
	if err != nil {
		return View{}, err
	}
	return s.deliver(ctx, d, actor, ChannelSession, req)
}

// FetchViaCapability returns the dossier view for a bearer link. The token only
// establishes identity: the grantee is re-authorized against current state.
func (s *Service) FetchViaCapability(ctx context.Context, dossierID, token string, req RequestContext) (View, error) {
	grant, err := s.verifyLink(dossierID, token)
	if err != nil {
		return View{}, err
	}
	d, err := s.load(ctx, grant.DossierID)
	if err != nil {
		return View{}, err
	}
	actor, err := s.linkActor(ctx, d, grant, req)
	if err != nil {
		return View{}, err
	}
	return s.deliver(ctx, d, actor, ChannelCapabilityLink, req)
}

// ArtifactForActor returns the rendered document for a session actor.
func (s *Service) ArtifactForActor(ctx context.Context, dossierID string, actor Actor, req RequestContext) ([]byte, error) {
	d, err := s.load(ctx, dossierID)
	if err != nil {
		return nil, err
	}
	return s.artifact(ctx, d, actor, ChannelSession, req)
}

// ArtifactViaCapability returns the rendered document for a bearer link.
func (s *Service) ArtifactViaCapability(ctx context.Context, dossierID, token string, req RequestContext) ([]byte, error) {
	grant, err := s.verifyLink(dossierID, token)
	if err != nil {
		return nil, err
	}
	d, err := s.load(ctx, grant.DossierID)
	if err != nil {
		return nil, err
	}
	actor, err := s.linkActor(ctx, d, grant, req)
	if err != nil {
		return nil, err
	}
	return s.artifact(ctx, d, actor, ChannelCapabilityLink, req)
}

// ShareWithTherapist mints a capability link for a therapist who is currently a
// verified recommendation. Only administrators and the owning client may share.
func (s *Service) ShareWithTherapist(ctx context.Context, dossierID string, actor Actor, therapistUserID string, ttl time.Duration) (capability.Link, error) {
	if s.tokens == nil {
		return capability.Link{}, errors.New("dossier: capability links are not configured")
	}
	therapistUserID = strings.TrimSpace(therapistUserID)
	if therapistUserID == "" {
		return capability.Link{}, fmt.Errorf("%w: therapist_user_id is required", ErrInvalidInput)
	}
	d, err := s.load(ctx, dossierID)
	if err != nil {
		return capability.Link{}, err
	}
	if d.Expired(s.now()) {
		return capability.Link{}, &ExpiredError{ExpiresAt: d.ExpiresAt}
	}
	if dec := Resolve(actor, d, false); !dec.Allowed() || dec.Redacted {
		return capability.Link{}, ErrForbidden
	}
	grantee, err := s.grantee(ctx, therapistUserID)
	if err != nil {
		return capability.Link{}, err
	}
	verified, err := s.therapistFact(ctx, grantee, d)
	if err != nil {
		return capability.Link{}, err
	}
	if grantee.Role != RoleTherapist || !verified {
		return capability.Link{}, fmt.Errorf("%w: grantee is not a verified recommended therapist", ErrInvalidInput)
	}
	link, err := s.tokens.Mint(d.ID, grantee.ID, ttl)
	if err != nil {
		return capability.Link{}, err
	}
	_ = audit.LogEvent(ctx, "capability.link.minted", map[string]any{
		"dossier_id": d.ID,
		"grantee_id": grantee.ID,
		"minted_by":  actor.ID,
		"expires_at": link.ExpiresAt.UTC().Format(time.RFC3339),
	})
	return link, nil
}

// PutArtifact stores a rendered document. Administrators only.
func (s *Service) PutArtifact(ctx context.Context, dossierID string, actor Actor, variant Variant, data []byte) (string, error) {
	key, err := s.artifactAdmin(ctx, dossierID, actor, variant)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty artifact", ErrInvalidInput)
	}
	locator, err := s.artifacts.Store(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	_ = audit.LogEvent(ctx, "dossier.artifact.stored", map[string]any{
		"dossier_id": dossierID,
		"variant":    string(variant),
		"bytes":      len(data),
		"actor_id":   actor.ID,
	})
	return locator, nil
}

// DeleteArtifact removes a rendered document. Administrators only.
func (s *Service) DeleteArtifact(ctx context.Context, dossierID string, actor Actor, variant Variant) error {
	key, err := s.artifactAdmin(ctx, dossierID, actor, variant)
	if err != nil {
		return err
	}
	if err := s.artifacts.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	_ = audit.LogEvent(ctx, "dossier.artifact.deleted", map[string]any{
		"dossier_id": dossierID,
		"variant":    string(variant),
		"actor_id":   actor.ID,
	})
	return nil
}

func (s *Service) artifactAdmin(ctx context.Context, dossierID string, actor Actor, variant Variant) (string, error) {
	if s.artifacts == nil {
		return "", errors.New("dossier: artifact storage is not configured")
	}
	if actor.Role != RoleAdmin || actor.ID == "" {
		return "", ErrForbidden
	}
	if variant != VariantFull && variant != VariantRedacted {
		return "", fmt.Errorf("%w: unknown variant %q", ErrInvalidInput, variant)
	}
	d, err := s.load(ctx, dossierID)
	if err != nil {
		return "", err
	}
	return artifactKey(d.ID, variant == VariantRedacted), nil
}

// authorize runs the shared pipeline up to the access decision. Expired and
// denied outcomes are recorded here; allowed outcomes are recorded by the caller
// once delivery has succeeded or failed.
func (s *Service) authorize(ctx context.Context, d *Dossier, actor Actor, channel Channel, req RequestContext) (Decision, error) {
	if d.Expired(s.now()) {
		s.record(ctx, d, actor, channel, req, audit.StatusExpired, "retention expired")
		return Decision{Outcome: Expired, Reason: "retention expired"}, &ExpiredError{ExpiresAt: d.ExpiresAt}
	}
	verified, err := s.therapistFact(ctx, actor, d)
	if err != nil {
		s.record(ctx, d, actor, channel, req, audit.StatusError, "therapist profile lookup failed")
		return Decision{}, err
	}
	dec := Resolve(actor, d, verified)
	if !dec.Allowed() {
		s.record(ctx, d, actor, channel, req, audit.StatusDenied, dec.Reason)
		return dec, ErrForbidden
	}
	return dec, nil
}

func (s *Service) deliver(ctx context.Context, d *Dossier, actor Actor, channel Channel, req RequestContext) (View, error) {
	dec, err := s.authorize(ctx, d, actor, channel, req)
	if err != nil {
		return View{}, err
	}
	plaintext, err := s.cipher.Decrypt(d.EncryptedPayload, d.EncryptionKeyID)
	if err != nil {
		s.log().Error("dossier payload decryption failed",
			zap.String("dossier_id", d.ID),
			zap.String("key_id", d.EncryptionKeyID),
			zap.Error(err),
		)
		s.record(ctx, d, actor, channel, req, audit.StatusError, "decryption failed")
		return View{}, ErrDecryption
	}
	payload, err := DecodePayload(plaintext)
	if err != nil {
		s.log().Error("dossier payload decode failed", zap.String("dossier_id", d.ID), zap.Error(err))
		s.record(ctx, d, actor, channel, req, audit.StatusError, "payload decode failed")
		return View{}, ErrDecryption
	}
	s.record(ctx, d, actor, channel, req, audit.StatusSuccess, dec.Reason)
	return buildView(d, payload, dec, channel, s.now()), nil
}

func (s *Service) artifact(ctx context.Context, d *Dossier, actor Actor, channel Channel, req RequestContext) ([]byte, error) {
	if s.artifacts == nil {
		return nil, ErrArtifactNotFound
	}
	dec, err := s.authorize(ctx, d, actor, channel, req)
	if err != nil {
		return nil, err
	}
	data, err := s.artifacts.Retrieve(ctx, artifactKey(d.ID, dec.Redacted))
	if err != nil {
		s.log().Error("artifact retrieval failed", zap.String("dossier_id", d.ID), zap.Error(err))
		s.record(ctx, d, actor, channel, req, audit.StatusError, "artifact retrieval failed")
		return nil, fmt.Errorf("retrieve artifact: %w", err)
	}
	if data == nil {
		s.record(ctx, d, actor, channel, req, audit.StatusError, "artifact not rendered")
		return nil, ErrArtifactNotFound
	}
	s.record(ctx, d, actor, channel, req, audit.StatusSuccess, dec.Reason)
	return data, nil
}

func (s *Service) verifyLink(dossierID, token string) (capability.Grant, error) {
	if s.tokens == nil {
		return capability.Grant{}, ErrUnauthenticated
	}
	grant, ok := s.tokens.Verify(token)
	if !ok || grant.DossierID != dossierID {
		return capability.Grant{}, ErrUnauthenticated
	}
	return grant, nil
}

func (s *Service) load(ctx context.Context, id string) (*Dossier, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	d, err := s.repo.FindDossier(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load dossier: %w", err)
	}
	return d, nil
}

// linkActor resolves the grantee of a verified link. Expiry is checked first so
// an expired dossier is recorded as EXPIRED whatever the state of the grantee.
func (s *Service) linkActor(ctx context.Context, d *Dossier, grant capability.Grant, req RequestContext) (Actor, error) {
	if d.Expired(s.now()) {
		s.record(ctx, d, Actor{ID: grant.GranteeID}, ChannelCapabilityLink, req, audit.StatusExpired, "retention expired")
		return Actor{}, &ExpiredError{ExpiresAt: d.ExpiresAt}
	}
	actor, err := s.grantee(ctx, grant.GranteeID)
	if err != nil {
		s.record(ctx, d, Actor{ID: grant.GranteeID}, ChannelCapabilityLink, req, audit.StatusError, "grantee lookup failed")
		return Actor{}, err
	}
	return actor, nil
}

// grantee resolves a user id into an actor. Unknown users become an actor
// without a role, which the resolver denies.
func (s *Service) grantee(ctx context.Context, userID string) (Actor, error) {
	u, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Actor{ID: userID}, nil
		}
		return Actor{}, fmt.Errorf("load grantee: %w", err)
	}
	return *u, nil
}

func (s *Service) therapistFact(ctx context.Context, actor Actor, d *Dossier) (bool, error) {
	if actor.Role != RoleTherapist || actor.ID == "" {
		return false, nil
	}
	profile, err := s.repo.FindTherapistProfileByUser(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load therapist profile: %w", err)
	}
	return VerifiedRecommendation(profile, d), nil
}

func (s *Service) record(ctx context.Context, d *Dossier, actor Actor, channel Channel, req RequestContext, status audit.Status, reason string) {
	obs.AccessDecisions.WithLabelValues(string(channel), string(status)).Inc()
	s.recorder.Record(ctx, audit.Event{
		DossierID:   d.ID,
		RequesterID: actor.ID,
		Channel:     string(channel),
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		Status:      status,
		Reason:      reason,
		RequestID:   req.RequestID,
		OccurredAt:  s.now(),
	})
}

func (s *Service) log() *zap.Logger {
	if s.logger != nil {
		return s.logger
	}
	return obs.Logger()
}

func artifactKey(dossierID string, redacted bool) string {
	if redacted {
		return dossierID + ".redacted"
	}
	return dossierID
}
