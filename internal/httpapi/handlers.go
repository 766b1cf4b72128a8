package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sanamind.org/internal/capability"
	"sanamind.org/internal/dossier"
	"sanamind.org/internal/obs"
)

// ReadyProbe reports readiness; a nil DB is always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// DossierService is the access orchestrator the handlers delegate to.
type DossierService interface {
	FetchForActor(ctx context.Context, dossierID string, actor dossier.Actor, req dossier.RequestContext) (dossier.View, error)
	FetchViaCapability(ctx context.Context, dossierID, token string, req dossier.RequestContext) (dossier.View, error)
	ArtifactForActor(ctx context.Context, dossierID string, actor dossier.Actor, req dossier.RequestContext) ([]byte, error)
	ArtifactViaCapability(ctx context.Context, dossierID, token string, req dossier.RequestContext) ([]byte, error)
	ShareWithTherapist(ctx context.Context, dossierID string, actor dossier.Actor, therapistUserID string, ttl time.Duration) (capability.Link, error)
	PutArtifact(ctx context.Context, dossierID string, actor dossier.Actor, variant dossier.Variant, data []byte) (string, error)
	DeleteArtifact(ctx context.Context, dossierID string, actor dossier.Actor, variant dossier.Variant) error
}

// SessionParser turns a session token into an actor.
type SessionParser interface {
	Parse(token string) (dossier.Actor, error)
}

// Options wires the API.
type Options struct {
	Version           string
	Ready             ReadyProbe
	Dossiers          DossierService
	Sessions          SessionParser
	AllowedOrigins    []string
	DownloadBurst     int
	DownloadRate      float64
	MaxArtifactBytes  int64
	TrustForwardedFor bool
}

// API is the HTTP layer.
type API struct {
	mux              *http.ServeMux
	readyProbe       ReadyProbe
	version          string
	dossiers         DossierService
	sessions         SessionParser
	origins          []string
	rateBurst        int
	ratePerSec       float64
	maxArtifactBytes int64
	trustForwarded   bool
}

const (
	defaultDownloadBurst    = 10
	defaultDownloadRate     = 2
	defaultMaxArtifactBytes = 20 << 20
	maxShareTTL             = 30 * 24 * time.Hour
)

func New(opts Options) *API {
	a := &API{
		mux:              http.NewServeMux(),
		readyProbe:       opts.Ready,
		version:          opts.Version,
		dossiers:         opts.Dossiers,
		sessions:         opts.Sessions,
		origins:          opts.AllowedOrigins,
		rateBurst:        opts.DownloadBurst,
		ratePerSec:       opts.DownloadRate,
		maxArtifactBytes: opts.MaxArtifactBytes,
		trustForwarded:   opts.TrustForwardedFor,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = defaultDownloadBurst
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = defaultDownloadRate
	}
	if a.maxArtifactBytes <= 0 {
		a.maxArtifactBytes = defaultMaxArtifactBytes
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/dossiers/{id}", a.withSession(http.HandlerFunc(a.handleDossier)))
	a.mux.Handle("/dossiers/{id}/share", a.withSession(http.HandlerFunc(a.handleShare)))
	a.mux.Handle("/dossiers/{id}/artifact", a.withSession(RequireRole(dossier.RoleAdmin)(
		MaxBodyBytes(http.HandlerFunc(a.handleArtifact), a.maxArtifactBytes))))
	// The bearer link path is unauthenticated, so it is the one worth throttling.
	a.mux.Handle("/dossiers/{id}/download", rateLimit(http.HandlerFunc(a.handleDownload), a.rateBurst, a.ratePerSec, a.trustForwarded))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sanamind-dossier",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.Logger().Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sanamind-dossier",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	payload["success"] = false
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
