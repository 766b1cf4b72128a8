package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sanamind.org/internal/auth"
	"sanamind.org/internal/dossier"
	"sanamind.org/internal/obs"
)

type shareRequest struct {
	TherapistUserID string `json:"therapist_user_id"`
	TTLHours        int    `json:"ttl_hours"`
}

type shareResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type artifactResponse struct {
	DossierID string `json:"dossier_id"`
	Variant   string `json:"variant"`
	Bytes     int    `json:"bytes"`
}

func (a *API) handleDossier(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	id := r.PathValue("id")
	rc := a.requestContext(r)

	switch format(r) {
	case "json":
		view, err := a.dossiers.FetchForActor(r.Context(), id, actor, rc)
		if err != nil {
			writeAccessError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, view)
	case "pdf":
		data, err := a.dossiers.ArtifactForActor(r.Context(), id, actor, rc)
		if err != nil {
			writeAccessError(w, r, err)
			return
		}
		writePDF(w, id, data)
	default:
		writeError(w, r, http.StatusBadRequest, "unsupported format")
	}
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "invalid or expired link")
		return
	}
	id := r.PathValue("id")
	rc := a.requestContext(r)

	switch format(r) {
	case "json":
		view, err := a.dossiers.FetchViaCapability(r.Context(), id, token, rc)
		if err != nil {
			writeAccessError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, view)
	case "pdf":
		data, err := a.dossiers.ArtifactViaCapability(r.Context(), id, token, rc)
		if err != nil {
			writeAccessError(w, r, err)
			return
		}
		writePDF(w, id, data)
	default:
		writeError(w, r, http.StatusBadRequest, "unsupported format")
	}
}

func (a *API) handleShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ttl := time.Duration(req.TTLHours) * time.Hour
	if req.TTLHours < 0 || ttl > maxShareTTL {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("ttl_hours must be between 0 and %d", int(maxShareTTL.Hours())))
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	link, err := a.dossiers.ShareWithTherapist(r.Context(), r.PathValue("id"), actor, req.TherapistUserID, ttl)
	if err != nil {
		writeAccessError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, shareResponse{URL: link.URL, ExpiresAt: link.ExpiresAt})
}

func (a *API) handleArtifact(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	id := r.PathValue("id")
	variant := dossier.Variant(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("variant"))))
	if variant == "" {
		variant = dossier.VariantFull
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, http.StatusRequestEntityTooLarge, "artifact too large")
				return
			}
			writeError(w, r, http.StatusBadRequest, "could not read body")
			return
		}
		if _, err := a.dossiers.PutArtifact(r.Context(), id, actor, variant, data); err != nil {
			writeAccessError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, artifactResponse{DossierID: id, Variant: string(variant), Bytes: len(data)})
	case http.MethodDelete:
		if err := a.dossiers.DeleteArtifact(r.Context(), id, actor, variant); err != nil {
			writeAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) requestContext(r *http.Request) dossier.RequestContext {
	return dossier.RequestContext{
		IP:        clientIP(r, a.trustForwarded),
		UserAgent: r.UserAgent(),
		RequestID: RequestIDFromContext(r.Context()),
	}
}

func format(r *http.Request) string {
	f := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if f == "" {
		return "json"
	}
	return f
}

func writePDF(w http.ResponseWriter, id string, data []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="dossier-%s.pdf"`, sanitizeFilename(id)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// writeAccessError maps the access error taxonomy onto status codes.
// Internal causes are logged and replaced with a generic message.
func writeAccessError(w http.ResponseWriter, r *http.Request, err error) {
	var expired *dossier.ExpiredError
	switch {
	case errors.As(err, &expired):
		writeErrorBody(w, r, http.StatusGone, map[string]any{
			"error":     "dossier expired",
			"code":      "DOSSIER_EXPIRED",
			"expiresAt": expired.ExpiresAt.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, dossier.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "dossier not found")
	case errors.Is(err, dossier.ErrArtifactNotFound):
		writeError(w, r, http.StatusNotFound, "artifact not found")
	case errors.Is(err, dossier.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired link")
	case errors.Is(err, dossier.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "access denied")
	case errors.Is(err, dossier.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, dossier.ErrDecryption):
		writeError(w, r, http.StatusInternalServerError, "dossier could not be read")
	default:
		obs.Logger().Error("dossier request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
