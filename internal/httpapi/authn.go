package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sanamind.org/internal/auth"
	"sanamind.org/internal/dossier"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "session"
)

// withSession authenticates the request from a bearer header or the session
// cookie. Requests without a valid session never reach next.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.sessions == nil {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		token, err := sessionToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sanamind"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		actor, err := a.sessions.Parse(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sanamind", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid session")
			return
		}
		ctx := auth.ContextWithActor(r.Context(), actor)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects actors without one of roles. It must run inside withSession.
func RequireRole(roles ...dossier.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="sanamind"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="sanamind", error="insufficient_scope"`)
			writeError(w, r, http.StatusForbidden, "access denied")
		})
	}
}

func sessionToken(r *http.Request) (string, error) {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		return extractBearerToken(header)
	}
	if c, err := r.Cookie(sessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}
	return "", errors.New("authentication required")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
