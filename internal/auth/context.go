package auth

import (
	"context"

	"sanamind.org/internal/dossier"
)

type actorContextKey struct{}
type tokenContextKey struct{}

// ContextWithActor attaches the authenticated actor to the context.
func ContextWithActor(ctx context.Context, actor dossier.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, &actor)
}

// ActorFromContext extracts the authenticated actor from the context.
func ActorFromContext(ctx context.Context) (dossier.Actor, bool) {
	if ctx == nil {
		return dossier.Actor{}, false
	}
	v, ok := ctx.Value(actorContextKey{}).(*dossier.Actor)
	if !ok || v == nil {
		return dossier.Actor{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw session token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the session token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
