// Package auth carries the caller identity asserted by the trusted gateway.
// Nothing here verifies credentials; the gateway is responsible for that.
package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/abrezinsky/eventxp/internal/models"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderAdmin  = "X-User-Admin"
)

type actorKey struct{}

// WithActor returns a copy of ctx carrying actor
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the caller stored in ctx. ok is false for anonymous callers.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, _ := ctx.Value(actorKey{}).(models.Actor)
	return actor, actor.UserID != ""
}

// FromRequest reads the gateway identity headers
func FromRequest(r *http.Request) models.Actor {
	actor := models.Actor{UserID: strings.TrimSpace(r.Header.Get(HeaderUserID))}
	if actor.UserID == "" {
		return actor
	}
	admin, err := strconv.ParseBool(r.Header.Get(HeaderAdmin))
	actor.Admin = err == nil && admin
	return actor
}

// Identity stores the asserted caller on the request context
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), FromRequest(r))))
	})
}

// RequireUser middleware for API endpoints that act on behalf of a user (returns 401)
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorFrom(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"UNAUTHORIZED","error":"Unauthorized - missing ` + HeaderUserID + ` header"}`))
	})
}
