package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/abrezinsky/eventxp/internal/models"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		admin  string
		want   models.Actor
	}{
		{name: "anonymous", want: models.Actor{}},
		{name: "user", userID: "alice", want: models.Actor{UserID: "alice"}},
		{name: "admin", userID: "root", admin: "true", want: models.Actor{UserID: "root", Admin: true}},
		{name: "admin flag numeric", userID: "root", admin: "1", want: models.Actor{UserID: "root", Admin: true}},
		{name: "garbage admin flag", userID: "bob", admin: "yes please", want: models.Actor{UserID: "bob"}},
		{name: "admin without user", admin: "true", want: models.Actor{}},
		{name: "whitespace user", userID: "  carol ", want: models.Actor{UserID: "carol"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.userID != "" {
				req.Header.Set(HeaderUserID, tt.userID)
			}
			if tt.admin != "" {
				req.Header.Set(HeaderAdmin, tt.admin)
			}
			if got := FromRequest(req); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestActorFrom_EmptyContext(t *testing.T) {
	if _, ok := ActorFrom(context.Background()); ok {
		t.Error("expected no actor in empty context")
	}

	ctx := WithActor(context.Background(), models.Actor{UserID: "alice"})
	actor, ok := ActorFrom(ctx)
	if !ok || actor.UserID != "alice" {
		t.Errorf("expected alice, got %+v", actor)
	}
}

func TestIdentity_StoresActor(t *testing.T) {
	var seen models.Actor
	handler := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "alice")
	req.Header.Set(HeaderAdmin, "true")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen.UserID != "alice" || !seen.Admin {
		t.Errorf("expected admin alice, got %+v", seen)
	}
}

func TestRequireUser(t *testing.T) {
	called := false
	handler := Identity(RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if called {
		t.Error("expected handler not to be called without a user")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "UNAUTHORIZED") {
		t.Errorf("expected UNAUTHORIZED code, got %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderUserID, "bob")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called || w.Code != http.StatusOK {
		t.Errorf("expected handler to run, got status %d", w.Code)
	}
}
