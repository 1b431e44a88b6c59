package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenAuthenticator(t *testing.T) {
	a := NewTokenAuthenticator().
		AddToken("admin-token", Subject{Name: "admin", Permissions: []string{PermissionRead, PermissionWrite}}).
		AddToken("viewer-token", Subject{Name: "viewer", Permissions: []string{PermissionRead}}).
		AddToken("  ", Subject{Name: "ignored"})

	if !a.Enabled() {
		t.Fatalf("expected authenticator to be enabled")
	}
	subject, err := a.AuthenticateRequest("Bearer viewer-token")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Name != "viewer" {
		t.Fatalf("unexpected subject: %q", subject.Name)
	}
	if err := subject.Authorize(PermissionWrite); err == nil {
		t.Fatalf("viewer must not write")
	}
	if _, err := a.AuthenticateRequest(""); err != ErrMissingToken {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := a.AuthenticateRequest("Basic abc"); err != ErrInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := a.AuthenticateRequest("Bearer nope"); err != ErrInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	a := NewTokenAuthenticator().
		AddToken("viewer-token", Subject{Name: "viewer", Permissions: []string{PermissionRead}})
	var seen *Subject
	handler := a.Middleware(MiddlewareConfig{RequiredPermissions: DefaultPermissions})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = SubjectFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	cases := []struct {
		method string
		token  string
		want   int
	}{
		{http.MethodGet, "", http.StatusUnauthorized},
		{http.MethodGet, "Bearer wrong", http.StatusUnauthorized},
		{http.MethodPost, "Bearer viewer-token", http.StatusForbidden},
		{http.MethodGet, "Bearer viewer-token", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/api/v1/jobs", nil)
		if tc.token != "" {
			req.Header.Set("Authorization", tc.token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %q: got %d want %d", tc.method, tc.token, rec.Code, tc.want)
		}
	}
	if seen == nil || seen.Name != "viewer" {
		t.Fatalf("subject not propagated: %+v", seen)
	}

	open := NewTokenAuthenticator().Middleware(MiddlewareConfig{})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disabled auth should pass through, got %d", rec.Code)
	}
}
