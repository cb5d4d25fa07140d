package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
)

const policy = `
package fleetops.authz

default allow = false

allow = {"scopes": ["fleet.read"]} {
	input.token == "viewer"
}

allow = {"scopes": ["fleet.read", "fleet.write", "billing.read", "billing.write"]} {
	input.token == "operator"
}
`

func TestRequireAccess(t *testing.T) {
	is := is.New(t)

	a, err := NewAuthenticator(context.Background(), strings.NewReader(policy))
	is.NoErr(err)

	var granted []Scope
	handler := a.RequireAccess(FleetWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		granted = GetScopesFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	is.Equal(serve(handler, ""), http.StatusUnauthorized)
	is.Equal(serve(handler, "stranger"), http.StatusUnauthorized)
	is.Equal(serve(handler, "viewer"), http.StatusForbidden)
	is.Equal(serve(handler, "operator"), http.StatusOK)
	is.Equal(len(granted), 4)
}

func TestOpenAuthenticatorLetsEverythingThrough(t *testing.T) {
	is := is.New(t)

	handler := NewOpenAuthenticator().RequireAccess(BillingWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	is.Equal(serve(handler, ""), http.StatusOK)
}

func serve(h http.Handler, token string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/v0/devices/R-1/acknowledge", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec.Code
}
