package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"go.opentelemetry.io/otel"

	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/tracing"
)

type scopesContextKey struct{ name string }

var scopesCtxKey = &scopesContextKey{"scopes"}

var tracer = otel.Tracer("fleet-ops/authz")

type Scope string

const (
	FleetRead    Scope = "fleet.read"
	FleetWrite   Scope = "fleet.write"
	BillingRead  Scope = "billing.read"
	BillingWrite Scope = "billing.write"
)

type Enticator interface {
	RequireAccess(scopes ...Scope) func(http.Handler) http.Handler
}

type impl struct {
	query rego.PreparedEvalQuery
}

// RequireAccess lets the request through if the policy grants the bearer token every
// one of the given scopes.
func (a *impl) RequireAccess(scopes ...Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var err error

			logger := logging.GetFromContext(r.Context())

			_, span := tracer.Start(r.Context(), "check-auth")
			defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

			token := r.Header.Get("Authorization")

			if token == "" || !strings.HasPrefix(token, "Bearer ") {
				err = errors.New("authorization header missing")
				logger.Info().Msg(err.Error())
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			input := map[string]any{
				"token":  token[7:],
				"method": r.Method,
				"path":   r.URL.Path,
			}

			results, err := a.query.Eval(r.Context(), rego.EvalInput(input))
			if err != nil {
				logger.Error().Err(err).Msg("opa eval failed")
				http.Error(w, "policy evaluation failed", http.StatusInternalServerError)
				return
			}

			if len(results) == 0 {
				err = errors.New("opa query could not be satisfied")
				logger.Error().Err(err).Msg("auth failed")
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			binding := results[0].Bindings["x"]

			// a denied token yields a single false
			allowed, ok := binding.(bool)
			if ok && !allowed {
				err = errors.New("authorization failed")
				logger.Warn().Msg(err.Error())
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			result, ok := binding.(map[string]any)
			if !ok {
				err = errors.New("unexpected result type")
				logger.Error().Err(err).Msg("opa error")
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			granted, err := grantedScopes(result)
			if err != nil {
				logger.Error().Err(err).Msg("opa error")
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			for _, s := range scopes {
				if _, ok := granted[s]; !ok {
					err = fmt.Errorf("scope %s not granted", s)
					logger.Warn().Msg(err.Error())
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithScopes(r.Context(), granted)))
		})
	}
}

func grantedScopes(result map[string]any) (map[Scope]struct{}, error) {
	anyScopes, ok := result["scopes"].([]any)
	if !ok {
		return nil, errors.New("bad response from authz policy engine")
	}

	granted := map[Scope]struct{}{}
	for _, s := range anyScopes {
		scope, ok := s.(string)
		if !ok {
			return nil, errors.New("rego response type error")
		}
		granted[Scope(scope)] = struct{}{}
	}

	return granted, nil
}

func NewAuthenticator(ctx context.Context, policies io.Reader) (Enticator, error) {
	module, err := io.ReadAll(policies)
	if err != nil {
		return nil, fmt.Errorf("unable to read authz policies: %s", err.Error())
	}

	query, err := rego.New(
		rego.Query("x = data.fleetops.authz.allow"),
		rego.Module("fleetops.rego", string(module)),
	).PrepareForEval(ctx)

	if err != nil {
		return nil, err
	}

	return &impl{query: query}, nil
}

// NewOpenAuthenticator returns an Enticator that lets every request through. It is
// used when no policy is configured.
func NewOpenAuthenticator() Enticator {
	return &open{}
}

type open struct{}

func (o *open) RequireAccess(scopes ...Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

func WithScopes(ctx context.Context, scopes map[Scope]struct{}) context.Context {
	return context.WithValue(ctx, scopesCtxKey, scopes)
}

// GetScopesFromContext returns the scopes granted to the caller, if any.
func GetScopesFromContext(ctx context.Context) []Scope {
	granted, ok := ctx.Value(scopesCtxKey).(map[Scope]struct{})
	if !ok {
		return []Scope{}
	}

	scopes := make([]Scope, 0, len(granted))
	for s := range granted {
		scopes = append(scopes, s)
	}

	return scopes
}
