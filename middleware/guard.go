package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aivle-project/tokenauth"
)

// Validator is the part of *tokenauth.Engine the guard needs.
type Validator interface {
	ValidateAccess(ctx context.Context, token string) (*tokenauth.AuthResult, error)
}

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by [Guard].
func AuthResultFromContext(ctx context.Context) (*tokenauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*tokenauth.AuthResult)
	return res, ok
}

// WithAuthResult stores res in ctx the way [Guard] does.
func WithAuthResult(ctx context.Context, res *tokenauth.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard requires a valid bearer access token. Missing, malformed, expired and
// revoked tokens get 401; backend failures get 503.
func Guard(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN")
				return
			}

			res, err := v.ValidateAccess(r.Context(), token)
			if err != nil {
				if tokenauth.IsInfrastructure(err) {
					writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE")
					return
				}
				code := tokenauth.ErrorCode(err)
				if code == "" || errors.Is(err, tokenauth.ErrEngineNotReady) {
					code = "INVALID_TOKEN"
				}
				writeError(w, http.StatusUnauthorized, code)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

// RequireRole lets the request through when the guarded principal holds any
// of roles. It must run after [Guard].
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN")
				return
			}
			for _, have := range res.Roles {
				for _, want := range roles {
					if have == want {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN")
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code})
}
