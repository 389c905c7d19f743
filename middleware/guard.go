package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/httpx"
)

// Authenticator is satisfied by *authcore.Engine.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*authcore.Principal, error)
}

// PrincipalFromContext returns the principal attached by Guard or Optional.
func PrincipalFromContext(ctx context.Context) (*authcore.Principal, bool) {
	return authcore.PrincipalFromContext(ctx)
}

// Guard rejects requests without a valid bearer token. Token and session
// failures get 401; store failures get 500 so that an outage is never
// mistaken for a bad credential.
func Guard(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				httpx.WriteError(w, authcore.ErrInvalidToken)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer`)
				httpx.WriteError(w, authcore.ErrInvalidToken)
				return
			}

			ctx := RequestContext(r)
			p, err := auth.Authenticate(ctx, token)
			if err != nil {
				if httpx.Status(authcore.KindOf(err).Public()) == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				}
				httpx.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(authcore.WithPrincipal(ctx, p)))
		})
	}
}

// Optional attaches a principal when the request carries a valid bearer
// token and otherwise passes the request through unchanged.
func Optional(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok || auth == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := RequestContext(r)
			if p, err := auth.Authenticate(ctx, token); err == nil {
				r = r.WithContext(authcore.WithPrincipal(ctx, p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
