// Package auth carries session identity: bearer tokens, the session cookie,
// and the middleware that turns them into a request identity.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/diewo77/ecole/httpx"
)

// CookieName is the HttpOnly cookie holding the session token.
const CookieName = "token"

// ErrAccountDisabled is returned by verifiers for users whose account was deactivated.
var ErrAccountDisabled = errors.New("account disabled")

type ctxKey string

const claimsCtxKey = ctxKey("claims")

// TokenFromRequest reads a bearer token from the Authorization header, falling
// back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// SetSessionCookie stores token in the session cookie until exp.
func SetSessionCookie(w http.ResponseWriter, token string, exp time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  exp,
	})
}

// ClearSessionCookie deletes the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1, HttpOnly: true, Secure: secure, SameSite: http.SameSiteLaxMode})
}

// WithClaims stores verified claims in context.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, c)
}

// ClaimsFromContext extracts claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsCtxKey).(*Claims)
	return c, ok && c != nil
}

// Middleware attaches verified claims to the request context when a valid token is present.
func Middleware(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, err := issuer.Verify(TokenFromRequest(r)); err == nil {
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Verifier re-validates the token's user against the datastore and returns
// the request context enriched with whatever the application resolved.
type Verifier func(ctx context.Context, claims *Claims) (context.Context, error)

// RequireAuth answers 401 unless Middleware found valid claims and verify accepts them.
func RequireAuth(verify Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if verify != nil {
				ctx, err := verify(r.Context(), claims)
				if err != nil {
					code := "unauthorized"
					if errors.Is(err, ErrAccountDisabled) {
						code = "account_disabled"
					}
					httpx.JSONError(w, http.StatusUnauthorized, code, nil)
					return
				}
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}
