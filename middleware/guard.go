package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	identity "github.com/loginbox/identity"
)

type identityContextKey struct{}

// FromContext returns the Identity placed by Authenticate.
func FromContext(ctx context.Context) (*identity.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*identity.Identity)
	return id, ok
}

// Authenticate validates the request token and always calls next. A cookie
// token that fails validation is revoked and its cookie cleared; a failing
// Bearer token is only rejected. The request then proceeds with an anonymous
// Identity.
func Authenticate(engine *identity.Engine) func(http.Handler) http.Handler {
	return guard(engine, false)
}

// RequireAuthenticated is Authenticate that answers 401 unless the token
// validated, and 503 when the session store is unreachable.
func RequireAuthenticated(engine *identity.Engine) func(http.Handler) http.Handler {
	return guard(engine, true)
}

func guard(engine *identity.Engine, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			cookie := engine.Config().Cookie

			token, fromCookie := requestToken(r, cookie.Name)
			id := engine.Identity(identity.ClientInfo{
				IP:        clientIP(r),
				UserAgent: r.UserAgent(),
			}, token)

			// only a cookie token is revoked on failure
			ok, err := id.Validate(r.Context(), fromCookie)
			if err != nil && errors.Is(err, identity.ErrPersistence) {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			if !ok && token != "" && fromCookie {
				ClearTokenCookie(w, cookie)
			}
			if !ok && required {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			ctx = identity.WithClientIP(ctx, id.Client().IP)
			ctx = identity.WithUserAgent(ctx, id.Client().UserAgent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestToken prefers the session cookie over an Authorization header.
func requestToken(r *http.Request, cookieName string) (string, bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, false
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
