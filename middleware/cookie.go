package middleware

import (
	"net/http"
	"time"

	identity "github.com/loginbox/identity"
)

// SetTokenCookie stores token in the session cookie. Without rememberMe the
// cookie lives for the browser session only.
func SetTokenCookie(w http.ResponseWriter, cfg identity.CookieConfig, token string, rememberMe bool) {
	c := &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Secure:   cfg.Secure,
		HttpOnly: cfg.HTTPOnly,
		SameSite: cfg.SameSite,
	}
	if rememberMe && cfg.MaxAge > 0 {
		c.MaxAge = int(cfg.MaxAge / time.Second)
		c.Expires = time.Now().Add(cfg.MaxAge)
	}
	http.SetCookie(w, c)
}

// ClearTokenCookie expires the session cookie.
func ClearTokenCookie(w http.ResponseWriter, cfg identity.CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Secure:   cfg.Secure,
		HttpOnly: cfg.HTTPOnly,
		SameSite: cfg.SameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}
