package auth

import (
	"net/http"
	"strings"
	"time"
)

// SessionCookieName is the cookie carrying the bearer token.
const SessionCookieName = "auth_token_key"

const bearerPrefix = "Bearer "

// SessionCookies is the only writer of the session cookie.
type SessionCookies struct {
	lifetime time.Duration
	now      func() time.Time
}

// CookieOption configures SessionCookies.
type CookieOption func(*SessionCookies)

// WithCookieClock overrides the time source (useful for tests).
func WithCookieClock(fn func() time.Time) CookieOption {
	return func(s *SessionCookies) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessionCookies builds a cookie manager; a non-positive lifetime falls back to SessionLifetime.
func NewSessionCookies(lifetime time.Duration, opts ...CookieOption) *SessionCookies {
	if lifetime <= 0 {
		lifetime = SessionLifetime
	}
	s := &SessionCookies{lifetime: lifetime, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachSession stores the token in the session cookie.
func (s *SessionCookies) AttachSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  s.now().Add(s.lifetime).UTC(),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSession overwrites the session cookie with an empty, already expired one.
// Calling it without an existing session is harmless.
func (s *SessionCookies) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  s.now().Add(-time.Hour).UTC(),
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			if token := strings.TrimSpace(header[len(bearerPrefix):]); token != "" {
				return token
			}
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}
