package httpapi

import (
	"net/http"

	"b2bstore.org/internal/auth"
	"b2bstore.org/internal/obs"
)

const (
	msgUnauthorized = "unauthorized"
	msgForbidden    = "forbidden"
)

// Authenticate verifies the bearer token or session cookie, when present, and
// stores its claims in the request context. A missing or invalid token leaves
// the context without claims; the decision is made by RequirePermission.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.codec.Claims(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	})
}

// RequirePermission guards next with a permission check over the request claims.
func (a *API) RequirePermission(perm string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := auth.Authorize(auth.ClaimsFromContext(r.Context()), perm, a.now())
		obs.ObserveAuthDecision("http", out.Decision.String())
		switch out.Decision {
		case auth.Unauthorized:
			if out.ClearSession {
				a.cookies.ClearSession(w)
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="b2bstore"`)
			writeError(w, r, http.StatusUnauthorized, msgUnauthorized)
		case auth.Forbidden:
			writeError(w, r, http.StatusForbidden, msgForbidden)
		default:
			next(w, r.WithContext(auth.ContextWithIdentity(r.Context(), out.Identity)))
		}
	})
}
