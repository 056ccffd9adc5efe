package httpapi

import (
	"errors"
	"net/http"
	"time"

	"b2bstore.org/internal/auth"
	"b2bstore.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin answers every rejected attempt with a bare 401 so callers cannot
// tell unknown accounts, wrong passwords and malformed bodies apart.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		obs.ObserveLogin("failure")
		a.audit(r.Context(), "auth.login.failed", map[string]any{"reason": "malformed_request"})
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	tok, ident, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.ObserveLogin("failure")
			a.audit(r.Context(), "auth.login.failed", map[string]any{"email": req.Email})
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		obs.ObserveLogin("error")
		a.audit(r.Context(), "auth.login.error", map[string]any{"error": err.Error()})
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	obs.ObserveLogin("success")
	a.cookies.AttachSession(w, tok.Value)
	a.audit(auth.ContextWithIdentity(r.Context(), ident), "auth.login.succeeded", map[string]any{
		"token_id":   tok.ID,
		"expires_at": tok.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt,
	})
}

// handleLogout clears the session cookie. The token itself stays valid until
// it expires; there is no server-side revocation list.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ctx := r.Context()
	if raw, ok := auth.ClaimsFromContext(ctx).Find(auth.ClaimUser); ok {
		if ident, err := auth.DecodeIdentity(raw); err == nil {
			ctx = auth.ContextWithIdentity(ctx, ident)
		}
	}
	a.cookies.ClearSession(w)
	a.audit(ctx, "auth.logout", nil)
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.RequirePermission(auth.PermProfileRead, func(w http.ResponseWriter, r *http.Request) {
		ident, _ := auth.IdentityFromContext(r.Context())
		writeJSON(w, http.StatusOK, ident)
	}).ServeHTTP(w, r)
}
