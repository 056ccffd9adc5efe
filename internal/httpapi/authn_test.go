package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"b2bstore.org/internal/auth"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func guarded(t *testing.T, api *API, claims auth.ClaimSet) *httptest.ResponseRecorder {
	t.Helper()
	handler := api.RequirePermission(auth.PermProductsCreate, func(w http.ResponseWriter, r *http.Request) {
		ident, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in guarded handler")
		}
		w.Header().Set("X-User", ident.ID.String())
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/products", nil)
	req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func clearsSession(rec *httptest.ResponseRecorder) bool {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestRequirePermission(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	api, _, _ := buildAPI(t, testOptions{clock: func() time.Time { return now }})

	id := uuid.New()
	userClaim := func(perms ...string) auth.Claim {
		raw, err := auth.NewIdentity(id, "u@example.com", nil, nil, perms).Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		return auth.Claim{Name: auth.ClaimUser, Value: raw}
	}
	exp := func(at time.Time) auth.Claim {
		return auth.Claim{Name: auth.ClaimExpiry, Value: strconv.FormatInt(at.Unix(), 10)}
	}

	cases := []struct {
		name   string
		claims auth.ClaimSet
		code   int
		clear  bool
	}{
		{name: "no claims", code: http.StatusUnauthorized, clear: true},
		{name: "no user claim", claims: auth.ClaimSet{exp(now.Add(time.Hour))}, code: http.StatusUnauthorized, clear: true},
		{name: "expired", claims: auth.ClaimSet{userClaim(auth.PermProductsCreate), exp(now.Add(-time.Second))}, code: http.StatusUnauthorized},
		{name: "garbled exp", claims: auth.ClaimSet{userClaim(auth.PermProductsCreate), {Name: auth.ClaimExpiry, Value: "soon"}}, code: http.StatusUnauthorized},
		{name: "null permissions", claims: auth.ClaimSet{{Name: auth.ClaimUser, Value: `{"id":"` + id.String() + `","permissions":null}`}, exp(now.Add(time.Hour))}, code: http.StatusUnauthorized, clear: true},
		{name: "missing permission", claims: auth.ClaimSet{userClaim(auth.PermProfileRead), exp(now.Add(time.Hour))}, code: http.StatusForbidden},
		{name: "allowed", claims: auth.ClaimSet{userClaim(auth.PermProfileRead, auth.PermProductsCreate), exp(now.Add(time.Hour))}, code: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := guarded(t, api, tc.claims)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			if got := clearsSession(rec); got != tc.clear {
				t.Fatalf("expected session clear=%v, got %v", tc.clear, got)
			}
			if tc.code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate on 401")
			}
			if tc.code == http.StatusOK && rec.Header().Get("X-User") != id.String() {
				t.Fatalf("guarded handler saw wrong identity %q", rec.Header().Get("X-User"))
			}
		})
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	api := newTestAPI(t)
	api.createUser("buyer@example.com", auth.GroupCustomer)

	resp := api.do(http.MethodPost, "/auth/login", map[string]string{"email": "buyer@example.com", "password": testPassword}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	c := findCookie(resp, auth.SessionCookieName)
	payload := decode[loginResponse](t, resp)
	if c == nil || c.Value != payload.Token {
		t.Fatalf("expected session cookie with token, got %+v", c)
	}
	if !c.Secure || !c.HttpOnly || c.Path != "/" || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes %+v", c)
	}
	if payload.ExpiresAt.Sub(time.Now()) < auth.SessionLifetime-time.Minute {
		t.Fatalf("unexpected token expiry %v", payload.ExpiresAt)
	}
}

func TestLoginRejectionsHaveEmptyBody(t *testing.T) {
	api := newTestAPI(t)
	api.createUser("buyer@example.com", auth.GroupCustomer)

	bodies := map[string]any{
		"wrong password": map[string]string{"email": "buyer@example.com", "password": "nope"},
		"unknown user":   map[string]string{"email": "ghost@example.com", "password": testPassword},
		"malformed":      "{not json",
		"unknown field":  map[string]string{"email": "buyer@example.com", "password": testPassword, "otp": "1"},
	}
	for name, body := range bodies {
		resp := api.do(http.MethodPost, "/auth/login", body, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.StatusCode)
		}
		if got := readBody(t, resp); got != "" {
			t.Fatalf("%s: expected empty body, got %q", name, got)
		}
		if findCookie(resp, auth.SessionCookieName) != nil {
			t.Fatalf("%s: no session cookie expected", name)
		}
	}

	resp := api.do(http.MethodGet, "/auth/login", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMeWithBearerAndCookie(t *testing.T) {
	api := newTestAPI(t)
	user := api.createUser("buyer@example.com", auth.GroupCustomer)
	token, cookie := api.login("buyer@example.com")

	resp := api.do(http.MethodGet, "/auth/me", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer: unexpected status %d", resp.StatusCode)
	}
	me := decode[auth.Identity](t, resp)
	if me.ID != user.ID || !me.InGroup(auth.GroupCustomer) {
		t.Fatalf("unexpected identity %+v", me)
	}

	resp = api.do(http.MethodGet, "/auth/me", nil, nil, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cookie: unexpected status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInvalidTokenClearsSession(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/auth/me", nil, nil, &http.Cookie{Name: auth.SessionCookieName, Value: "forged.token.value"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	c := findCookie(resp, auth.SessionCookieName)
	if c == nil || c.Value != "" || c.MaxAge >= 0 {
		t.Fatalf("expected clearing cookie, got %+v", c)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != msgUnauthorized {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestForbiddenKeepsSession(t *testing.T) {
	api := newTestAPI(t)
	api.createUser("buyer@example.com", auth.GroupCustomer)
	token, _ := api.login("buyer@example.com")

	resp := api.do(http.MethodPost, "/v1/categories", map[string]string{"name": "Tools"}, bearer(token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if findCookie(resp, auth.SessionCookieName) != nil {
		t.Fatal("forbidden must not touch the session cookie")
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != msgForbidden {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestExpiredTokenClearsSession(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	api := newTestAPIWith(t, testOptions{clock: clock.Now})
	api.createUser("buyer@example.com", auth.GroupCustomer)
	token, cookie := api.login("buyer@example.com")

	clock.Advance(auth.SessionLifetime - time.Second)
	resp := api.do(http.MethodGet, "/auth/me", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token must be valid one second before expiry, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	clock.Advance(time.Second)
	resp = api.do(http.MethodGet, "/auth/me", nil, nil, cookie)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	c := findCookie(resp, auth.SessionCookieName)
	if c == nil || c.Value != "" || c.MaxAge >= 0 {
		t.Fatalf("expired session must be cleared, got %+v", c)
	}
	resp.Body.Close()
}

func TestLogoutClearsCookie(t *testing.T) {
	api := newTestAPI(t)
	api.createUser("buyer@example.com", auth.GroupCustomer)
	token, cookie := api.login("buyer@example.com")

	resp := api.do(http.MethodPost, "/auth/logout", nil, nil, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	c := findCookie(resp, auth.SessionCookieName)
	if c == nil || c.Value != "" || c.MaxAge >= 0 {
		t.Fatalf("expected clearing cookie, got %+v", c)
	}
	if got := readBody(t, resp); got != "" {
		t.Fatalf("expected empty body, got %q", got)
	}

	// Without server-side revocation the token keeps working until it expires.
	resp = api.do(http.MethodGet, "/auth/me", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected token to remain valid, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/auth/logout", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("anonymous logout: unexpected status %d", resp.StatusCode)
	}
	resp.Body.Close()
}
