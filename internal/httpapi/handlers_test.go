package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"b2bstore.org/internal/auth"
	"b2bstore.org/internal/catalog"
)

const testPassword = "correct horse battery"

type apiClient struct {
	baseURL string
	client  *http.Client
	codec   *auth.Codec
	dir     *auth.MemoryDirectory
	t       *testing.T
}

type testOptions struct {
	clock       func() time.Time
	rateBurst   int
	noDirectory bool
}

func newTestAPI(t *testing.T) *apiClient {
	return newTestAPIWith(t, testOptions{})
}

func newTestAPIWith(t *testing.T, o testOptions) *apiClient {
	t.Helper()
	api, codec, dir := buildAPI(t, o)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		codec:   codec,
		dir:     dir,
		t:       t,
	}
}

func buildAPI(t *testing.T, o testOptions) (*API, *auth.Codec, *auth.MemoryDirectory) {
	t.Helper()
	dir := auth.NewMemoryDirectory()
	if err := auth.EnsureBuiltins(context.Background(), dir); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	var codecOpts []auth.CodecOption
	if o.clock != nil {
		codecOpts = append(codecOpts, auth.WithClock(o.clock))
	}
	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:   "httpapi-test-secret-0123456789abcdef",
		Issuer:   "b2bstore-test",
		Audience: "b2bstore-web",
	}, codecOpts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	svc, err := auth.NewService(dir, codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	burst := o.rateBurst
	if burst == 0 {
		burst = 100
	}
	var directory auth.DirectoryAdmin = dir
	if o.noDirectory {
		directory = nil
	}
	api, err := New(Options{
		Version:       "test",
		Auth:          svc,
		Catalog:       catalog.NewInMemory(),
		Directory:     directory,
		CORSOrigins:   []string{"https://shop.example.com"},
		RateBurst:     burst,
		RatePerSecond: 1,
		Clock:         o.clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return api, codec, dir
}

func (c *apiClient) createUser(email string, groups ...string) *auth.User {
	c.t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		c.t.Fatalf("HashPassword: %v", err)
	}
	u := &auth.User{Email: email, PasswordHash: hash}
	if err := c.dir.CreateUserWithGroups(context.Background(), u, groups); err != nil {
		c.t.Fatalf("CreateUserWithGroups: %v", err)
	}
	return u
}

func (c *apiClient) do(method, path string, body any, headers map[string]string, cookies ...*http.Cookie) *http.Response {
	c.t.Helper()
	var payload io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		payload = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) login(email string) (string, *http.Cookie) {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": testPassword}, nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	cookie := findCookie(resp, auth.SessionCookieName)
	payload := decode[loginResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	if cookie == nil || cookie.Value != payload.Token {
		c.t.Fatalf("expected session cookie carrying the token, got %+v", cookie)
	}
	return payload.Token, cookie
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func readBody(t *testing.T, r *http.Response) string {
	t.Helper()
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(raw)
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	health := decode[map[string]any](t, resp)
	if health["service"] != serviceName || health["version"] != "test" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp = api.do(http.MethodGet, "/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected ready status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/info", nil, nil)
	info := decode[map[string]any](t, resp)
	if info["version"] != "test" || info["go_version"] == "" || info["go_version"] == nil {
		t.Fatalf("unexpected info payload: %v", info)
	}

	resp = api.do(http.MethodGet, "/openapi.yaml", nil, nil)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(body, "openapi:") {
		t.Fatalf("unexpected openapi response: %d %q", resp.StatusCode, body[:min(len(body), 20)])
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestCatalogFlow(t *testing.T) {
	api := newTestAPI(t)
	api.createUser("manager@example.com", auth.GroupManager)
	token, _ := api.login("manager@example.com")

	resp := api.do(http.MethodPost, "/v1/categories", map[string]any{"name": "Office Paper"}, bearer(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", resp.StatusCode, readBody(t, resp))
	}
	cat := decode[catalog.Category](t, resp)
	if cat.Slug != "office-paper" {
		t.Fatalf("unexpected slug %q", cat.Slug)
	}

	resp = api.do(http.MethodPost, "/v1/products", map[string]any{
		"category_id": cat.ID,
		"sku":         "a4-500",
		"name":        "A4 paper",
		"price_cents": 899,
		"currency":    "EUR",
	}, bearer(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", resp.StatusCode, readBody(t, resp))
	}
	prod := decode[catalog.Product](t, resp)

	resp = api.do(http.MethodGet, "/v1/products/"+prod.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public product read failed: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/products?category_id="+cat.ID+"&limit=10", nil, nil)
	list := decode[listProductsResponse](t, resp)
	if len(list.Items) != 1 || list.Items[0].SKU != "A4-500" {
		t.Fatalf("unexpected list %+v", list)
	}

	resp = api.do(http.MethodGet, "/v1/products?limit=0", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/products?after=page-2", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/categories/"+cat.ID, nil, bearer(token))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for non-empty category, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/products/"+prod.ID, nil, bearer(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected delete status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/products/"+prod.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodPut, "/v1/products", nil, bearer(token))
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") == "" {
		t.Fatalf("expected 405 with Allow header, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDirectoryAdministration(t *testing.T) {
	api := newTestAPI(t)
	api.createUser("admin@example.com", auth.GroupAdmin)
	api.createUser("manager@example.com", auth.GroupManager)
	adminToken, _ := api.login("admin@example.com")
	managerToken, _ := api.login("manager@example.com")

	newUser := map[string]any{
		"email":    "buyer@example.com",
		"password": "buyer-password",
		"groups":   []string{auth.GroupCustomer},
	}
	resp := api.do(http.MethodPost, "/v1/directory/users", newUser, bearer(managerToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/directory/users", newUser, bearer(adminToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", resp.StatusCode, readBody(t, resp))
	}
	created := decode[map[string]any](t, resp)
	user := created["user"].(map[string]any)
	if _, leaked := user["password_hash"]; leaked {
		t.Fatal("password hash must not be serialized")
	}

	resp = api.do(http.MethodPost, "/v1/directory/users", newUser, bearer(adminToken))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/directory/users/"+user["id"].(string)+"/groups",
		map[string]string{"group": auth.GroupManager}, bearer(adminToken))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected assign status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/auth/login", map[string]string{"email": "buyer@example.com", "password": "buyer-password"}, nil)
	login := decode[loginResponse](t, resp)
	ident, err := api.codec.Verify(login.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ident.HasPermission(auth.PermProductsCreate) || !ident.InGroup(auth.GroupCustomer) {
		t.Fatalf("expected customer and manager grants, got %+v", ident)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodGet, "/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Fatalf("expected request id in error body: %v", body)
	}
}
