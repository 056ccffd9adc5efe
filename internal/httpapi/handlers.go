package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"b2bstore.org/api/spec"
	"b2bstore.org/internal/audit"
	"b2bstore.org/internal/auth"
	"b2bstore.org/internal/catalog"
	"b2bstore.org/internal/obs"
)

const serviceName = "b2bstore-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API to its collaborators.
type Options struct {
	Version   string
	Readiness readinessChecker
	Auth      *auth.Service
	Cookies   *auth.SessionCookies
	Catalog   catalog.Service
	// Directory enables the user administration routes when set.
	Directory     auth.DirectoryAdmin
	CORSOrigins   []string
	RateBurst     int
	RatePerSecond int
	// Clock drives authorization expiry checks; defaults to time.Now.
	Clock func() time.Time
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	readiness   readinessChecker
	version     string
	auth        *auth.Service
	codec       *auth.Codec
	cookies     *auth.SessionCookies
	catalog     catalog.Service
	directory   auth.DirectoryAdmin
	corsOrigins []string
	rateBurst   int
	ratePerSec  int
	now         func() time.Time
}

func New(opts Options) (*API, error) {
	if opts.Auth == nil {
		return nil, errors.New("httpapi: auth service is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("httpapi: catalog service is required")
	}
	a := &API{
		mux:         http.NewServeMux(),
		readiness:   opts.Readiness,
		version:     opts.Version,
		auth:        opts.Auth,
		codec:       opts.Auth.Codec(),
		cookies:     opts.Cookies,
		catalog:     opts.Catalog,
		directory:   opts.Directory,
		corsOrigins: opts.CORSOrigins,
		rateBurst:   opts.RateBurst,
		ratePerSec:  opts.RatePerSecond,
		now:         opts.Clock,
	}
	if a.readiness == nil {
		a.readiness = ReadyProbe{}
	}
	if a.cookies == nil {
		a.cookies = auth.NewSessionCookies(a.codec.TTL())
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 1
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), a.rateBurst, a.ratePerSec))
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/me", a.handleMe)

	a.mux.HandleFunc("/v1/categories", a.handleCategoriesCollection)
	a.mux.HandleFunc("/v1/categories/", a.handleCategoryResource)
	a.mux.HandleFunc("/v1/products", a.handleProductsCollection)
	a.mux.HandleFunc("/v1/products/", a.handleProductResource)

	a.mux.Handle("/v1/directory/users", a.directoryAdmin(a.handleDirectoryUsers))
	a.mux.Handle("/v1/directory/users/", a.directoryAdmin(a.handleDirectoryUserResource))
	a.mux.Handle("/v1/directory/groups", a.directoryAdmin(a.handleDirectoryGroups))
	a.mux.Handle("/v1/directory/groups/", a.directoryAdmin(a.handleDirectoryGroupResource))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a, nil
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.Authenticate(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(a.corsOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readiness.Check(r.Context()); err != nil {
		obs.Logger().Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	build := obs.CurrentBuild()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       serviceName,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    a.version,
		"commit":     build.Commit,
		"go_version": build.GoVersion,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Logger().Warn("audit log failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
