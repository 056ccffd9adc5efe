// Package config loads the storefront API configuration.
// Sources in priority order: B2B_* environment variables, YAML file, defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"b2bstore.org/internal/auth"
)

// Config holds all API configuration.
type Config struct {
	HTTPAddr    string          `yaml:"http_addr"`
	GRPCAddr    string          `yaml:"grpc_addr"`
	PGDSN       string          `yaml:"pg_dsn"`
	LogLevel    string          `yaml:"log_level"`
	CORSOrigins []string        `yaml:"cors_origins"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig carries the token signing parameters. SessionTTL bounds both the
// token expiry and the session cookie.
type AuthConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// RateLimitConfig configures the per-client login limiter.
type RateLimitConfig struct {
	Burst     int `yaml:"burst"`
	PerSecond int `yaml:"per_second"`
}

// Default returns configuration with development defaults. The signing secret
// has no default.
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":9090",
		LogLevel:    "info",
		CORSOrigins: []string{"http://localhost:3000"},
		Auth: AuthConfig{
			Issuer:     "b2bstore",
			Audience:   "b2bstore-web",
			SessionTTL: auth.SessionLifetime,
		},
		RateLimit: RateLimitConfig{
			Burst:     10,
			PerSecond: 1,
		},
	}
}

// Load reads the optional YAML file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("B2B_HTTP_ADDR", &cfg.HTTPAddr)
	setString("B2B_GRPC_ADDR", &cfg.GRPCAddr)
	setString("B2B_PG_DSN", &cfg.PGDSN)
	setString("B2B_LOG_LEVEL", &cfg.LogLevel)
	setString("B2B_AUTH_SECRET", &cfg.Auth.Secret)
	setString("B2B_AUTH_ISSUER", &cfg.Auth.Issuer)
	setString("B2B_AUTH_AUDIENCE", &cfg.Auth.Audience)

	if v := strings.TrimSpace(os.Getenv("B2B_CORS_ORIGINS")); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSOrigins = origins
	}
	if v := strings.TrimSpace(os.Getenv("B2B_AUTH_SESSION_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("B2B_AUTH_SESSION_TTL: %w", err)
		}
		cfg.Auth.SessionTTL = d
	}
	if err := setInt("B2B_RATE_LIMIT_BURST", &cfg.RateLimit.Burst); err != nil {
		return err
	}
	return setInt("B2B_RATE_LIMIT_PER_SECOND", &cfg.RateLimit.PerSecond)
}

// Validate rejects configurations the API must not start with.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Auth.Secret) == "":
		return fmt.Errorf("%w: auth.secret", auth.ErrMissingConfig)
	case strings.TrimSpace(c.Auth.Issuer) == "":
		return fmt.Errorf("%w: auth.issuer", auth.ErrMissingConfig)
	case strings.TrimSpace(c.Auth.Audience) == "":
		return fmt.Errorf("%w: auth.audience", auth.ErrMissingConfig)
	case c.Auth.SessionTTL <= 0:
		return fmt.Errorf("auth.session_ttl must be positive, got %s", c.Auth.SessionTTL)
	case c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0:
		return fmt.Errorf("rate_limit.burst and rate_limit.per_second must be positive")
	}
	return nil
}

// CodecConfig maps the auth section onto the token codec parameters.
func (c Config) CodecConfig() auth.CodecConfig {
	return auth.CodecConfig{
		Secret:   c.Auth.Secret,
		Issuer:   c.Auth.Issuer,
		Audience: c.Auth.Audience,
		TTL:      c.Auth.SessionTTL,
	}
}

// HasDatabase reports whether a PostgreSQL DSN is configured.
func (c Config) HasDatabase() bool {
	return strings.TrimSpace(c.PGDSN) != ""
}
