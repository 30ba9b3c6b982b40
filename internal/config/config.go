// Package config loads broker configuration from environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/revurb-io/revurb/internal/app"
)

// Config holds broker configuration populated from environment variables.
type Config struct {
	// Server
	ServerHost string
	ServerPort int
	ServerEnv  string // "development" or "production"
	PathPrefix string

	// TLS; serving is plaintext unless both are set.
	TLSCertFile string
	TLSKeyFile  string

	// Applications. Either the inline list or a Postgres registry.
	Apps            []app.Application
	AppsDatabaseURL string
	DatabaseMaxConn int

	// Horizontal scaling
	ScalingEnabled bool
	BusURL         string
	BusChannel     string

	// Lifecycle
	SweepInterval time.Duration // zero derives from the minimum app ping interval
	DrainInterval time.Duration
}

// Load reads configuration from environment variables. It returns an error
// if any variable is set but cannot be parsed, or if no application source is
// configured.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		ServerHost: envStr("REVURB_HOST", "0.0.0.0"),
		ServerPort: p.int("REVURB_PORT", 8080),
		ServerEnv:  envStr("REVURB_ENV", "production"),
		PathPrefix: envStr("REVURB_PATH_PREFIX", ""),

		TLSCertFile: envStr("REVURB_TLS_CERT", ""),
		TLSKeyFile:  envStr("REVURB_TLS_KEY", ""),

		AppsDatabaseURL: envStr("REVURB_APPS_DATABASE_URL", ""),
		DatabaseMaxConn: p.int("REVURB_DATABASE_MAX_CONNS", 10),

		ScalingEnabled: p.bool("REVURB_SCALING_ENABLED", false),
		BusURL:         envStr("REVURB_REDIS_URL", "redis://localhost:6379/0"),
		BusChannel:     envStr("REVURB_BUS_CHANNEL", "revurb"),

		SweepInterval: p.duration("REVURB_SWEEP_INTERVAL", 0),
		DrainInterval: p.duration("REVURB_DRAIN_INTERVAL", 30*time.Second),
	}

	cfg.Apps = p.apps()

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}

// UsesDatabaseRegistry returns true when applications come from Postgres
// instead of the environment.
func (c *Config) UsesDatabaseRegistry() bool {
	return c.AppsDatabaseURL != ""
}

func (c *Config) validate() error {
	var errs []error

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("REVURB_PORT must be between 1 and 65535"))
	}
	if len(c.Apps) == 0 && !c.UsesDatabaseRegistry() {
		errs = append(errs, fmt.Errorf("no applications configured: set REVURB_APPS, REVURB_APP_ID/KEY/SECRET, or REVURB_APPS_DATABASE_URL"))
	}
	if len(c.Apps) > 0 && c.UsesDatabaseRegistry() {
		errs = append(errs, fmt.Errorf("REVURB_APPS and REVURB_APPS_DATABASE_URL are mutually exclusive"))
	}
	if c.ScalingEnabled && c.BusURL == "" {
		errs = append(errs, fmt.Errorf("REVURB_REDIS_URL is required when scaling is enabled"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, fmt.Errorf("REVURB_TLS_CERT and REVURB_TLS_KEY must be set together"))
	}
	if c.DrainInterval < time.Second {
		errs = append(errs, fmt.Errorf("REVURB_DRAIN_INTERVAL must be at least 1s"))
	}

	return errors.Join(errs...)
}

// apps materialises the inline application list: REVURB_APPS as a JSON array,
// falling back to a single application assembled from REVURB_APP_* variables.
func (p *parser) apps() []app.Application {
	if raw := os.Getenv("REVURB_APPS"); raw != "" {
		var entries []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid REVURB_APPS: %w", err))
			return nil
		}
		apps := make([]app.Application, 0, len(entries))
		for _, entry := range entries {
			// Unlimited connections unless the entry says otherwise.
			a := app.Application{MaxConnections: -1}
			if err := json.Unmarshal(entry, &a); err != nil {
				p.errs = append(p.errs, fmt.Errorf("invalid REVURB_APPS entry: %w", err))
				return nil
			}
			apps = append(apps, a)
		}
		return apps
	}

	id := os.Getenv("REVURB_APP_ID")
	key := os.Getenv("REVURB_APP_KEY")
	secret := os.Getenv("REVURB_APP_SECRET")
	if id == "" && key == "" && secret == "" {
		return nil
	}

	return []app.Application{{
		ID:              id,
		Key:             key,
		Secret:          secret,
		PingInterval:    p.int("REVURB_APP_PING_INTERVAL", 0),
		ActivityTimeout: p.int("REVURB_APP_ACTIVITY_TIMEOUT", 0),
		AllowedOrigins:  splitList(os.Getenv("REVURB_APP_ALLOWED_ORIGINS")),
		MaxMessageSize:  p.int("REVURB_APP_MAX_MESSAGE_SIZE", 0),
		MaxConnections:  p.int("REVURB_APP_MAX_CONNECTIONS", -1),
	}}
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envStr reads a string variable with a fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected boolean)", key, v))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration)", key, v))
		return fallback
	}
	return d
}
