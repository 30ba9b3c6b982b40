package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// Environment-driven tests cannot run in parallel.

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"REVURB_HOST", "REVURB_PORT", "REVURB_ENV", "REVURB_PATH_PREFIX",
		"REVURB_TLS_CERT", "REVURB_TLS_KEY",
		"REVURB_APPS", "REVURB_APPS_DATABASE_URL", "REVURB_DATABASE_MAX_CONNS",
		"REVURB_APP_ID", "REVURB_APP_KEY", "REVURB_APP_SECRET",
		"REVURB_APP_PING_INTERVAL", "REVURB_APP_ACTIVITY_TIMEOUT",
		"REVURB_APP_ALLOWED_ORIGINS", "REVURB_APP_MAX_MESSAGE_SIZE",
		"REVURB_APP_MAX_CONNECTIONS",
		"REVURB_SCALING_ENABLED", "REVURB_REDIS_URL", "REVURB_BUS_CHANNEL",
		"REVURB_SWEEP_INTERVAL", "REVURB_DRAIN_INTERVAL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REVURB_APP_ID", "1")
	t.Setenv("REVURB_APP_KEY", "key")
	t.Setenv("REVURB_APP_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ServerHost != "0.0.0.0" || cfg.ServerPort != 8080 || cfg.ServerEnv != "production" {
		t.Errorf("server defaults = %s:%d (%s)", cfg.ServerHost, cfg.ServerPort, cfg.ServerEnv)
	}
	if cfg.IsDevelopment() {
		t.Error("production config must not report development")
	}
	if cfg.ScalingEnabled {
		t.Error("scaling must default to disabled")
	}
	if cfg.BusChannel != "revurb" {
		t.Errorf("BusChannel = %q", cfg.BusChannel)
	}
	if cfg.DrainInterval != 30*time.Second {
		t.Errorf("DrainInterval = %v", cfg.DrainInterval)
	}
	if len(cfg.Apps) != 1 || cfg.Apps[0].ID != "1" || cfg.Apps[0].MaxConnections != -1 {
		t.Errorf("apps = %+v", cfg.Apps)
	}
}

func TestLoadSingleAppVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("REVURB_APP_ID", "1")
	t.Setenv("REVURB_APP_KEY", "key")
	t.Setenv("REVURB_APP_SECRET", "secret")
	t.Setenv("REVURB_APP_PING_INTERVAL", "15")
	t.Setenv("REVURB_APP_ALLOWED_ORIGINS", "example.com, *.example.net,")
	t.Setenv("REVURB_APP_MAX_CONNECTIONS", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	a := cfg.Apps[0]
	if a.PingInterval != 15 || a.MaxConnections != 50 {
		t.Errorf("app = %+v", a)
	}
	if !reflect.DeepEqual(a.AllowedOrigins, []string{"example.com", "*.example.net"}) {
		t.Errorf("AllowedOrigins = %v", a.AllowedOrigins)
	}
}

func TestLoadAppsJSON(t *testing.T) {
	clearEnv(t)
	t.Setenv("REVURB_APPS", `[
		{"id":"1","key":"k1","secret":"s1"},
		{"id":"2","key":"k2","secret":"s2","max_connections":10}
	]`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Apps) != 2 {
		t.Fatalf("apps = %+v", cfg.Apps)
	}
	if cfg.Apps[0].MaxConnections != -1 {
		t.Errorf("apps without a cap must be unlimited, got %d", cfg.Apps[0].MaxConnections)
	}
	if cfg.Apps[1].MaxConnections != 10 {
		t.Errorf("explicit cap lost: %d", cfg.Apps[1].MaxConnections)
	}
}

func TestLoadFailures(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "no application source",
			env:  map[string]string{},
			want: "no applications configured",
		},
		{
			name: "bad port",
			env: map[string]string{
				"REVURB_APP_ID": "1", "REVURB_APP_KEY": "k", "REVURB_APP_SECRET": "s",
				"REVURB_PORT": "99999",
			},
			want: "REVURB_PORT",
		},
		{
			name: "unparsable int",
			env: map[string]string{
				"REVURB_APP_ID": "1", "REVURB_APP_KEY": "k", "REVURB_APP_SECRET": "s",
				"REVURB_PORT": "eight",
			},
			want: "expected integer",
		},
		{
			name: "apps and database together",
			env: map[string]string{
				"REVURB_APPS":              `[{"id":"1","key":"k","secret":"s"}]`,
				"REVURB_APPS_DATABASE_URL": "postgres://localhost/revurb",
			},
			want: "mutually exclusive",
		},
		{
			name: "invalid apps json",
			env: map[string]string{
				"REVURB_APPS": "{",
			},
			want: "invalid REVURB_APPS",
		},
		{
			name: "tls cert without key",
			env: map[string]string{
				"REVURB_APP_ID": "1", "REVURB_APP_KEY": "k", "REVURB_APP_SECRET": "s",
				"REVURB_TLS_CERT": "/etc/ssl/cert.pem",
			},
			want: "must be set together",
		},
		{
			name: "drain too short",
			env: map[string]string{
				"REVURB_APP_ID": "1", "REVURB_APP_KEY": "k", "REVURB_APP_SECRET": "s",
				"REVURB_DRAIN_INTERVAL": "100ms",
			},
			want: "REVURB_DRAIN_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("Load() must fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadDatabaseRegistry(t *testing.T) {
	clearEnv(t)
	t.Setenv("REVURB_APPS_DATABASE_URL", "postgres://localhost/revurb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.UsesDatabaseRegistry() {
		t.Error("UsesDatabaseRegistry() = false")
	}
	if len(cfg.Apps) != 0 {
		t.Errorf("apps = %+v, want none", cfg.Apps)
	}
}

func TestLoadScaling(t *testing.T) {
	clearEnv(t)
	t.Setenv("REVURB_APP_ID", "1")
	t.Setenv("REVURB_APP_KEY", "k")
	t.Setenv("REVURB_APP_SECRET", "s")
	t.Setenv("REVURB_SCALING_ENABLED", "true")
	t.Setenv("REVURB_REDIS_URL", "valkey://redis.internal:6379/1")
	t.Setenv("REVURB_SWEEP_INTERVAL", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.ScalingEnabled || cfg.BusURL != "valkey://redis.internal:6379/1" {
		t.Errorf("scaling config = %v %q", cfg.ScalingEnabled, cfg.BusURL)
	}
	if cfg.SweepInterval != 45*time.Second {
		t.Errorf("SweepInterval = %v", cfg.SweepInterval)
	}
}
