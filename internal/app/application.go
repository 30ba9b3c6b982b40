// Package app holds the per-tenant Application record and the registry that
// resolves tenants by key (routing) or id (control plane).
package app

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// Application is one broker tenant. It is built at startup and never mutated.
type Application struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Secret string `json:"secret"`

	// PingInterval is the inactivity window in seconds after which the server
	// pings the client. ActivityTimeout is the value advertised to clients in
	// connection_established.
	PingInterval    int `json:"ping_interval"`
	ActivityTimeout int `json:"activity_timeout"`

	// AllowedOrigins are host patterns where "*" matches any label sequence.
	// An empty list allows every origin.
	AllowedOrigins []string `json:"allowed_origins"`

	// MaxMessageSize is the largest accepted inbound frame in bytes.
	MaxMessageSize int `json:"max_message_size"`

	// MaxConnections caps simultaneous connections for this tenant. A
	// negative value means unlimited.
	MaxConnections int `json:"max_connections"`

	Options map[string]json.RawMessage `json:"options,omitempty"`
}

const (
	defaultPingInterval    = 60
	defaultActivityTimeout = 30
	defaultMaxMessageSize  = 10 * 1024
)

// ApplyDefaults fills unset tunables with the broker defaults. A zero
// MaxConnections is preserved (a tenant may be configured to accept no
// connections); the unlimited sentinel is negative.
func (a *Application) ApplyDefaults() {
	if a.PingInterval <= 0 {
		a.PingInterval = defaultPingInterval
	}
	if a.ActivityTimeout <= 0 {
		a.ActivityTimeout = defaultActivityTimeout
	}
	if a.MaxMessageSize <= 0 {
		a.MaxMessageSize = defaultMaxMessageSize
	}
}

// Unlimited reports whether the tenant has no connection cap.
func (a *Application) Unlimited() bool {
	return a.MaxConnections < 0
}

// OriginAllowed reports whether the given Origin header value matches the
// tenant's allowed origins. The comparison is against the host only; scheme
// and port are ignored. Non-browser clients send no Origin and are allowed.
func (a *Application) OriginAllowed(origin string) bool {
	if origin == "" || len(a.AllowedOrigins) == 0 {
		return true
	}

	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i+1:], "]") {
		host = host[:i]
	}

	for _, pattern := range a.AllowedOrigins {
		if matchOrigin(pattern, host) {
			return true
		}
	}
	return false
}

// matchOrigin matches a host against a glob pattern where "*" spans any label
// sequence, so "*.example.com" matches "a.b.example.com".
func matchOrigin(pattern, host string) bool {
	if pattern == "*" {
		return true
	}
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, `.*`) + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return re.MatchString(host)
}
