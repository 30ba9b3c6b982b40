package channel

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/app"
)

// Manager is the per-application channel registry. It creates channels on
// first subscribe and drops them when the last member leaves, so an existing
// channel always has at least one member.
type Manager struct {
	app *app.Application
	log zerolog.Logger

	mu       sync.Mutex
	channels map[string]Channel
}

// NewManager creates an empty channel registry for the application.
func NewManager(a *app.Application, logger zerolog.Logger) *Manager {
	return &Manager{
		app:      a,
		log:      logger.With().Str("component", "channels").Str("app_id", a.ID).Logger(),
		channels: make(map[string]Channel),
	}
}

// App returns the owning application.
func (m *Manager) App() *app.Application { return m.app }

// Subscribe resolves or creates the named channel and delegates the
// subscription to it. The manager lock is held across the operation so
// subscribe and unsubscribe are serialised per connection/channel pair; sends
// issued by the channel are buffered enqueues and never suspend.
func (m *Manager) Subscribe(conn Subscriber, name, auth, channelData string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		created, err := New(m.app, name)
		if err != nil {
			return err
		}
		m.channels[name] = created
		ch = created
		m.log.Debug().Str("channel", name).Msg("Channel created")
	}

	if err := ch.Subscribe(conn, auth, channelData); err != nil {
		if ch.IsEmpty() {
			delete(m.channels, name)
		}
		return err
	}
	return nil
}

// Unsubscribe delegates to the named channel and drops it once empty.
func (m *Manager) Unsubscribe(conn Subscriber, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribeLocked(conn, name)
}

// UnsubscribeFromAll removes the connection from every channel it occupies.
// It is idempotent and must run before the connection's resources are
// released.
func (m *Manager) UnsubscribeFromAll(conn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.channels {
		m.unsubscribeLocked(conn, name)
	}
}

func (m *Manager) unsubscribeLocked(conn Subscriber, name string) {
	ch, ok := m.channels[name]
	if !ok {
		return
	}
	ch.Unsubscribe(conn)
	if ch.IsEmpty() {
		delete(m.channels, name)
		m.log.Debug().Str("channel", name).Msg("Channel removed")
	}
}

// Find returns the named channel, or nil when unoccupied.
func (m *Manager) Find(name string) Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[name]
}

// All returns a snapshot of every occupied channel.
func (m *Manager) All() []Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// Connections returns the union of members across channels, deduplicated by
// socket id. Control-plane endpoints consume this view.
func (m *Manager) Connections() map[string]*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Connection)
	for _, ch := range m.channels {
		for _, member := range ch.Connections() {
			if _, seen := out[member.ID()]; !seen {
				out[member.ID()] = member
			}
		}
	}
	return out
}
