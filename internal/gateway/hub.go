package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/channel"
	"github.com/revurb-io/revurb/internal/dispatch"
	"github.com/revurb-io/revurb/internal/metrics"
	"github.com/revurb-io/revurb/internal/protocol"
)

// Hub is the connection registry. It groups connections by application, each
// group owning the channel manager for that tenant, and enforces the
// per-application connection quota and origin policy before a connection is
// admitted.
type Hub struct {
	collectors *metrics.Collectors
	log        zerolog.Logger

	// dispatcher is set after construction: the dispatcher needs the hub
	// as its channel locator, so the hub is built first.
	dispatcher *dispatch.Dispatcher

	mu       sync.RWMutex
	groups   map[string]*appGroup
	shutdown bool
}

// appGroup is one application's live state on this node. Groups are created
// when the first connection arrives and dropped with the last one.
type appGroup struct {
	app     *app.Application
	manager *channel.Manager
	conns   map[string]*Conn
}

// NewHub creates an empty hub.
func NewHub(collectors *metrics.Collectors, logger zerolog.Logger) *Hub {
	return &Hub{
		collectors: collectors,
		log:        logger.With().Str("component", "gateway").Logger(),
		groups:     make(map[string]*appGroup),
	}
}

// UseDispatcher wires the event dispatcher. Must be called before the first
// connection is served.
func (h *Hub) UseDispatcher(d *dispatch.Dispatcher) { h.dispatcher = d }

// ServeWebSocket admits an upgraded connection for the application: origin
// check, quota check, pusher:connection_established, then the pumps. It
// blocks until the connection's read loop exits.
func (h *Hub) ServeWebSocket(ws *websocket.Conn, a *app.Application, origin string) {
	if !a.OriginAllowed(origin) {
		h.log.Debug().Str("app_id", a.ID).Str("origin", origin).Msg("Origin not allowed")
		refuse(ws, protocol.CodeUnauthorized, "origin not allowed")
		return
	}

	conn := newConn(h, a, ws, h.log)
	if err := h.register(conn); err != nil {
		refuse(ws, protocol.CodeFor(err), err.Error())
		return
	}

	established, err := protocol.NewConnectionEstablished(conn.ID(), a.ActivityTimeout)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build connection_established frame")
		h.unregister(conn)
		conn.close(websocket.CloseInternalServerErr, "internal error")
		return
	}

	go conn.writePump()
	conn.Send(established)
	conn.readPump()
}

// refuse rejects a connection that was never registered: error frame, close
// frame, close. Written directly since the connection has no write pump.
func refuse(ws *websocket.Conn, code int, reason string) {
	if frame, err := protocol.NewError(code, reason); err == nil {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = ws.Close()
}

// register admits the connection, enforcing the quota. Fails during
// shutdown so the drain is not racing new arrivals.
func (h *Hub) register(conn *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return protocol.ErrShuttingDown
	}

	a := conn.App()
	group, ok := h.groups[a.ID]
	if !ok {
		group = &appGroup{
			app:     a,
			manager: channel.NewManager(a, h.log),
			conns:   make(map[string]*Conn),
		}
		h.groups[a.ID] = group
	}

	if !a.Unlimited() && len(group.conns) >= a.MaxConnections {
		return protocol.ErrOverQuota
	}

	group.conns[conn.ID()] = conn
	h.collectors.Connections.WithLabelValues(a.ID).Inc()
	h.log.Debug().Str("app_id", a.ID).Str("socket_id", conn.ID()).Int("total", len(group.conns)).Msg("Connection registered")
	return nil
}

// unregister removes the connection from every channel it occupies and from
// its group. Idempotent.
func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	group, ok := h.groups[conn.App().ID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := group.conns[conn.ID()]; !present {
		h.mu.Unlock()
		return
	}
	delete(group.conns, conn.ID())
	empty := len(group.conns) == 0
	if empty {
		delete(h.groups, conn.App().ID)
	}
	h.mu.Unlock()

	// Settle the subscriptions gauge before the memberships vanish.
	if held := membershipCount(group.manager, conn.ID()); held > 0 {
		h.collectors.Subscriptions.WithLabelValues(conn.App().ID).Sub(float64(held))
	}
	group.manager.UnsubscribeFromAll(conn)
	h.collectors.Connections.WithLabelValues(conn.App().ID).Dec()
	h.log.Debug().Str("app_id", conn.App().ID).Str("socket_id", conn.ID()).Msg("Connection unregistered")
}

// membershipCount counts the channels a socket currently occupies.
func membershipCount(manager *channel.Manager, socketID string) int {
	held := 0
	for _, ch := range manager.All() {
		for _, member := range ch.Connections() {
			if member.ID() == socketID {
				held++
				break
			}
		}
	}
	return held
}

// ChannelManager returns the application's channel manager, or nil when the
// application has no connections on this node.
func (h *Hub) ChannelManager(appID string) *channel.Manager {
	h.mu.RLock()
	defer h.mu.RUnlock()
	group, ok := h.groups[appID]
	if !ok {
		return nil
	}
	return group.manager
}

// connections snapshots an application's connections.
func (h *Hub) connections(appID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	group, ok := h.groups[appID]
	if !ok {
		return nil
	}
	out := make([]*Conn, 0, len(group.conns))
	for _, conn := range group.conns {
		out = append(out, conn)
	}
	return out
}

// ConnectionCount returns the number of connections for the application on
// this node.
func (h *Hub) ConnectionCount(appID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	group, ok := h.groups[appID]
	if !ok {
		return 0
	}
	return len(group.conns)
}

// Terminate closes every connection signed in as the user, unsubscribing
// each first. Returns the number closed; terminating an unknown user is a
// no-op.
func (h *Hub) Terminate(appID, userID string) int {
	var matched []*Conn
	for _, conn := range h.connections(appID) {
		if conn.UserID() == userID {
			matched = append(matched, conn)
		}
	}

	for _, conn := range matched {
		h.unregister(conn)
		conn.CloseWithError(protocol.CodeUnauthorized, "connection terminated")
	}
	if len(matched) > 0 {
		h.log.Info().Str("app_id", appID).Str("user_id", userID).Int("closed", len(matched)).Msg("User connections terminated")
	}
	return len(matched)
}

// Shutdown stops admissions, tells every peer the server is going away, and
// waits up to drain for close handshakes to complete.
func (h *Hub) Shutdown(drain time.Duration) {
	h.mu.Lock()
	h.shutdown = true
	var all []*Conn
	for _, group := range h.groups {
		for _, conn := range group.conns {
			all = append(all, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range all {
		conn.CloseWithError(protocol.CodeGenericError, "server is shutting down")
	}

	deadline := time.Now().Add(drain)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		remaining := len(h.groups)
		h.mu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	h.log.Info().Msg("Gateway hub shut down")
}
