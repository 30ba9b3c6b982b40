package gateway

import (
	"context"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/protocol"
)

// Janitor is the periodic connection sweeper: INACTIVE connections are
// pinged, STALE ones are evicted with close code 4201.
type Janitor struct {
	hub      *Hub
	interval time.Duration
	log      zerolog.Logger
}

// NewJanitor creates the sweeper. The interval is normally the minimum ping
// interval across configured applications.
func NewJanitor(hub *Hub, interval time.Duration, logger zerolog.Logger) *Janitor {
	return &Janitor{
		hub:      hub,
		interval: interval,
		log:      logger.With().Str("component", "janitor").Logger(),
	}
}

// Run sweeps on the interval until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			j.Sweep(now)
		}
	}
}

// Sweep classifies every connection once. Exported so tests can drive the
// clock directly.
func (j *Janitor) Sweep(now time.Time) {
	j.hub.mu.RLock()
	var all []*Conn
	for _, group := range j.hub.groups {
		for _, conn := range group.conns {
			all = append(all, conn)
		}
	}
	j.hub.mu.RUnlock()

	for _, conn := range all {
		switch conn.State(now) {
		case StateInactive:
			j.ping(conn)
		case StateStale:
			j.prune(conn)
		}
	}
}

// ping nudges a quiet connection. Peers that answer RFC 6455 control frames
// get a protocol-level ping suppressed in favour of a control frame.
func (j *Janitor) ping(conn *Conn) {
	if conn.UsesControlFrames() {
		_ = conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	} else if frame, err := protocol.NewPing(); err == nil {
		conn.Send(frame)
	}
	conn.MarkPinged()
	j.log.Debug().Str("socket_id", conn.ID()).Msg("Pinged inactive connection")
}

// prune evicts a connection that missed its pong deadline.
func (j *Janitor) prune(conn *Conn) {
	j.hub.unregister(conn)
	conn.CloseWithError(protocol.CodePongTimeout, "pong reply not received in time")
	j.hub.collectors.ConnectionsPruned.WithLabelValues(conn.App().ID).Inc()
	j.log.Info().Str("socket_id", conn.ID()).Str("app_id", conn.App().ID).Msg("Connection pruned")
}
