// Package gateway owns the WebSocket side of the broker: the per-connection
// state machine, the hub that registers connections per application, the
// pusher:* control-event handler, client event fan-out, and the janitor that
// pings and prunes idle peers.
package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/protocol"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// sendQueueSize bounds the outbound queue; overflow closes the
	// connection rather than stalling a broadcast.
	sendQueueSize = 256
)

// State classifies a connection by inbound activity.
type State int

const (
	// StateActive: inbound activity within the application's ping interval.
	StateActive State = iota
	// StateInactive: quiet past the ping interval and not yet pinged.
	StateInactive
	// StateStale: pinged and still quiet; eligible for pruning.
	StateStale
)

// Conn represents a single client WebSocket connection. Each connection runs
// two goroutines (readPump and writePump) and is fanned out to via its
// bounded send queue.
type Conn struct {
	id   string
	app  *app.Application
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	log  zerolog.Logger

	closeOnce sync.Once
	closed    atomic.Bool

	// writeMu serialises data-frame writes. The websocket connection
	// permits one concurrent writer; WriteControl is the only exception.
	writeMu sync.Mutex

	// Activity and identity state, protected by mu. Written by the read
	// pump and the janitor, read by both and by the control plane.
	mu                sync.RWMutex
	lastSeen          time.Time
	hasBeenPinged     bool
	usesControlFrames bool
	userID            string
	userData          json.RawMessage
}

func newConn(hub *Hub, a *app.Application, ws *websocket.Conn, logger zerolog.Logger) *Conn {
	id := protocol.NewSocketID()
	return &Conn{
		id:       id,
		app:      a,
		hub:      hub,
		ws:       ws,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		log:      logger.With().Str("socket_id", id).Str("app_id", a.ID).Logger(),
		lastSeen: time.Now(),
	}
}

// ID returns the socket id.
func (c *Conn) ID() string { return c.id }

// App returns the owning application.
func (c *Conn) App() *app.Application { return c.app }

// Send enqueues a payload for delivery. Sending to a closed connection is a
// no-op; a full queue closes the connection so one slow reader cannot stall
// the broadcast that is feeding it.
func (c *Conn) Send(payload []byte) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- payload:
		c.hub.collectors.MessagesSent.WithLabelValues(c.app.ID).Inc()
	case <-c.done:
	default:
		c.log.Warn().Msg("Send queue full, closing connection")
		c.CloseWithError(protocol.CodeMessageTooLarge, "backpressure limit reached")
	}
}

// Touch records inbound activity and clears the pinged flag.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.hasBeenPinged = false
	c.mu.Unlock()
}

// MarkPinged records that a ping has been issued since the last activity.
func (c *Conn) MarkPinged() {
	c.mu.Lock()
	c.hasBeenPinged = true
	c.mu.Unlock()
}

// markControlFrames records that the peer answers RFC 6455 pings, which
// suppresses protocol-level pusher:ping for this connection.
func (c *Conn) markControlFrames() {
	c.mu.Lock()
	c.usesControlFrames = true
	c.mu.Unlock()
}

// UsesControlFrames reports whether the peer responds to RFC 6455 pings.
func (c *Conn) UsesControlFrames() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usesControlFrames
}

// State classifies the connection at the given instant.
func (c *Conn) State(now time.Time) State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	interval := time.Duration(c.app.PingInterval) * time.Second
	if now.Sub(c.lastSeen) < interval {
		return StateActive
	}
	if !c.hasBeenPinged {
		return StateInactive
	}
	return StateStale
}

// signIn stores the verified user identity on the connection.
func (c *Conn) signIn(userID string, userData json.RawMessage) {
	c.mu.Lock()
	c.userID = userID
	c.userData = userData
	c.mu.Unlock()
}

// UserID returns the signed-in user id, empty before pusher:signin.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// sendFrame builds and enqueues a protocol frame, logging build failures.
func (c *Conn) sendFrame(payload []byte, err error) {
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to build frame")
		return
	}
	c.Send(payload)
}

// CloseWithError sends a pusher:error frame with the given code, then closes
// the WebSocket with the same code. Idempotent.
func (c *Conn) CloseWithError(code int, reason string) {
	if frame, err := protocol.NewError(code, reason); err == nil {
		// Best effort: the peer may already be gone.
		_ = c.writeFrame(frame)
	}
	c.close(code, reason)
}

// writeFrame writes one text frame under the write lock, so the write pump
// and the close path never write concurrently.
func (c *Conn) writeFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// close performs the WebSocket close handshake and releases the write pump.
func (c *Conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.ws.Close()
		close(c.done)
	})
}

// readPump reads frames, maintains activity state, and routes messages. It
// runs in its own goroutine and unregisters the connection when it exits.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close(websocket.CloseNormalClosure, "")
	}()

	c.ws.SetReadLimit(int64(c.app.MaxMessageSize))

	c.ws.SetPongHandler(func(string) error {
		c.Touch()
		c.markControlFrames()
		return nil
	})
	c.ws.SetPingHandler(func(appData string) error {
		c.Touch()
		return c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		messageType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.CloseWithError(protocol.CodeMessageTooLarge, "message exceeds size limit")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.CloseWithError(protocol.CodeGenericError, "binary frames are not supported")
			return
		}

		c.Touch()
		c.hub.collectors.MessagesReceived.WithLabelValues(c.app.ID).Inc()
		c.log.Debug().RawJSON("message", raw).Msg("Message received")

		c.handleMessage(raw)
	}
}

// writePump drains the send queue onto the wire. It exits when the
// connection closes.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.writeFrame(msg); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write error")
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		}
	}
}
