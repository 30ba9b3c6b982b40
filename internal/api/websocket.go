package api

import (
	"errors"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/gateway"
	"github.com/revurb-io/revurb/internal/httputil"
)

// WebSocketHandler serves the client WebSocket endpoint.
type WebSocketHandler struct {
	registry app.Registry
	hub      *gateway.Hub
	log      zerolog.Logger
}

// NewWebSocketHandler creates the upgrade handler.
func NewWebSocketHandler(registry app.Registry, hub *gateway.Hub, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{registry: registry, hub: hub, log: logger}
}

// Upgrade handles GET /app/:key. Unknown keys are rejected before the
// upgrade; origin and quota checks happen inside the hub, where the protocol
// error codes apply.
func (h *WebSocketHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	a, err := h.registry.FindByKey(c, c.Params("key"))
	if err != nil {
		if errors.Is(err, app.ErrUnknownApplication) {
			return httputil.Fail(c, fiber.StatusNotFound, "unknown application key")
		}
		h.log.Error().Err(err).Msg("Application lookup failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "application lookup failed")
	}

	// The fiber context dies with the upgrade; capture what the hub needs.
	origin := c.Get(fiber.HeaderOrigin)

	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn, a, origin)
	})(c)
}
