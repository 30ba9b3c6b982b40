package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/dispatch"
	"github.com/revurb-io/revurb/internal/httputil"
)

// UsersHandler serves user-scoped control operations.
type UsersHandler struct {
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
}

// NewUsersHandler creates the user operations handler.
func NewUsersHandler(dispatcher *dispatch.Dispatcher, logger zerolog.Logger) *UsersHandler {
	return &UsersHandler{dispatcher: dispatcher, log: logger}
}

// TerminateConnections handles DELETE
// /apps/:app_id/users/:user_id/terminate_connections. Connections are
// unsubscribed before closing; terminating a user with no connections is a
// successful no-op.
func (h *UsersHandler) TerminateConnections(c fiber.Ctx) error {
	a := application(c)
	userID := c.Params("user_id")
	if userID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "user id is required")
	}

	closed, err := h.dispatcher.Terminate(c, a.ID, userID)
	if err != nil {
		// Local terminations already happened; the bus publish is queued
		// for retry, so the operation still counts as accepted.
		h.log.Warn().Err(err).Str("app_id", a.ID).Str("user_id", userID).Msg("Terminate bus publish failed")
	}

	h.log.Info().Str("app_id", a.ID).Str("user_id", userID).Int("closed", closed).Msg("Terminate requested")
	return c.JSON(fiber.Map{})
}
