package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/dispatch"
	"github.com/revurb-io/revurb/internal/httputil"
	"github.com/revurb-io/revurb/internal/protocol"
)

// EventsHandler serves the trigger endpoints. Both endpoints reuse the
// dispatcher, so a trigger behaves identically to any other broadcast:
// cache channels record the payload and peers replay it.
type EventsHandler struct {
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
}

// NewEventsHandler creates the trigger handler.
func NewEventsHandler(dispatcher *dispatch.Dispatcher, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{dispatcher: dispatcher, log: logger}
}

// eventRequest is the body of POST events. Channel and Channels are
// alternatives; SocketID names a sender to exclude from the broadcast.
type eventRequest struct {
	Name     string          `json:"name"`
	Channel  string          `json:"channel,omitempty"`
	Channels []string        `json:"channels,omitempty"`
	Data     json.RawMessage `json:"data"`
	SocketID string          `json:"socket_id,omitempty"`
}

// targets normalises the single/plural channel fields.
func (r eventRequest) targets() []string {
	if len(r.Channels) > 0 {
		return r.Channels
	}
	if r.Channel != "" {
		return []string{r.Channel}
	}
	return nil
}

// validate rejects requests the broadcast path could not express.
func (r eventRequest) validate(a *app.Application) string {
	if r.Name == "" {
		return "event name is required"
	}
	if len(r.targets()) == 0 {
		return "at least one channel is required"
	}
	for _, name := range r.targets() {
		if !protocol.ValidChannelName(name) {
			return "invalid channel name: " + name
		}
	}
	if len(r.Data) > a.MaxMessageSize {
		return "event data exceeds the application's size limit"
	}
	return ""
}

// Trigger handles POST /apps/:app_id/events. Triggering an unoccupied
// channel is a successful no-op.
func (h *EventsHandler) Trigger(c fiber.Ctx) error {
	a := application(c)

	var req eventRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "request body must be JSON")
	}
	if reason := req.validate(a); reason != "" {
		return httputil.Fail(c, fiber.StatusBadRequest, reason)
	}

	if err := h.trigger(c, a, req); err != nil {
		h.log.Error().Err(err).Str("app_id", a.ID).Str("event", req.Name).Msg("Trigger failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "event dispatch failed")
	}
	return c.JSON(fiber.Map{})
}

// batchRequest is the body of POST batch_events.
type batchRequest struct {
	Batch []eventRequest `json:"batch"`
}

// TriggerBatch handles POST /apps/:app_id/batch_events: the same path as
// Trigger, once per entry. Validation covers the whole batch before any
// entry is dispatched.
func (h *EventsHandler) TriggerBatch(c fiber.Ctx) error {
	a := application(c)

	var req batchRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "request body must be JSON")
	}
	if len(req.Batch) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, "batch is empty")
	}
	for _, entry := range req.Batch {
		if reason := entry.validate(a); reason != "" {
			return httputil.Fail(c, fiber.StatusBadRequest, reason)
		}
	}

	for _, entry := range req.Batch {
		if err := h.trigger(c, a, entry); err != nil {
			h.log.Error().Err(err).Str("app_id", a.ID).Str("event", entry.Name).Msg("Batch trigger failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "event dispatch failed")
		}
	}
	return c.JSON(fiber.Map{})
}

// trigger serialises the wire message and dispatches it to every target
// channel.
func (h *EventsHandler) trigger(c fiber.Ctx, a *app.Application, req eventRequest) error {
	for _, name := range req.targets() {
		payload, err := json.Marshal(protocol.Message{Event: req.Name, Channel: name, Data: req.Data})
		if err != nil {
			return err
		}
		if err := h.dispatcher.Trigger(c, a.ID, name, payload, req.SocketID); err != nil {
			return err
		}
	}
	return nil
}
