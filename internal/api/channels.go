package api

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/channel"
	"github.com/revurb-io/revurb/internal/httputil"
	"github.com/revurb-io/revurb/internal/metrics"
)

// ChannelsHandler serves the channel, user, and connection enumeration
// endpoints. All statistics come from the aggregator, which spans the fleet
// when scaling is enabled.
type ChannelsHandler struct {
	aggregator *metrics.Aggregator
	log        zerolog.Logger
}

// NewChannelsHandler creates the enumeration handler.
func NewChannelsHandler(aggregator *metrics.Aggregator, logger zerolog.Logger) *ChannelsHandler {
	return &ChannelsHandler{aggregator: aggregator, log: logger}
}

// infoSet parses the comma-separated info query parameter.
type infoSet map[string]bool

func parseInfo(raw string) infoSet {
	set := make(infoSet)
	for _, field := range strings.Split(raw, ",") {
		if field = strings.TrimSpace(field); field != "" {
			set[field] = true
		}
	}
	return set
}

// channelInfo shapes one channel's attributes, restricted to the requested
// info fields. user_count is only meaningful for presence channels.
func channelInfo(name string, stats metrics.ChannelStats, info infoSet) fiber.Map {
	entry := fiber.Map{}
	if info["subscription_count"] {
		entry["subscription_count"] = stats.SubscriptionCount
	}
	if info["user_count"] && channel.IsPresenceName(name) {
		entry["user_count"] = stats.UserCount
	}
	if info["cache"] {
		entry["cache"] = stats.Cache
	}
	return entry
}

// List handles GET /apps/:app_id/channels.
func (h *ChannelsHandler) List(c fiber.Ctx) error {
	a := application(c)
	info := parseInfo(fiber.Query[string](c, "info"))
	opts := metrics.Options{Prefix: fiber.Query[string](c, "filter_by_prefix")}

	snap, err := h.aggregator.Gather(c, a.ID, metrics.QueryChannels, opts)
	if err != nil {
		h.log.Error().Err(err).Str("app_id", a.ID).Msg("Channel listing failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "channel listing failed")
	}

	channels := fiber.Map{}
	for name, stats := range snap.Channels {
		channels[name] = channelInfo(name, stats, info)
	}
	return c.JSON(fiber.Map{"channels": channels})
}

// Detail handles GET /apps/:app_id/channels/:channel.
func (h *ChannelsHandler) Detail(c fiber.Ctx) error {
	a := application(c)
	name := c.Params("channel")
	info := parseInfo(fiber.Query[string](c, "info"))

	snap, err := h.aggregator.Gather(c, a.ID, metrics.QueryChannel, metrics.Options{Channel: name})
	if err != nil {
		h.log.Error().Err(err).Str("app_id", a.ID).Str("channel", name).Msg("Channel detail failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "channel detail failed")
	}

	stats, occupied := snap.Channels[name]
	body := channelInfo(name, stats, info)
	body["occupied"] = occupied && stats.SubscriptionCount > 0
	return c.JSON(body)
}

// Users handles GET /apps/:app_id/channels/:channel/users. Presence only.
func (h *ChannelsHandler) Users(c fiber.Ctx) error {
	a := application(c)
	name := c.Params("channel")

	if !channel.IsPresenceName(name) {
		return httputil.Fail(c, fiber.StatusBadRequest, "user listing requires a presence channel")
	}

	snap, err := h.aggregator.Gather(c, a.ID, metrics.QueryChannelUsers, metrics.Options{Channel: name})
	if err != nil {
		h.log.Error().Err(err).Str("app_id", a.ID).Str("channel", name).Msg("User listing failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "user listing failed")
	}

	users := make([]fiber.Map, 0, len(snap.Users))
	for _, id := range snap.Users {
		users = append(users, fiber.Map{"id": id})
	}
	return c.JSON(fiber.Map{"users": users})
}

// Connections handles GET /apps/:app_id/connections: the connection count
// plus the socket ids behind it.
func (h *ChannelsHandler) Connections(c fiber.Ctx) error {
	a := application(c)

	snap, err := h.aggregator.Gather(c, a.ID, metrics.QueryConnections, metrics.Options{})
	if err != nil {
		h.log.Error().Err(err).Str("app_id", a.ID).Msg("Connection listing failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "connection listing failed")
	}

	ids := snap.Connections
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(fiber.Map{"connections": len(ids), "ids": ids})
}
