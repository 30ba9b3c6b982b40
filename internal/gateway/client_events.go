package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/revurb-io/revurb/internal/channel"
	"github.com/revurb-io/revurb/internal/protocol"
)

// dispatchTimeout bounds the bus publish of a client event.
const dispatchTimeout = 5 * time.Second

// handleClientEvent validates a client-* event and fans it out with the
// sender excluded. Every rule violation answers with a protocol error and
// drops the event; the connection stays open.
func (c *Conn) handleClientEvent(msg protocol.Message) {
	if !protocol.ValidClientEvent(msg.Event) {
		c.sendFrame(protocol.NewError(protocol.CodeUnauthorized, "invalid client event name"))
		return
	}
	if msg.Channel == "" || !channel.AcceptsClientEvents(msg.Channel) {
		c.sendFrame(protocol.NewError(protocol.CodeUnauthorized, "client events require a private or presence channel"))
		return
	}
	if len(msg.Data) > c.app.MaxMessageSize {
		c.sendFrame(protocol.NewError(protocol.CodeMessageTooLarge, "client event exceeds size limit"))
		return
	}

	manager := c.hub.ChannelManager(c.app.ID)
	if manager == nil || !c.subscribedTo(manager, msg.Channel) {
		c.sendFrame(protocol.NewError(protocol.CodeUnauthorized, "client event on a channel the sender has not subscribed"))
		return
	}

	payload, err := json.Marshal(protocol.Message{Event: msg.Event, Channel: msg.Channel, Data: msg.Data})
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to serialise client event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := c.hub.dispatcher.TriggerInternally(ctx, c.app.ID, msg.Channel, payload, c.id); err != nil {
		c.log.Warn().Err(err).Str("channel", msg.Channel).Msg("Client event dispatch failed")
	}
}

// subscribedTo reports whether this connection is a member of the channel.
func (c *Conn) subscribedTo(manager *channel.Manager, name string) bool {
	ch := manager.Find(name)
	if ch == nil {
		return false
	}
	for _, member := range ch.Connections() {
		if member.ID() == c.id {
			return true
		}
	}
	return false
}
