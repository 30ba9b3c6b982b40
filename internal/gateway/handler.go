package gateway

import (
	"encoding/json"
	"errors"

	"github.com/revurb-io/revurb/internal/auth"
	"github.com/revurb-io/revurb/internal/channel"
	"github.com/revurb-io/revurb/internal/protocol"
)

// handleMessage routes one decoded inbound frame. Control events are handled
// here; client-* events go through the fan-out path. Anything else earns a
// protocol error without closing the connection.
func (c *Conn) handleMessage(raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		c.sendFrame(protocol.NewError(protocol.CodeGenericError, "invalid message"))
		return
	}

	switch {
	case msg.Event == protocol.EventPing:
		c.sendFrame(protocol.NewPong())
	case msg.Event == protocol.EventPong:
		// Touch already happened in the read loop.
	case msg.Event == protocol.EventSubscribe:
		c.handleSubscribe(msg)
	case msg.Event == protocol.EventUnsubscribe:
		c.handleUnsubscribe(msg)
	case msg.Event == protocol.EventSignin:
		c.handleSignin(msg)
	case protocol.IsClientEvent(msg.Event):
		c.handleClientEvent(msg)
	default:
		c.sendFrame(protocol.NewError(protocol.CodeUnauthorized, "unknown control event"))
	}
}

// handleSubscribe delegates to the channel manager. Failure is answered with
// pusher_internal:subscription_error; the connection stays open.
func (c *Conn) handleSubscribe(msg protocol.Message) {
	var payload protocol.SubscribePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Channel == "" {
		c.sendFrame(protocol.NewError(protocol.CodeGenericError, "invalid subscribe payload"))
		return
	}

	manager := c.hub.ChannelManager(c.app.ID)
	if manager == nil {
		c.sendFrame(protocol.NewError(protocol.CodeGenericError, "connection is not registered"))
		return
	}

	alreadyMember := c.subscribedTo(manager, payload.Channel)
	if err := manager.Subscribe(c, payload.Channel, payload.Auth, payload.ChannelData); err != nil {
		c.log.Debug().Err(err).Str("channel", payload.Channel).Msg("Subscribe rejected")
		errType, status := subscriptionFailure(err)
		c.sendFrame(protocol.NewSubscriptionError(payload.Channel, errType, err.Error(), status))
		return
	}
	if !alreadyMember {
		c.hub.collectors.Subscriptions.WithLabelValues(c.app.ID).Inc()
	}
}

// subscriptionFailure maps a channel error onto the wire error type and
// status of a subscription_error reply.
func subscriptionFailure(err error) (string, int) {
	switch {
	case errors.Is(err, channel.ErrUnauthorized):
		return "AuthError", 401
	case errors.Is(err, channel.ErrEncryptedUnsupported):
		return "ServerError", protocol.CodeGenericError
	case errors.Is(err, channel.ErrInvalidChannelName),
		errors.Is(err, channel.ErrInvalidChannelData),
		errors.Is(err, channel.ErrMissingUserID):
		return "Error", 400
	default:
		return "ServerError", 500
	}
}

// handleUnsubscribe delegates to the channel manager. No reply on success.
func (c *Conn) handleUnsubscribe(msg protocol.Message) {
	var payload protocol.UnsubscribePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Channel == "" {
		c.sendFrame(protocol.NewError(protocol.CodeGenericError, "invalid unsubscribe payload"))
		return
	}

	if manager := c.hub.ChannelManager(c.app.ID); manager != nil {
		if c.subscribedTo(manager, payload.Channel) {
			c.hub.collectors.Subscriptions.WithLabelValues(c.app.ID).Dec()
		}
		manager.Unsubscribe(c, payload.Channel)
	}
}

// handleSignin verifies the signin signature, stores the user identity, and
// acknowledges with pusher:signin_success.
func (c *Conn) handleSignin(msg protocol.Message) {
	var payload protocol.SigninPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.UserData == "" {
		c.sendFrame(protocol.NewError(protocol.CodeUnauthorized, "invalid signin payload"))
		return
	}

	if err := auth.VerifyUser(c.app.Key, c.app.Secret, c.id, payload.UserData, payload.Auth); err != nil {
		c.log.Debug().Err(err).Msg("Signin rejected")
		c.sendFrame(protocol.NewError(protocol.CodeUnauthorized, "signin signature is invalid"))
		return
	}

	userID, err := signinUserID(payload.UserData)
	if err != nil {
		c.sendFrame(protocol.NewError(protocol.CodeUnauthorized, "user data is missing id"))
		return
	}

	c.signIn(userID, json.RawMessage(payload.UserData))
	c.sendFrame(protocol.NewSigninSuccess(payload.UserData))
	c.log.Debug().Str("user_id", userID).Msg("Connection signed in")
}

// signinUserID extracts the mandatory id field from signed user data.
func signinUserID(userData string) (string, error) {
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(userData), &parsed); err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", errors.New("user data has no id")
	}
	return parsed.ID, nil
}
