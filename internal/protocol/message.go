// Package protocol defines the Pusher wire format: the JSON message envelope,
// the server-emitted event names, the application close codes, and the frame
// builders shared by the gateway and the control API.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names the server emits or the client may send. Client events
// (client-*) are matched by prefix, not listed here.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSignin                = "pusher:signin"
	EventSigninSuccess         = "pusher:signin_success"
	EventError                 = "pusher:error"
	EventCacheMiss             = "pusher:cache_miss"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventSubscriptionError     = "pusher_internal:subscription_error"
	EventMemberAdded           = "pusher_internal:member_added"
	EventMemberRemoved         = "pusher_internal:member_removed"
)

// Message is the JSON envelope of every text frame on the wire. Data may be an
// object or a string; when it is a string it may itself contain JSON and the
// server re-parses it where the protocol requires.
type Message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DataString returns the data field decoded once: if the field holds a JSON
// string, the inner string is returned; otherwise the raw bytes are returned
// verbatim. This is the normalisation the Pusher protocol requires for
// channel_data and user_data payloads.
func (m Message) DataString() string {
	if len(m.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}
	return string(m.Data)
}

// SubscribePayload is the data of a pusher:subscribe message.
type SubscribePayload struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// UnsubscribePayload is the data of a pusher:unsubscribe message.
type UnsubscribePayload struct {
	Channel string `json:"channel"`
}

// SigninPayload is the data of a pusher:signin message.
type SigninPayload struct {
	Auth     string `json:"auth"`
	UserData string `json:"user_data"`
}

// Parse decodes a single inbound text frame.
func Parse(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Event == "" {
		return Message{}, fmt.Errorf("message has no event")
	}
	return m, nil
}
