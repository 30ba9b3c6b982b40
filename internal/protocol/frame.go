package protocol

import (
	"encoding/json"
	"fmt"
)

// stringData marshals v to JSON and wraps the result in a JSON string. Pusher
// double-encodes the data field of server-originated events so heterogeneous
// clients can defer parsing.
func stringData(v any) (json.RawMessage, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	outer, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	return outer, nil
}

// NewConnectionEstablished returns the serialised handshake frame. The
// activity timeout is reported in seconds.
func NewConnectionEstablished(socketID string, activityTimeout int) ([]byte, error) {
	data, err := stringData(struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}{socketID, activityTimeout})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: EventConnectionEstablished, Data: data})
}

// NewPing returns a serialised protocol-level ping frame.
func NewPing() ([]byte, error) {
	return json.Marshal(Message{Event: EventPing})
}

// NewPong returns a serialised protocol-level pong frame.
func NewPong() ([]byte, error) {
	return json.Marshal(Message{Event: EventPong})
}

// NewError returns a serialised pusher:error frame. Unlike other server
// events its data is a plain object, not a double-encoded string.
func NewError(code int, message string) ([]byte, error) {
	data, err := json.Marshal(struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{code, message})
	if err != nil {
		return nil, fmt.Errorf("marshal error data: %w", err)
	}
	return json.Marshal(Message{Event: EventError, Data: data})
}

// NewSubscriptionSucceeded returns the serialised acknowledgement for a
// subscribe. Data is an arbitrary object (empty for public channels, the
// presence roster for presence variants) double-encoded per the protocol.
func NewSubscriptionSucceeded(channel string, data any) ([]byte, error) {
	encoded, err := stringData(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: EventSubscriptionSucceeded, Channel: channel, Data: encoded})
}

// NewSubscriptionError returns the serialised subscription failure reply. The
// connection stays open; only the subscribe attempt failed.
func NewSubscriptionError(channel, errType, reason string, status int) ([]byte, error) {
	data, err := json.Marshal(struct {
		Type   string `json:"type"`
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{errType, reason, status})
	if err != nil {
		return nil, fmt.Errorf("marshal subscription error: %w", err)
	}
	return json.Marshal(Message{Event: EventSubscriptionError, Channel: channel, Data: data})
}

// NewCacheMiss returns the serialised cache-miss notification sent to a new
// subscriber of a cache channel that holds no payload.
func NewCacheMiss(channel string) ([]byte, error) {
	return json.Marshal(Message{Event: EventCacheMiss, Channel: channel})
}

// NewMemberAdded returns the serialised presence member-added event.
func NewMemberAdded(channel, userID string, userInfo json.RawMessage) ([]byte, error) {
	data, err := stringData(memberData{UserID: userID, UserInfo: userInfo})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: EventMemberAdded, Channel: channel, Data: data})
}

// NewMemberRemoved returns the serialised presence member-removed event.
func NewMemberRemoved(channel, userID string) ([]byte, error) {
	data, err := stringData(memberData{UserID: userID})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: EventMemberRemoved, Channel: channel, Data: data})
}

type memberData struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// NewSigninSuccess returns the serialised signin acknowledgement, echoing the
// signed user data back to the client.
func NewSigninSuccess(userData string) ([]byte, error) {
	data, err := stringData(struct {
		UserData string `json:"user_data"`
	}{userData})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: EventSigninSuccess, Data: data})
}
