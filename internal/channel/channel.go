// Package channel implements the six Pusher channel variants and the
// per-application manager that owns them. Channels hold members by socket id
// and never outlive their last member.
package channel

import (
	"encoding/json"
	"errors"
)

// Subscriber is the connection surface a channel needs: a stable socket id
// and a non-blocking send. The gateway's Conn satisfies it; channels never
// own the connection.
type Subscriber interface {
	ID() string
	Send(payload []byte)
}

// Connection binds a Subscriber to one channel, carrying channel-scoped user
// data for presence variants. Created on subscribe, dropped on unsubscribe.
type Connection struct {
	Subscriber

	UserID   string
	UserInfo json.RawMessage
}

// Channel is the public contract shared by all variants.
type Channel interface {
	Name() string

	// Subscribe adds the connection, emits subscription_succeeded to it, and
	// for presence/cache variants the variant-specific follow-up frames. A
	// subscribe observing an existing membership re-acknowledges without side
	// effects.
	Subscribe(conn Subscriber, auth, channelData string) error

	// Unsubscribe removes the connection. Idempotent.
	Unsubscribe(conn Subscriber)

	// Broadcast sends the serialised message to every member except the
	// given socket id. Cache variants record it as the current payload.
	Broadcast(payload []byte, except string)

	// BroadcastInternally is Broadcast without the cache update, used for
	// client-originated chatter that must not define channel state.
	BroadcastInternally(payload []byte, except string)

	// Connections returns a snapshot of the members.
	Connections() []*Connection

	IsEmpty() bool
}

// Presence is implemented by presence variants.
type Presence interface {
	// Users returns the distinct signed-in user ids, one entry per user
	// regardless of connection count.
	Users() []string
	UserCount() int
}

// Cacher is implemented by cache variants.
type Cacher interface {
	HasCachedPayload() bool
	CachedPayload() ([]byte, bool)
}

// Channel-level failure modes. The gateway maps these onto
// pusher_internal:subscription_error replies.
var (
	ErrUnauthorized         = errors.New("subscription is unauthorized")
	ErrInvalidChannelData   = errors.New("channel data is invalid")
	ErrMissingUserID        = errors.New("channel data is missing user_id")
	ErrEncryptedUnsupported = errors.New("encrypted channels are not enabled")
	ErrInvalidChannelName   = errors.New("invalid channel name")
)
