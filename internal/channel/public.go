package channel

import (
	"sync"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/protocol"
)

// PublicChannel is the base variant: no auth, no presence, no cache. The
// other variants embed it for membership bookkeeping.
type PublicChannel struct {
	app  *app.Application
	name string

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewPublic creates an empty public channel.
func NewPublic(a *app.Application, name string) *PublicChannel {
	c := &PublicChannel{}
	c.init(a, name)
	return c
}

// init fills the base state in place. Variant constructors call it on their
// embedded field rather than copying a constructed base, which would copy
// its lock.
func (c *PublicChannel) init(a *app.Application, name string) {
	c.app = a
	c.name = name
	c.conns = make(map[string]*Connection)
}

// Name returns the channel name.
func (c *PublicChannel) Name() string { return c.name }

// Subscribe adds the connection and acknowledges with an empty payload.
func (c *PublicChannel) Subscribe(conn Subscriber, _, _ string) error {
	c.add(&Connection{Subscriber: conn})
	return c.acknowledge(conn)
}

// Unsubscribe removes the connection. Safe to call for non-members.
func (c *PublicChannel) Unsubscribe(conn Subscriber) {
	c.mu.Lock()
	delete(c.conns, conn.ID())
	c.mu.Unlock()
}

// Broadcast sends payload to every member except the given socket id.
func (c *PublicChannel) Broadcast(payload []byte, except string) {
	for _, member := range c.Connections() {
		if member.ID() == except {
			continue
		}
		member.Send(payload)
	}
}

// BroadcastInternally is identical to Broadcast for non-cache variants.
func (c *PublicChannel) BroadcastInternally(payload []byte, except string) {
	c.Broadcast(payload, except)
}

// Connections returns a snapshot of the members.
func (c *PublicChannel) Connections() []*Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Connection, 0, len(c.conns))
	for _, member := range c.conns {
		out = append(out, member)
	}
	return out
}

// isMember reports whether the socket id is currently subscribed.
func (c *PublicChannel) isMember(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.conns[id]
	return ok
}

// IsEmpty reports whether the channel has no members.
func (c *PublicChannel) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns) == 0
}

// add inserts a member, keeping an existing entry if the socket id is already
// subscribed so a duplicate subscribe is a pure re-acknowledgement.
func (c *PublicChannel) add(member *Connection) {
	c.mu.Lock()
	if _, exists := c.conns[member.ID()]; !exists {
		c.conns[member.ID()] = member
	}
	c.mu.Unlock()
}

// acknowledge emits subscription_succeeded with an empty payload.
func (c *PublicChannel) acknowledge(conn Subscriber) error {
	frame, err := protocol.NewSubscriptionSucceeded(c.name, struct{}{})
	if err != nil {
		return err
	}
	conn.Send(frame)
	return nil
}
