package channel

import (
	"fmt"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/auth"
)

// PrivateChannel requires an HMAC auth token at subscribe time; otherwise it
// behaves like a public channel.
type PrivateChannel struct {
	PublicChannel
}

// NewPrivate creates an empty private channel.
func NewPrivate(a *app.Application, name string) *PrivateChannel {
	c := &PrivateChannel{}
	c.init(a, name)
	return c
}

// Subscribe verifies the auth token before admitting the connection.
func (c *PrivateChannel) Subscribe(conn Subscriber, token, channelData string) error {
	if err := c.authorize(conn, token, channelData); err != nil {
		return err
	}
	return c.PublicChannel.Subscribe(conn, token, channelData)
}

// authorize validates the "<key>:<signature>" token over the socket id,
// channel name, and optional channel data.
func (c *PrivateChannel) authorize(conn Subscriber, token, channelData string) error {
	if err := auth.VerifyChannel(c.app.Key, c.app.Secret, conn.ID(), c.name, channelData, token); err != nil {
		return fmt.Errorf("%w: %s", ErrUnauthorized, c.name)
	}
	return nil
}
