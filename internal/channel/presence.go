package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/protocol"
)

// PresenceChannel tracks signed-in users. Multiple connections may share one
// user_id; member_added and member_removed fire only on the 0↔1 transitions
// of a user's connection count.
type PresenceChannel struct {
	PrivateChannel
}

// NewPresence creates an empty presence channel.
func NewPresence(a *app.Application, name string) *PresenceChannel {
	c := &PresenceChannel{}
	c.init(a, name)
	return c
}

// channelData is the decoded presence payload a subscriber presents.
type channelData struct {
	UserID   string
	UserInfo json.RawMessage
}

// parseChannelData decodes and normalises presence channel data. user_id may
// arrive as a string or a number and is stored as a string either way.
func parseChannelData(raw string) (channelData, error) {
	if raw == "" {
		return channelData{}, ErrMissingUserID
	}

	var decoded struct {
		UserID   json.RawMessage `json:"user_id"`
		UserInfo json.RawMessage `json:"user_info"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return channelData{}, fmt.Errorf("%w: %v", ErrInvalidChannelData, err)
	}
	if len(decoded.UserID) == 0 || bytes.Equal(decoded.UserID, []byte("null")) {
		return channelData{}, ErrMissingUserID
	}

	var id string
	if err := json.Unmarshal(decoded.UserID, &id); err != nil {
		var n json.Number
		if err := json.Unmarshal(decoded.UserID, &n); err != nil {
			return channelData{}, fmt.Errorf("%w: user_id must be a string or number", ErrInvalidChannelData)
		}
		id = n.String()
	}
	if id == "" {
		return channelData{}, ErrMissingUserID
	}

	return channelData{UserID: id, UserInfo: decoded.UserInfo}, nil
}

// Subscribe verifies auth and channel data, admits the connection, announces
// the member to pre-existing subscribers when this is the user's first
// connection, and acknowledges with the current roster.
func (c *PresenceChannel) Subscribe(conn Subscriber, token, rawData string) error {
	if err := c.authorize(conn, token, rawData); err != nil {
		return err
	}

	data, err := parseChannelData(rawData)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if _, exists := c.conns[conn.ID()]; exists {
		c.mu.Unlock()
		return c.acknowledgeMember(conn)
	}
	firstForUser := c.userConnCountLocked(data.UserID) == 0
	c.conns[conn.ID()] = &Connection{Subscriber: conn, UserID: data.UserID, UserInfo: data.UserInfo}
	c.mu.Unlock()

	if firstForUser {
		added, err := protocol.NewMemberAdded(c.name, data.UserID, data.UserInfo)
		if err != nil {
			return err
		}
		c.Broadcast(added, conn.ID())
	}

	return c.acknowledgeMember(conn)
}

// Unsubscribe removes the connection and, when it was the user's last,
// announces the departure to the remaining members.
func (c *PresenceChannel) Unsubscribe(conn Subscriber) {
	c.mu.Lock()
	member, ok := c.conns[conn.ID()]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.conns, conn.ID())
	lastForUser := c.userConnCountLocked(member.UserID) == 0
	c.mu.Unlock()

	if lastForUser {
		removed, err := protocol.NewMemberRemoved(c.name, member.UserID)
		if err != nil {
			return
		}
		c.Broadcast(removed, conn.ID())
	}
}

// Users returns the distinct signed-in user ids, sorted for stable output.
func (c *PresenceChannel) Users() []string {
	c.mu.RLock()
	seen := make(map[string]struct{}, len(c.conns))
	for _, member := range c.conns {
		seen[member.UserID] = struct{}{}
	}
	c.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UserCount returns the number of distinct users.
func (c *PresenceChannel) UserCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(c.conns))
	for _, member := range c.conns {
		seen[member.UserID] = struct{}{}
	}
	return len(seen)
}

// userConnCountLocked counts connections for a user. Caller holds c.mu.
func (c *PresenceChannel) userConnCountLocked(userID string) int {
	n := 0
	for _, member := range c.conns {
		if member.UserID == userID {
			n++
		}
	}
	return n
}

// presenceRoster is the subscription_succeeded payload for presence channels.
type presenceRoster struct {
	Presence struct {
		IDs   []string                   `json:"ids"`
		Hash  map[string]json.RawMessage `json:"hash"`
		Count int                        `json:"count"`
	} `json:"presence"`
}

// acknowledgeMember emits subscription_succeeded carrying the roster.
func (c *PresenceChannel) acknowledgeMember(conn Subscriber) error {
	var roster presenceRoster
	roster.Presence.Hash = make(map[string]json.RawMessage)

	c.mu.RLock()
	for _, member := range c.conns {
		if _, seen := roster.Presence.Hash[member.UserID]; seen {
			continue
		}
		info := member.UserInfo
		if info == nil {
			info = json.RawMessage("null")
		}
		roster.Presence.Hash[member.UserID] = info
		roster.Presence.IDs = append(roster.Presence.IDs, member.UserID)
	}
	c.mu.RUnlock()

	sort.Strings(roster.Presence.IDs)
	roster.Presence.Count = len(roster.Presence.IDs)

	frame, err := protocol.NewSubscriptionSucceeded(c.name, roster)
	if err != nil {
		return err
	}
	conn.Send(frame)
	return nil
}
