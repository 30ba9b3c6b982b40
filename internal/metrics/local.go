package metrics

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/revurb-io/revurb/internal/channel"
)

// Query names the statistics a control-plane request can ask for.
const (
	QueryChannels     = "channels"
	QueryChannel      = "channel"
	QueryChannelUsers = "channel_users"
	QueryConnections  = "connections"
)

// ErrNotPresence is returned when a user listing is requested for a channel
// that does not track members.
var ErrNotPresence = errors.New("channel is not a presence channel")

// Options narrows a query. Prefix applies to channel listings; Channel names
// the target of single-channel queries.
type Options struct {
	Prefix  string `json:"filter_by_prefix,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// ChannelStats is one channel's view in a snapshot. UserCount is only set for
// presence channels and Cache only for cache channels holding a payload.
type ChannelStats struct {
	SubscriptionCount int  `json:"subscription_count"`
	UserCount         int  `json:"user_count,omitempty"`
	Cache             bool `json:"cache,omitempty"`
}

// Snapshot is one node's answer to a query. Fleet gathering merges snapshots
// from every node into a single view.
type Snapshot struct {
	Channels    map[string]ChannelStats `json:"channels,omitempty"`
	Users       []string                `json:"users,omitempty"`
	Connections []string                `json:"connections,omitempty"`
}

// Locator resolves the channel manager for an application on this node. The
// gateway hub implements it.
type Locator interface {
	ChannelManager(appID string) *channel.Manager
}

// Local answers queries from this node's channel state.
type Local struct {
	locator Locator
}

// NewLocal creates a local statistics source backed by the locator.
func NewLocal(locator Locator) *Local {
	return &Local{locator: locator}
}

// Snapshot computes the requested statistics from local channel state. An
// unknown application or unoccupied channel yields an empty snapshot; only a
// user listing on a non-presence channel is an error.
func (l *Local) Snapshot(appID, query string, opts Options) (Snapshot, error) {
	mgr := l.locator.ChannelManager(appID)
	if mgr == nil {
		return Snapshot{}, nil
	}

	switch query {
	case QueryChannels:
		return snapshotChannels(mgr, opts.Prefix), nil
	case QueryChannel:
		return snapshotChannel(mgr, opts.Channel), nil
	case QueryChannelUsers:
		return snapshotUsers(mgr, opts.Channel)
	case QueryConnections:
		return snapshotConnections(mgr), nil
	default:
		return Snapshot{}, errors.New("unknown metrics query: " + query)
	}
}

func snapshotChannels(mgr *channel.Manager, prefix string) Snapshot {
	out := Snapshot{Channels: make(map[string]ChannelStats)}
	for _, ch := range mgr.All() {
		if prefix != "" && !strings.HasPrefix(ch.Name(), prefix) {
			continue
		}
		out.Channels[ch.Name()] = statsFor(ch)
	}
	return out
}

func snapshotChannel(mgr *channel.Manager, name string) Snapshot {
	ch := mgr.Find(name)
	if ch == nil {
		return Snapshot{}
	}
	return Snapshot{Channels: map[string]ChannelStats{name: statsFor(ch)}}
}

func snapshotUsers(mgr *channel.Manager, name string) (Snapshot, error) {
	ch := mgr.Find(name)
	if ch == nil {
		if !channel.IsPresenceName(name) {
			return Snapshot{}, ErrNotPresence
		}
		return Snapshot{}, nil
	}
	presence, ok := ch.(channel.Presence)
	if !ok {
		return Snapshot{}, ErrNotPresence
	}
	users := presence.Users()
	sort.Strings(users)
	return Snapshot{Users: users}, nil
}

func snapshotConnections(mgr *channel.Manager) Snapshot {
	conns := mgr.Connections()
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Snapshot{Connections: ids}
}

func statsFor(ch channel.Channel) ChannelStats {
	stats := ChannelStats{SubscriptionCount: len(ch.Connections())}
	if presence, ok := ch.(channel.Presence); ok {
		stats.UserCount = presence.UserCount()
	}
	if cacher, ok := ch.(channel.Cacher); ok {
		stats.Cache = cacher.HasCachedPayload()
	}
	return stats
}

// Merge folds other into s: channel counts are summed, user and connection
// listings are unioned.
func (s *Snapshot) Merge(other Snapshot) {
	for name, stats := range other.Channels {
		if s.Channels == nil {
			s.Channels = make(map[string]ChannelStats)
		}
		merged := s.Channels[name]
		merged.SubscriptionCount += stats.SubscriptionCount
		merged.UserCount += stats.UserCount
		merged.Cache = merged.Cache || stats.Cache
		s.Channels[name] = merged
	}
	s.Users = union(s.Users, other.Users)
	s.Connections = union(s.Connections, other.Connections)
}

func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	out := a
	for _, v := range b {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// EncodeOptions serialises query options for the bus.
func EncodeOptions(opts Options) json.RawMessage {
	raw, _ := json.Marshal(opts)
	return raw
}

// DecodeOptions parses query options from a bus envelope. A missing options
// field decodes to the zero value.
func DecodeOptions(raw json.RawMessage) (Options, error) {
	if len(raw) == 0 {
		return Options{}, nil
	}
	var opts Options
	err := json.Unmarshal(raw, &opts)
	return opts, err
}
