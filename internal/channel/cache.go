package channel

import (
	"sync"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/protocol"
)

// cacheState holds the last externally-originated broadcast of a cache
// channel. Client chatter (BroadcastInternally) never touches it.
type cacheState struct {
	mu      sync.RWMutex
	payload []byte
}

func (s *cacheState) store(payload []byte) {
	s.mu.Lock()
	s.payload = payload
	s.mu.Unlock()
}

func (s *cacheState) load() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.payload, s.payload != nil
}

// replayTo sends the cached payload to a new subscriber, or a cache_miss
// notification when nothing has been broadcast yet.
func (s *cacheState) replayTo(name string, conn Subscriber) error {
	if payload, ok := s.load(); ok {
		conn.Send(payload)
		return nil
	}
	miss, err := protocol.NewCacheMiss(name)
	if err != nil {
		return err
	}
	conn.Send(miss)
	return nil
}

// CacheChannel is a public channel that replays the last broadcast to new
// subscribers.
type CacheChannel struct {
	PublicChannel
	cache cacheState
}

// NewCache creates an empty cache channel.
func NewCache(a *app.Application, name string) *CacheChannel {
	c := &CacheChannel{}
	c.init(a, name)
	return c
}

// Subscribe admits the connection then replays the cached payload (or emits
// cache_miss) after the acknowledgement. A duplicate subscribe is a pure
// re-acknowledgement: no second replay.
func (c *CacheChannel) Subscribe(conn Subscriber, token, channelData string) error {
	rejoin := c.isMember(conn.ID())
	if err := c.PublicChannel.Subscribe(conn, token, channelData); err != nil {
		return err
	}
	if rejoin {
		return nil
	}
	return c.cache.replayTo(c.name, conn)
}

// Broadcast records the payload as the channel's current state, then fans out.
func (c *CacheChannel) Broadcast(payload []byte, except string) {
	c.cache.store(payload)
	c.PublicChannel.Broadcast(payload, except)
}

// HasCachedPayload reports whether a payload has been cached.
func (c *CacheChannel) HasCachedPayload() bool {
	_, ok := c.cache.load()
	return ok
}

// CachedPayload returns the cached payload, if any.
func (c *CacheChannel) CachedPayload() ([]byte, bool) {
	return c.cache.load()
}

// PrivateCacheChannel combines private auth with cache replay.
type PrivateCacheChannel struct {
	PrivateChannel
	cache cacheState
}

// NewPrivateCache creates an empty private cache channel.
func NewPrivateCache(a *app.Application, name string) *PrivateCacheChannel {
	c := &PrivateCacheChannel{}
	c.init(a, name)
	return c
}

// Subscribe verifies auth, admits the connection, then replays on first join.
func (c *PrivateCacheChannel) Subscribe(conn Subscriber, token, channelData string) error {
	rejoin := c.isMember(conn.ID())
	if err := c.PrivateChannel.Subscribe(conn, token, channelData); err != nil {
		return err
	}
	if rejoin {
		return nil
	}
	return c.cache.replayTo(c.name, conn)
}

// Broadcast records then fans out.
func (c *PrivateCacheChannel) Broadcast(payload []byte, except string) {
	c.cache.store(payload)
	c.PrivateChannel.Broadcast(payload, except)
}

// HasCachedPayload reports whether a payload has been cached.
func (c *PrivateCacheChannel) HasCachedPayload() bool {
	_, ok := c.cache.load()
	return ok
}

// CachedPayload returns the cached payload, if any.
func (c *PrivateCacheChannel) CachedPayload() ([]byte, bool) {
	return c.cache.load()
}

// PresenceCacheChannel combines presence membership with cache replay.
type PresenceCacheChannel struct {
	PresenceChannel
	cache cacheState
}

// NewPresenceCache creates an empty presence cache channel.
func NewPresenceCache(a *app.Application, name string) *PresenceCacheChannel {
	c := &PresenceCacheChannel{}
	c.init(a, name)
	return c
}

// Subscribe runs the presence admission flow then replays on first join.
func (c *PresenceCacheChannel) Subscribe(conn Subscriber, token, channelData string) error {
	rejoin := c.isMember(conn.ID())
	if err := c.PresenceChannel.Subscribe(conn, token, channelData); err != nil {
		return err
	}
	if rejoin {
		return nil
	}
	return c.cache.replayTo(c.name, conn)
}

// Broadcast records then fans out.
func (c *PresenceCacheChannel) Broadcast(payload []byte, except string) {
	c.cache.store(payload)
	c.PresenceChannel.Broadcast(payload, except)
}

// HasCachedPayload reports whether a payload has been cached.
func (c *PresenceCacheChannel) HasCachedPayload() bool {
	_, ok := c.cache.load()
	return ok
}

// CachedPayload returns the cached payload, if any.
func (c *PresenceCacheChannel) CachedPayload() ([]byte, bool) {
	return c.cache.load()
}
