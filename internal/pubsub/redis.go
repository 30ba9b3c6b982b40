package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus implements Bus over two go-redis clients. Publishes that fail on a
// broken connection are queued in order and flushed by a background retry
// loop, so nothing sent during a transient outage is silently dropped.
type RedisBus struct {
	pub *redis.Client
	sub *redis.Client
	log zerolog.Logger

	mu      sync.Mutex
	backlog []pendingPublish
	closed  bool

	flushInterval time.Duration
	done          chan struct{}
	flushOnce     sync.Once
}

type pendingPublish struct {
	channel string
	payload []byte
}

// NewRedisBus creates a bus over distinct publisher and subscriber clients.
func NewRedisBus(pub, sub *redis.Client, logger zerolog.Logger) *RedisBus {
	return &RedisBus{
		pub:           pub,
		sub:           sub,
		log:           logger.With().Str("component", "pubsub").Logger(),
		flushInterval: time.Second,
		done:          make(chan struct{}),
	}
}

// Publish sends payload on the bus channel and returns the recipient count.
// On a connection failure the payload is queued for the retry loop and no
// error is surfaced; the caller's contract is delivery, not confirmation.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	b.mu.Lock()
	if len(b.backlog) > 0 {
		// Preserve publish order behind messages already waiting.
		b.backlog = append(b.backlog, pendingPublish{channel: channel, payload: payload})
		b.mu.Unlock()
		b.startFlusher()
		return 0, nil
	}
	b.mu.Unlock()

	n, err := b.pub.Publish(ctx, channel, payload).Result()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		b.log.Warn().Err(err).Str("channel", channel).Msg("Publish failed, queueing for retry")
		b.mu.Lock()
		b.backlog = append(b.backlog, pendingPublish{channel: channel, payload: payload})
		b.mu.Unlock()
		b.startFlusher()
		return 0, nil
	}
	return n, nil
}

// startFlusher launches the retry loop on first use.
func (b *RedisBus) startFlusher() {
	b.flushOnce.Do(func() {
		go b.flushLoop()
	})
}

// flushLoop retries queued publishes in order until the bus is closed.
func (b *RedisBus) flushLoop() {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.flush()
		}
	}
}

// flush attempts the queued publishes front to back, stopping at the first
// failure to preserve ordering.
func (b *RedisBus) flush() {
	for {
		b.mu.Lock()
		if len(b.backlog) == 0 {
			b.mu.Unlock()
			return
		}
		next := b.backlog[0]
		b.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := b.pub.Publish(ctx, next.channel, next.payload).Err()
		cancel()
		if err != nil {
			return
		}

		b.mu.Lock()
		b.backlog = b.backlog[1:]
		b.mu.Unlock()
		b.log.Debug().Str("channel", next.channel).Msg("Flushed queued publish")
	}
}

// Backlog returns the number of publishes awaiting retry.
func (b *RedisBus) Backlog() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.backlog)
}

// Subscribe consumes the bus channel, invoking handler per message. It blocks
// until the context is cancelled; the underlying client transparently
// re-establishes the subscription after connection loss.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	sub := b.sub.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	b.log.Info().Str("channel", channel).Msg("Subscribed to bus channel")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler([]byte(msg.Payload))
		}
	}
}

// Close stops the retry loop and closes both clients.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	err := b.pub.Close()
	if subErr := b.sub.Close(); err == nil {
		err = subErr
	}
	return err
}
