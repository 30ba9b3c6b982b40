// Package pubsub provides the bus that extends local broadcasts across a
// fleet. The core consumes only the Bus interface; the Redis implementation
// keeps a publisher and a subscriber as distinct logical connections and
// queues publishes while the publisher is reconnecting.
package pubsub

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus is the publish/subscribe surface the dispatcher and aggregator use.
// Publish returns the number of subscribers that received the message.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error
	Close() error
}

// Connect parses the bus URL, connects, and pings to verify the connection.
// The valkey:// scheme is accepted as an alias for redis://.
func Connect(ctx context.Context, rawURL string, dialTimeout time.Duration) (*redis.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse bus URL: %w", err)
	}
	if strings.EqualFold(parsed.Scheme, "valkey") {
		parsed.Scheme = "redis"
	}

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("parse bus URL: %w", err)
	}
	opts.DialTimeout = dialTimeout

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping bus: %w", err)
	}

	return client, nil
}
