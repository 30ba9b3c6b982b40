package metrics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/pubsub"
)

// GatherTimeout bounds how long a fleet query waits for peer replies. Replies
// arriving after the deadline are discarded.
const GatherTimeout = 10 * time.Second

// Aggregator answers statistics queries. Without a bus it serves local state
// only; with one it broadcasts a request keyed by a fresh UUID and merges one
// snapshot per node, including its own.
type Aggregator struct {
	local      *Local
	bus        pubsub.Bus
	busChannel string
	log        zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan Snapshot
}

// NewAggregator creates an aggregator over the local source. bus may be nil
// when horizontal scaling is disabled.
func NewAggregator(local *Local, bus pubsub.Bus, busChannel string, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		local:      local,
		bus:        bus,
		busChannel: busChannel,
		log:        logger.With().Str("component", "metrics").Logger(),
		pending:    make(map[string]chan Snapshot),
	}
}

// Gather resolves a query across the fleet. Every subscribed node, this one
// included, answers via the bus; the merge completes when all expected
// replies arrive or the timeout elapses, whichever is first.
func (a *Aggregator) Gather(ctx context.Context, appID, query string, opts Options) (Snapshot, error) {
	if a.bus == nil {
		return a.local.Snapshot(appID, query, opts)
	}

	key := uuid.NewString()
	replies := make(chan Snapshot, 16)

	a.mu.Lock()
	a.pending[key] = replies
	a.mu.Unlock()
	defer a.forget(key)

	payload, err := pubsub.Envelope{
		Type:          pubsub.TypeMetrics,
		ApplicationID: appID,
		RequestKey:    key,
		MetricType:    query,
		Options:       EncodeOptions(opts),
	}.Encode()
	if err != nil {
		return Snapshot{}, err
	}

	expected, err := a.bus.Publish(ctx, a.busChannel, payload)
	if err != nil {
		return Snapshot{}, err
	}
	if expected == 0 {
		// Bus outage: the publish was queued for retry, but waiting for
		// replies that may never come helps nobody. Serve local state.
		return a.local.Snapshot(appID, query, opts)
	}

	var merged Snapshot
	timeout := time.NewTimer(GatherTimeout)
	defer timeout.Stop()

	for received := int64(0); received < expected; {
		select {
		case <-ctx.Done():
			return merged, ctx.Err()
		case <-timeout.C:
			a.log.Warn().
				Str("request_key", key).
				Int64("expected", expected).
				Int64("received", received).
				Msg("Metrics gather timed out, returning partial result")
			return merged, nil
		case snap := <-replies:
			merged.Merge(snap)
			received++
		}
	}
	return merged, nil
}

// HandleRequest answers a fleet query with this node's local snapshot,
// published back on the bus under the request key. The bridge routes inbound
// `metrics` envelopes here, including the node's own.
func (a *Aggregator) HandleRequest(ctx context.Context, env pubsub.Envelope) {
	opts, err := DecodeOptions(env.Options)
	if err != nil {
		a.log.Warn().Err(err).Str("request_key", env.RequestKey).Msg("Dropping metrics request with bad options")
		return
	}

	snap, err := a.local.Snapshot(env.ApplicationID, env.MetricType, opts)
	if err != nil {
		// The requester falls through to its timeout; an error snapshot
		// has no representation on the wire.
		snap = Snapshot{}
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		a.log.Error().Err(err).Msg("Encoding metrics snapshot failed")
		return
	}

	reply, err := pubsub.Envelope{
		Type:          pubsub.TypeMetricsRetrieved,
		ApplicationID: env.ApplicationID,
		RequestKey:    env.RequestKey,
		Payload:       raw,
	}.Encode()
	if err != nil {
		a.log.Error().Err(err).Msg("Encoding metrics reply failed")
		return
	}
	if _, err := a.bus.Publish(ctx, a.busChannel, reply); err != nil {
		a.log.Warn().Err(err).Str("request_key", env.RequestKey).Msg("Publishing metrics reply failed")
	}
}

// HandleReply feeds a peer snapshot to the waiting gather. Replies for
// unknown or expired request keys are discarded.
func (a *Aggregator) HandleReply(env pubsub.Envelope) {
	var snap Snapshot
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		a.log.Warn().Err(err).Str("request_key", env.RequestKey).Msg("Dropping malformed metrics reply")
		return
	}

	a.mu.Lock()
	replies, ok := a.pending[env.RequestKey]
	a.mu.Unlock()
	if !ok {
		a.log.Debug().Str("request_key", env.RequestKey).Msg("Discarding late metrics reply")
		return
	}

	select {
	case replies <- snap:
	default:
		a.log.Warn().Str("request_key", env.RequestKey).Msg("Metrics reply buffer full, dropping")
	}
}

func (a *Aggregator) forget(key string) {
	a.mu.Lock()
	delete(a.pending, key)
	a.mu.Unlock()
}
