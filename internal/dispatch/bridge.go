package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/metrics"
	"github.com/revurb-io/revurb/internal/pubsub"
)

// Bridge consumes the bus channel and applies peer traffic to this node.
// Malformed envelopes are logged and dropped; one bad peer must not take the
// subscription down.
type Bridge struct {
	nodeID     string
	bus        pubsub.Bus
	busChannel string
	dispatcher *Dispatcher
	aggregator *metrics.Aggregator
	collectors *metrics.Collectors
	log        zerolog.Logger
}

// NewBridge wires the inbound side of the bus.
func NewBridge(nodeID string, bus pubsub.Bus, busChannel string, dispatcher *Dispatcher, aggregator *metrics.Aggregator, collectors *metrics.Collectors, logger zerolog.Logger) *Bridge {
	return &Bridge{
		nodeID:     nodeID,
		bus:        bus,
		busChannel: busChannel,
		dispatcher: dispatcher,
		aggregator: aggregator,
		collectors: collectors,
		log:        logger.With().Str("component", "bridge").Logger(),
	}
}

// Run blocks on the bus subscription until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	return b.bus.Subscribe(ctx, b.busChannel, func(payload []byte) {
		b.handle(ctx, payload)
	})
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	env, err := pubsub.DecodeEnvelope(payload)
	if err != nil {
		b.log.Warn().Err(err).Msg("Dropping malformed bus payload")
		return
	}
	b.collectors.BusReceived.Inc()

	switch env.Type {
	case pubsub.TypeMessage:
		if env.NodeID == b.nodeID {
			return
		}
		b.dispatcher.deliverLocal(env.ApplicationID, env.Channel, env.Payload, env.ExceptSocketID, env.Internal)
	case pubsub.TypeMetrics:
		// Answered by every node, the requester included: it counts its
		// own reply toward the expected total.
		b.aggregator.HandleRequest(ctx, env)
	case pubsub.TypeMetricsRetrieved:
		b.aggregator.HandleReply(env)
	case pubsub.TypeTerminate:
		if env.NodeID == b.nodeID {
			return
		}
		b.dispatcher.terminator.Terminate(env.ApplicationID, env.UserID)
	default:
		b.log.Warn().Str("type", env.Type).Msg("Dropping bus payload with unknown type")
	}
}
