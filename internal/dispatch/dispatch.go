// Package dispatch routes event broadcasts between the local node and the
// scaling bus. The dispatcher is the single entry point for anything that
// fans an event out to channel members, whether it originated on an API call,
// a client connection, or a peer node.
package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/channel"
	"github.com/revurb-io/revurb/internal/metrics"
	"github.com/revurb-io/revurb/internal/pubsub"
)

// Locator resolves per-application channel managers. The gateway hub
// implements it.
type Locator interface {
	ChannelManager(appID string) *channel.Manager
}

// Terminator closes every connection belonging to a user. The gateway hub
// implements it.
type Terminator interface {
	Terminate(appID, userID string) int
}

// Dispatcher delivers events to local channel members and mirrors them to the
// bus when horizontal scaling is enabled. With a nil bus everything stays
// node-local.
type Dispatcher struct {
	nodeID     string
	locator    Locator
	terminator Terminator
	bus        pubsub.Bus
	busChannel string
	collectors *metrics.Collectors
	log        zerolog.Logger
}

// NewDispatcher wires the dispatcher. bus may be nil to disable scaling.
func NewDispatcher(nodeID string, locator Locator, terminator Terminator, bus pubsub.Bus, busChannel string, collectors *metrics.Collectors, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		nodeID:     nodeID,
		locator:    locator,
		terminator: terminator,
		bus:        bus,
		busChannel: busChannel,
		collectors: collectors,
		log:        logger.With().Str("component", "dispatch").Logger(),
	}
}

// Trigger broadcasts an API-originated event: local members receive it, cache
// channels record it as their current payload, and peers replay it the same
// way. Triggering an unoccupied channel is a no-op locally but still reaches
// peers that may hold members.
func (d *Dispatcher) Trigger(ctx context.Context, appID, channelName string, payload []byte, exceptSocketID string) error {
	d.deliverLocal(appID, channelName, payload, exceptSocketID, false)
	return d.mirror(ctx, appID, channelName, payload, exceptSocketID, false)
}

// TriggerInternally broadcasts a client-originated event. It never touches
// channel caches, locally or on peers.
func (d *Dispatcher) TriggerInternally(ctx context.Context, appID, channelName string, payload []byte, exceptSocketID string) error {
	d.deliverLocal(appID, channelName, payload, exceptSocketID, true)
	return d.mirror(ctx, appID, channelName, payload, exceptSocketID, true)
}

// Terminate closes the user's connections on this node and, when scaling,
// asks every peer to do the same. It returns the local closure count.
func (d *Dispatcher) Terminate(ctx context.Context, appID, userID string) (int, error) {
	closed := d.terminator.Terminate(appID, userID)
	if d.bus == nil {
		return closed, nil
	}

	payload, err := pubsub.Envelope{
		Type:          pubsub.TypeTerminate,
		NodeID:        d.nodeID,
		ApplicationID: appID,
		UserID:        userID,
	}.Encode()
	if err != nil {
		return closed, err
	}
	if _, err := d.bus.Publish(ctx, d.busChannel, payload); err != nil {
		return closed, err
	}
	d.collectors.BusPublished.Inc()
	return closed, nil
}

// deliverLocal fans the payload out to local channel members.
func (d *Dispatcher) deliverLocal(appID, channelName string, payload []byte, exceptSocketID string, internal bool) {
	mgr := d.locator.ChannelManager(appID)
	if mgr == nil {
		return
	}
	ch := mgr.Find(channelName)
	if ch == nil {
		return
	}
	if internal {
		ch.BroadcastInternally(payload, exceptSocketID)
	} else {
		ch.Broadcast(payload, exceptSocketID)
	}
}

// mirror publishes the event to the bus for peer delivery.
func (d *Dispatcher) mirror(ctx context.Context, appID, channelName string, payload []byte, exceptSocketID string, internal bool) error {
	if d.bus == nil {
		return nil
	}

	raw, err := pubsub.Envelope{
		Type:           pubsub.TypeMessage,
		NodeID:         d.nodeID,
		ApplicationID:  appID,
		Channel:        channelName,
		Payload:        payload,
		ExceptSocketID: exceptSocketID,
		Internal:       internal,
	}.Encode()
	if err != nil {
		return err
	}
	if _, err := d.bus.Publish(ctx, d.busChannel, raw); err != nil {
		return err
	}
	d.collectors.BusPublished.Inc()
	return nil
}
