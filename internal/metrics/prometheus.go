// Package metrics provides the broker's operational Prometheus collectors and
// the statistics aggregator that answers control-plane queries locally or
// across the fleet.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the Prometheus instruments the gateway and dispatcher
// feed. All vectors are labelled by application id.
type Collectors struct {
	Connections       *prometheus.GaugeVec
	Subscriptions     *prometheus.GaugeVec
	MessagesReceived  *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	ConnectionsPruned *prometheus.CounterVec
	BusPublished      prometheus.Counter
	BusReceived       prometheus.Counter
}

// NewCollectors registers the broker collectors on reg. The server registers
// on prometheus.DefaultRegisterer; tests pass their own registry.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		Connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "revurb_connections",
			Help: "Open WebSocket connections per application",
		}, []string{"app"}),
		Subscriptions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "revurb_subscriptions",
			Help: "Live channel subscriptions per application",
		}, []string{"app"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "revurb_messages_received_total",
			Help: "Inbound WebSocket messages per application",
		}, []string{"app"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "revurb_messages_sent_total",
			Help: "Outbound WebSocket messages per application",
		}, []string{"app"}),
		ConnectionsPruned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "revurb_connections_pruned_total",
			Help: "Connections evicted for missing their pong deadline",
		}, []string{"app"}),
		BusPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "revurb_bus_published_total",
			Help: "Messages published to the scaling bus",
		}),
		BusReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "revurb_bus_received_total",
			Help: "Messages received from the scaling bus",
		}),
	}
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
