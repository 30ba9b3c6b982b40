package pubsub

import "encoding/json"

// Envelope type tags.
const (
	TypeMessage          = "message"
	TypeMetrics          = "metrics"
	TypeMetricsRetrieved = "metrics-retrieved"
	TypeTerminate        = "terminate"
)

// Envelope is the language-neutral JSON payload carried on the bus. One
// struct covers all four tags; unused fields are omitted so heterogeneous
// nodes can interoperate.
type Envelope struct {
	Type string `json:"type"`

	// NodeID identifies the publishing node. Receivers drop their own
	// message and terminate envelopes, which were already applied locally;
	// metrics requests are answered regardless of origin.
	NodeID string `json:"node_id,omitempty"`

	// message
	ApplicationID  string          `json:"application_id,omitempty"`
	Channel        string          `json:"channel,omitempty"`
	Payload        json.RawMessage `json:"event_payload,omitempty"`
	ExceptSocketID string          `json:"except_socket_id,omitempty"`
	// Internal marks client-originated events, which must not refresh
	// channel caches on receiving nodes. API-origin events omit it.
	Internal bool `json:"internal,omitempty"`

	// metrics / metrics-retrieved
	RequestKey string          `json:"request_key,omitempty"`
	MetricType string          `json:"metric_type,omitempty"`
	Options    json.RawMessage `json:"options,omitempty"`

	// terminate
	UserID string `json:"user_id,omitempty"`
}

// Encode serialises the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a bus payload.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(raw, &e)
	return e, err
}
