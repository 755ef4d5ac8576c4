package transports

import "context"

// SubscribeRequest describes a subscription request for a topic stream.
type SubscribeRequest struct {
	Service       string
	Topic         string
	Tags          map[string]string
	PriorityKey   *string
	AggregationMs int
}

// Update is one subscription event as surfaced to the CLI.
type Update struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	State   any    `json:"state,omitempty"`
}

// SignalRequest describes a signal to send toward a producing service.
type SignalRequest struct {
	Service  string
	Topic    string
	Tags     map[string]string
	Payload  []byte
	ExpiryMs int64
	// Await requests a correlated ack; without it the signal is
	// fire-and-forget.
	Await bool
}

// Ack is the outcome of an awaited signal.
type Ack struct {
	OK      bool   `json:"ok"`
	Payload []byte `json:"payload,omitempty"`
}

// StreamTransport abstracts the transport used by the CLI.
type StreamTransport interface {
	// Subscribe streams updates until ctx is cancelled or onUpdate errors.
	Subscribe(ctx context.Context, req SubscribeRequest, onUpdate func(Update) error) error

	// Signal sends a signal; with req.Await it returns the ack.
	Signal(ctx context.Context, req SignalRequest) (Ack, error)
}
