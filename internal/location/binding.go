package location

import "context"

// Endpoint describes where a service is currently produced.
type Endpoint struct {
	Service string `json:"service"`
	NodeID  string `json:"nodeId"`
}

// Change reports a binding update. A nil Location means the service is no
// longer produced anywhere.
type Change struct {
	Service  string
	Location *Endpoint
}

// Binding is the location registry contract consumed by consumer sessions
// and fed by producing nodes.
type Binding interface {
	// Watch returns a channel that first replays the current table and then
	// streams changes until ctx is cancelled or the binding closes.
	Watch(ctx context.Context) (<-chan Change, error)

	// Advertise publishes the endpoint as the service's current location.
	Advertise(ctx context.Context, ep Endpoint) error

	// Withdraw removes the service's location.
	Withdraw(ctx context.Context, service string) error

	// Close releases watcher resources.
	Close() error
}
