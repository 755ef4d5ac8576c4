package aggregator

import (
	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

// EventKind discriminates consumer-bound events.
type EventKind uint8

// Consumer-bound event kinds
const (
	EventSnapshot EventKind = iota + 1
	EventTransition
	EventClosed
	EventNotAvailable
	EventInvalid
	EventSignalAckOk
	EventSignalAckFailed
)

// Event is one consumer-bound message, keyed by subject. The connection
// boundary translates subjects to wire aliases; the aggregator never sees
// aliases.
type Event struct {
	Kind          EventKind
	Subject       subject.Subject
	Service       string
	State         streamstate.State
	Transition    streamstate.Transition
	CorrelationID string
	Payload       []byte
}

// Sink receives consumer-bound events. Each Send consumes one unit of the
// demand the sink previously granted via Aggregator.AddDemand; the
// aggregator never calls Send without available demand.
type Sink interface {
	Send(ev Event)
}

// EndpointRef is the aggregator's handle on a producer-side endpoint hub,
// local or remote. Calls are asynchronous messages; none of them block on
// the remote peer.
type EndpointRef interface {
	// ID distinguishes bindings; two refs with the same ID address the
	// same endpoint.
	ID() string

	OpenStream(s subject.Subject)
	OpenStreams(s []subject.Subject)
	CloseStream(s subject.Subject)
	CloseAllStreams()

	// RequestReset asks for a fresh snapshot of the subject.
	RequestReset(s subject.Subject)

	// GrantDemand hands the endpoint n more upstream tokens.
	GrantDemand(n int)

	// Signal forwards a consumer signal to the producing service.
	Signal(sig dialect.Signal)
}

// MetricsHook observes aggregator activity. Implementations must be cheap;
// calls happen on the dispatch path.
type MetricsHook interface {
	EventDispatched(kind EventKind)
	TransitionCoalesced()
	TransitionDropped()
	DemandChanged(n int)
	SubscriptionsChanged(n int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) EventDispatched(EventKind) {}
func (NoopMetrics) TransitionCoalesced()      {}
func (NoopMetrics) TransitionDropped()        {}
func (NoopMetrics) DemandChanged(int)         {}
func (NoopMetrics) SubscriptionsChanged(int)  {}
