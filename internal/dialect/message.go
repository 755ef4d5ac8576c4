package dialect

import (
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

// Record kind tags. Stable wire values; 0x20+ is reserved for the node
// link (nodelink.go).
const (
	kindAlias             byte = 0x01
	kindOpenSubscription  byte = 0x02
	kindCloseSubscription byte = 0x03
	kindResetSubscription byte = 0x04
	kindSignal            byte = 0x05
	kindPing              byte = 0x06
	kindPong              byte = 0x07

	kindStreamStateUpdate           byte = 0x10
	kindStreamStateTransitionUpdate byte = 0x11
	kindSubscriptionClosed          byte = 0x12
	kindServiceNotAvailable         byte = 0x13
	kindInvalidRequest              byte = 0x14
	kindSignalAckOk                 byte = 0x15
	kindSignalAckFailed             byte = 0x16
)

// Message is any record of the dialect.
type Message interface {
	dialectMessage()
}

// Alias registers a small integer handle for a subject. Aliases are issued
// by the consumer side, are unique per connection, and are never reused.
type Alias struct {
	Alias   uint32
	Subject subject.Subject
}

// OpenSubscription opens the stream registered under Alias. PriorityKey nil
// selects the default (lowest-priority) group; AggregationMs of zero
// disables coalescing.
type OpenSubscription struct {
	Alias         uint32
	PriorityKey   *string
	AggregationMs uint32
}

// CloseSubscription closes the stream registered under Alias.
type CloseSubscription struct {
	Alias uint32
}

// ResetSubscription requests a full snapshot for the stream.
type ResetSubscription struct {
	Alias uint32
}

// Signal is a fire-and-forget payload routed to the producing service.
// Producers drop signals whose expiry is past. A non-nil CorrelationID
// requests an ack.
type Signal struct {
	Subject        subject.Subject
	Payload        []byte
	ExpireAtMillis int64
	OrderingGroup  *string
	CorrelationID  *string
}

// Ping is a liveness probe; either side may initiate.
type Ping struct {
	ID uint32
}

// Pong answers a Ping, echoing its id.
type Pong struct {
	ID uint32
}

// StreamStateUpdate carries a full state snapshot for an open stream.
type StreamStateUpdate struct {
	Alias uint32
	State streamstate.State
}

// StreamStateTransitionUpdate carries a delta for an open stream.
type StreamStateTransitionUpdate struct {
	Alias      uint32
	Transition streamstate.Transition
}

// SubscriptionClosed tells the consumer the producer closed the stream.
type SubscriptionClosed struct {
	Alias uint32
}

// ServiceNotAvailable tells the consumer no binding exists for the service.
type ServiceNotAvailable struct {
	Service string
}

// InvalidRequest tells the consumer a request for the alias was rejected.
type InvalidRequest struct {
	Alias uint32
}

// SignalAckOk acknowledges a correlated signal.
type SignalAckOk struct {
	CorrelationID string
	Payload       []byte
}

// SignalAckFailed reports a correlated signal that was rejected or expired.
type SignalAckFailed struct {
	CorrelationID string
	Payload       []byte
}

func (Alias) dialectMessage()                       {}
func (OpenSubscription) dialectMessage()            {}
func (CloseSubscription) dialectMessage()           {}
func (ResetSubscription) dialectMessage()           {}
func (Signal) dialectMessage()                      {}
func (Ping) dialectMessage()                        {}
func (Pong) dialectMessage()                        {}
func (StreamStateUpdate) dialectMessage()           {}
func (StreamStateTransitionUpdate) dialectMessage() {}
func (SubscriptionClosed) dialectMessage()          {}
func (ServiceNotAvailable) dialectMessage()         {}
func (InvalidRequest) dialectMessage()              {}
func (SignalAckOk) dialectMessage()                 {}
func (SignalAckFailed) dialectMessage()             {}
