package endpoint

import (
	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

// LocalRef is an aggregator's handle on a hub running in the same process.
// Each ref is scoped to one (node, service) pair, so CloseAllStreams only
// affects that service's subjects.
type LocalRef struct {
	hub      *Hub
	service  string
	consumer Consumer
}

// NewLocalRef builds a same-process endpoint ref for the service, delivering
// stream events to the given consumer.
func NewLocalRef(hub *Hub, service string, consumer Consumer) *LocalRef {
	return &LocalRef{hub: hub, service: service, consumer: consumer}
}

// ID identifies the endpoint as node/service.
func (r *LocalRef) ID() string { return r.hub.NodeID() + "/" + r.service }

// OpenStream opens one subject.
func (r *LocalRef) OpenStream(s subject.Subject) { r.hub.OpenStream(r.consumer, s) }

// OpenStreams opens a batch of subjects.
func (r *LocalRef) OpenStreams(s []subject.Subject) { r.hub.OpenStreams(r.consumer, s) }

// CloseStream closes one subject.
func (r *LocalRef) CloseStream(s subject.Subject) { r.hub.CloseStream(r.consumer, s) }

// CloseAllStreams detaches the consumer from every subject of the service.
func (r *LocalRef) CloseAllStreams() { r.hub.CloseAllFor(r.consumer, r.service) }

// RequestReset asks for a fresh snapshot.
func (r *LocalRef) RequestReset(s subject.Subject) { r.hub.Reset(r.consumer, s) }

// GrantDemand hands the hub n more upstream tokens for this consumer.
func (r *LocalRef) GrantDemand(n int) { r.hub.GrantDemand(r.consumer, n) }

// Signal forwards a consumer signal to the producing service.
func (r *LocalRef) Signal(sig dialect.Signal) { r.hub.Signal(r.consumer, sig) }
