package cluster

import (
	"github.com/nats-io/nats.go"

	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// Header names on node-link messages.
const (
	headerConsumer = "RS-Consumer"
	headerReply    = "RS-Reply"
)

// ctrlSubject builds the control subject of a (node, service) endpoint.
func ctrlSubject(nodeID, service string) string {
	return "rs.node." + nodeID + ".endpoint." + service
}

// consumerSubject builds a consumer session's event subject.
func consumerSubject(consumerID string) string {
	return "rs.consumer." + consumerID
}

// RemoteRef is an aggregator's handle on an endpoint hub hosted on another
// node, reached over NATS. It implements the same contract as a local ref;
// every call publishes one node-link record.
type RemoteRef struct {
	nc         *nats.Conn
	nodeID     string
	service    string
	consumerID string
	log        logpkg.Logger
}

// NewRemoteRef builds a ref for the service hosted on nodeID, with events
// flowing back to the consumer's Listener subject.
func NewRemoteRef(nc *nats.Conn, nodeID, service, consumerID string, logger logpkg.Logger) *RemoteRef {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &RemoteRef{
		nc:         nc,
		nodeID:     nodeID,
		service:    service,
		consumerID: consumerID,
		log:        logger.With(logpkg.Component("cluster-ref"), logpkg.Str("node", nodeID), logpkg.Str("service", service)),
	}
}

// ID identifies the endpoint as node/service, matching local refs so a
// relocation between processes and within one process look the same.
func (r *RemoteRef) ID() string { return r.nodeID + "/" + r.service }

func (r *RemoteRef) publish(m dialect.Message) {
	payload, err := dialect.Encode(m)
	if err != nil {
		r.log.Error("encode node-link record", logpkg.Err(err))
		return
	}
	msg := nats.NewMsg(ctrlSubject(r.nodeID, r.service))
	msg.Header.Set(headerConsumer, r.consumerID)
	msg.Header.Set(headerReply, consumerSubject(r.consumerID))
	msg.Data = payload
	if err := r.nc.PublishMsg(msg); err != nil {
		r.log.Warn("node link publish failed", logpkg.Err(err))
	}
}

// OpenStream opens one subject on the remote hub.
func (r *RemoteRef) OpenStream(s subject.Subject) { r.publish(dialect.OpenLocalStream{Subject: s}) }

// OpenStreams opens a batch of subjects.
func (r *RemoteRef) OpenStreams(s []subject.Subject) {
	r.publish(dialect.OpenLocalStreams{Subjects: s})
}

// CloseStream closes one subject.
func (r *RemoteRef) CloseStream(s subject.Subject) { r.publish(dialect.CloseLocalStream{Subject: s}) }

// CloseAllStreams detaches the consumer from every subject of the service.
func (r *RemoteRef) CloseAllStreams() { r.publish(dialect.CloseAllLocalStreams{}) }

// RequestReset asks for a fresh snapshot.
func (r *RemoteRef) RequestReset(s subject.Subject) { r.publish(dialect.ResetLocalStream{Subject: s}) }

// GrantDemand hands the remote hub n more upstream tokens.
func (r *RemoteRef) GrantDemand(n int) {
	if n <= 0 {
		return
	}
	r.publish(dialect.GrantDemand{N: uint32(n)})
}

// Signal forwards a consumer signal, acks flowing back to the consumer
// subject.
func (r *RemoteRef) Signal(sig dialect.Signal) {
	r.publish(dialect.ForwardSignal{Signal: sig, ReplyTo: consumerSubject(r.consumerID)})
}
