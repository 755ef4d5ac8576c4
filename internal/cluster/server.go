package cluster

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/endpoint"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// Server exposes a node's endpoint hub on the cluster: it decodes node-link
// records arriving on the node's control subjects and relays them to the
// hub on behalf of remote consumers.
type Server struct {
	nc  *nats.Conn
	hub *endpoint.Hub
	log logpkg.Logger

	sub *nats.Subscription

	mu        sync.Mutex
	consumers map[string]*remoteConsumer
}

// NewServer builds a cluster server for the hub. Call Start to subscribe.
func NewServer(nc *nats.Conn, hub *endpoint.Hub, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Server{
		nc:        nc,
		hub:       hub,
		log:       logger.With(logpkg.Component("cluster-server"), logpkg.Str("node", hub.NodeID())),
		consumers: make(map[string]*remoteConsumer),
	}
}

// Start subscribes to the node's endpoint control subjects.
func (s *Server) Start() error {
	prefix := "rs.node." + s.hub.NodeID() + ".endpoint."
	sub, err := s.nc.Subscribe(prefix+">", func(msg *nats.Msg) { s.handle(prefix, msg) })
	if err != nil {
		return fmt.Errorf("cluster: subscribe %q: %w", prefix+">", err)
	}
	s.sub = sub
	s.log.Info("endpoint exposed on cluster")
	return nil
}

// Stop unsubscribes from the control subjects.
func (s *Server) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *Server) handle(prefix string, msg *nats.Msg) {
	service := strings.TrimPrefix(msg.Subject, prefix)
	consumerID := msg.Header.Get(headerConsumer)
	reply := msg.Header.Get(headerReply)
	if service == "" || consumerID == "" || reply == "" {
		s.log.Warn("node link record without routing headers", logpkg.Str("subject", msg.Subject))
		return
	}
	msgs, err := dialect.DecodeAll(msg.Data)
	if err != nil {
		s.log.Warn("malformed node link record", logpkg.Str("consumer", consumerID), logpkg.Err(err))
		return
	}
	c := s.consumerFor(consumerID, reply)
	for _, m := range msgs {
		switch rec := m.(type) {
		case dialect.OpenLocalStream:
			s.hub.OpenStream(c, rec.Subject)
		case dialect.OpenLocalStreams:
			s.hub.OpenStreams(c, rec.Subjects)
		case dialect.CloseLocalStream:
			s.hub.CloseStream(c, rec.Subject)
		case dialect.CloseAllLocalStreams:
			s.hub.CloseAllFor(c, service)
		case dialect.GrantDemand:
			s.hub.GrantDemand(c, int(rec.N))
		case dialect.ResetLocalStream:
			s.hub.Reset(c, rec.Subject)
		case dialect.ForwardSignal:
			s.hub.Signal(c, rec.Signal)
		default:
			s.log.Warn("unexpected record on node link", logpkg.Str("consumer", consumerID))
		}
	}
}

func (s *Server) consumerFor(id, reply string) *remoteConsumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consumers[id]
	if !ok {
		c = &remoteConsumer{nc: s.nc, id: id, reply: reply, log: s.log.With(logpkg.Str("consumer", id))}
		s.consumers[id] = c
	}
	return c
}

// remoteConsumer relays hub events back to a consumer session's Listener.
type remoteConsumer struct {
	nc    *nats.Conn
	id    string
	reply string
	log   logpkg.Logger
}

var _ endpoint.Consumer = (*remoteConsumer)(nil)

func (c *remoteConsumer) ID() string { return c.id }

func (c *remoteConsumer) publish(m dialect.Message) {
	payload, err := dialect.Encode(m)
	if err != nil {
		c.log.Error("encode consumer event", logpkg.Err(err))
		return
	}
	if err := c.nc.Publish(c.reply, payload); err != nil {
		c.log.Warn("consumer event publish failed", logpkg.Err(err))
	}
}

func (c *remoteConsumer) Snapshot(subj subject.Subject, s streamstate.State) {
	c.publish(dialect.SubjectSnapshot{Subject: subj, State: s})
}

func (c *remoteConsumer) Transition(subj subject.Subject, t streamstate.Transition) {
	c.publish(dialect.SubjectTransition{Subject: subj, Transition: t})
}

func (c *remoteConsumer) StreamClosed(subj subject.Subject) {
	c.publish(dialect.SubjectClosed{Subject: subj})
}

func (c *remoteConsumer) Invalid(subj subject.Subject) {
	c.publish(dialect.SubjectInvalid{Subject: subj})
}

func (c *remoteConsumer) SignalAck(ok bool, correlationID string, payload []byte) {
	if ok {
		c.publish(dialect.SignalAckOk{CorrelationID: correlationID, Payload: payload})
		return
	}
	c.publish(dialect.SignalAckFailed{CorrelationID: correlationID, Payload: payload})
}
