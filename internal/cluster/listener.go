package cluster

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// EventHandler receives decoded node-link events on the consumer side.
// *aggregator.Aggregator satisfies it.
type EventHandler interface {
	OnSnapshot(subj subject.Subject, s streamstate.State)
	OnTransition(subj subject.Subject, t streamstate.Transition)
	OnStreamClosed(subj subject.Subject)
	OnInvalid(subj subject.Subject)
	OnSignalAck(ok bool, correlationID string, payload []byte)
}

// Listener owns a consumer session's event subject and feeds decoded
// events into the session's aggregator.
type Listener struct {
	nc         *nats.Conn
	consumerID string
	handler    EventHandler
	log        logpkg.Logger
	sub        *nats.Subscription
}

// NewListener builds a listener for the consumer session.
func NewListener(nc *nats.Conn, consumerID string, handler EventHandler, logger logpkg.Logger) *Listener {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Listener{
		nc:         nc,
		consumerID: consumerID,
		handler:    handler,
		log:        logger.With(logpkg.Component("cluster-listener"), logpkg.Str("consumer", consumerID)),
	}
}

// Start subscribes the consumer's event subject.
func (l *Listener) Start() error {
	subj := consumerSubject(l.consumerID)
	sub, err := l.nc.Subscribe(subj, l.handle)
	if err != nil {
		return fmt.Errorf("cluster: subscribe %q: %w", subj, err)
	}
	l.sub = sub
	return nil
}

// Stop unsubscribes the event subject.
func (l *Listener) Stop() error {
	if l.sub == nil {
		return nil
	}
	return l.sub.Unsubscribe()
}

func (l *Listener) handle(msg *nats.Msg) {
	msgs, err := dialect.DecodeAll(msg.Data)
	if err != nil {
		l.log.Warn("malformed consumer event", logpkg.Err(err))
		return
	}
	for _, m := range msgs {
		switch rec := m.(type) {
		case dialect.SubjectSnapshot:
			l.handler.OnSnapshot(rec.Subject, rec.State)
		case dialect.SubjectTransition:
			l.handler.OnTransition(rec.Subject, rec.Transition)
		case dialect.SubjectClosed:
			l.handler.OnStreamClosed(rec.Subject)
		case dialect.SubjectInvalid:
			l.handler.OnInvalid(rec.Subject)
		case dialect.SignalAckOk:
			l.handler.OnSignalAck(true, rec.CorrelationID, rec.Payload)
		case dialect.SignalAckFailed:
			l.handler.OnSignalAck(false, rec.CorrelationID, rec.Payload)
		default:
			l.log.Warn("unexpected record on consumer subject")
		}
	}
}
