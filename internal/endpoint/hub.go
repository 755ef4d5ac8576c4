package endpoint

import (
	"context"
	"time"

	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/service"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// mailboxDepth bounds the hub mailbox; senders block beyond it.
const mailboxDepth = 4096

// signalTimeout bounds a single signal handler invocation.
const signalTimeout = 5 * time.Second

// Consumer is the hub's handle on one attached aggregator, local or
// reached over the cluster. Calls must not block; implementations enqueue.
type Consumer interface {
	ID() string
	Snapshot(subj subject.Subject, s streamstate.State)
	Transition(subj subject.Subject, t streamstate.Transition)
	StreamClosed(subj subject.Subject)
	Invalid(subj subject.Subject)
	SignalAck(ok bool, correlationID string, payload []byte)
}

// Options configures a Hub.
type Options struct {
	NodeID   string
	Registry *service.Registry
	Logger   logpkg.Logger
	// NowMillis is the clock used for signal expiry. Defaults to wall time.
	NowMillis func() int64
}

// Hub is the per-node producer-side dispatch unit.
type Hub struct {
	nodeID    string
	reg       *service.Registry
	log       logpkg.Logger
	nowMillis func() int64

	mbox chan func()
	quit chan struct{}
	done chan struct{}

	links map[string]*link // consumer id → link
}

// pendingUpdate is the latest unsent update for one subject on one link.
// A snapshot absorbs transitions; a transition replaces a transition.
type pendingUpdate struct {
	snap  streamstate.State
	trans streamstate.Transition
}

// link is the hub-side state for one attached consumer.
type link struct {
	consumer Consumer
	demand   int
	subs     map[string]subject.Subject // open subject key → subject
	pending  map[string]*pendingUpdate  // subject key → latest unsent
	order    []string                   // FIFO of subject keys with pending
}

// New builds a hub for the node's service registry. Call Run to start it.
func New(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	if opts.NowMillis == nil {
		opts.NowMillis = func() int64 { return time.Now().UnixMilli() }
	}
	return &Hub{
		nodeID:    opts.NodeID,
		reg:       opts.Registry,
		log:       opts.Logger.With(logpkg.Component("endpoint"), logpkg.Str("node", opts.NodeID)),
		nowMillis: opts.NowMillis,
		mbox:      make(chan func(), mailboxDepth),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		links:     make(map[string]*link),
	}
}

// NodeID returns the hosting node's id.
func (h *Hub) NodeID() string { return h.nodeID }

// Run executes the hub loop until ctx is cancelled or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case f := <-h.mbox:
			f()
		case <-h.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the hub loop. Safe to call more than once.
func (h *Hub) Stop() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	<-h.done
}

func (h *Hub) post(f func()) {
	select {
	case h.mbox <- f:
	case <-h.done:
	}
}

// --- consumer-facing inputs ----------------------------------------------

// OpenStream opens the subject's stream for the consumer and queues the
// first-attach snapshot.
func (h *Hub) OpenStream(c Consumer, subj subject.Subject) {
	h.post(func() { h.handleOpen(c, subj) })
}

// OpenStreams opens a batch of subjects, used after a binding change.
func (h *Hub) OpenStreams(c Consumer, subjects []subject.Subject) {
	h.post(func() {
		for _, s := range subjects {
			h.handleOpen(c, s)
		}
	})
}

// CloseStream stops forwarding the subject to the consumer.
func (h *Hub) CloseStream(c Consumer, subj subject.Subject) {
	h.post(func() { h.handleClose(c, subj) })
}

// CloseAllFor detaches the consumer from every open subject of the given
// service. An empty service detaches everything, used at consumer shutdown.
func (h *Hub) CloseAllFor(c Consumer, svc string) {
	h.post(func() { h.handleCloseAll(c, svc) })
}

// GrantDemand hands the consumer's link n more tokens and flushes pending
// updates.
func (h *Hub) GrantDemand(c Consumer, n int) {
	if n <= 0 {
		return
	}
	h.post(func() {
		l := h.linkFor(c)
		l.demand += n
		h.flush(l)
	})
}

// Reset queues a fresh snapshot for the subject.
func (h *Hub) Reset(c Consumer, subj subject.Subject) {
	h.post(func() { h.handleReset(c, subj) })
}

// Signal delivers a consumer signal to the producing service, enforcing
// expiry, and routes the ack back through the consumer.
func (h *Hub) Signal(c Consumer, sig dialect.Signal) {
	h.post(func() { h.handleSignal(c, sig) })
}

// --- handlers (run-loop only) ---------------------------------------------

func (h *Hub) linkFor(c Consumer) *link {
	l, ok := h.links[c.ID()]
	if !ok {
		l = &link{
			consumer: c,
			subs:     make(map[string]subject.Subject),
			pending:  make(map[string]*pendingUpdate),
		}
		h.links[c.ID()] = l
	}
	return l
}

func (h *Hub) topicFor(subj subject.Subject) (*service.Topic, bool) {
	svc, ok := h.reg.Get(subj.Service)
	if !ok {
		return nil, false
	}
	return svc.Topic(subj)
}

func (h *Hub) handleOpen(c Consumer, subj subject.Subject) {
	topic, ok := h.topicFor(subj)
	if !ok {
		h.log.Warn("open for unknown subject", logpkg.Str("subject", subj.Key()), logpkg.Str("consumer", c.ID()))
		c.Invalid(subj)
		return
	}
	l := h.linkFor(c)
	key := subj.Key()
	if _, open := l.subs[key]; open {
		// Reopen: refresh the snapshot, keep the attachment.
		h.queueSnapshot(l, subj, topic.Snapshot())
		h.flush(l)
		return
	}
	l.subs[key] = subj
	topic.Attach(h.attachID(c), &topicForwarder{hub: h, consumerID: c.ID()})
	h.log.Debug("stream opened", logpkg.Str("subject", key), logpkg.Str("consumer", c.ID()))
}

func (h *Hub) handleClose(c Consumer, subj subject.Subject) {
	l, ok := h.links[c.ID()]
	if !ok {
		return
	}
	key := subj.Key()
	if _, open := l.subs[key]; !open {
		return
	}
	h.detach(l, key)
	h.flush(l)
}

func (h *Hub) handleCloseAll(c Consumer, svc string) {
	l, ok := h.links[c.ID()]
	if !ok {
		return
	}
	for key, subj := range l.subs {
		if svc != "" && subj.Service != svc {
			continue
		}
		h.detach(l, key)
	}
	if len(l.subs) == 0 {
		delete(h.links, c.ID())
	}
}

// detach removes one subject from a link and drops its pending update.
func (h *Hub) detach(l *link, key string) {
	subj := l.subs[key]
	delete(l.subs, key)
	if _, had := l.pending[key]; had {
		delete(l.pending, key)
		h.dropFromOrder(l, key)
	}
	if topic, ok := h.topicFor(subj); ok {
		topic.Detach(h.attachID(l.consumer))
	}
}

func (h *Hub) handleReset(c Consumer, subj subject.Subject) {
	topic, ok := h.topicFor(subj)
	if !ok {
		c.Invalid(subj)
		return
	}
	l, open := h.links[c.ID()]
	if !open {
		return
	}
	if _, has := l.subs[subj.Key()]; !has {
		return
	}
	h.queueSnapshot(l, subj, topic.Snapshot())
	h.flush(l)
}

func (h *Hub) handleSignal(c Consumer, sig dialect.Signal) {
	ack := func(ok bool, payload []byte) {
		if sig.CorrelationID != nil {
			c.SignalAck(ok, *sig.CorrelationID, payload)
		}
	}
	if sig.ExpireAtMillis > 0 && h.nowMillis() > sig.ExpireAtMillis {
		h.log.Debug("signal expired before delivery", logpkg.Str("subject", sig.Subject.Key()))
		ack(false, []byte("expired"))
		return
	}
	svc, ok := h.reg.Get(sig.Subject.Service)
	if !ok {
		ack(false, []byte("unknown service"))
		return
	}
	var group string
	if sig.OrderingGroup != nil {
		group = *sig.OrderingGroup
	}
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	payload, err := svc.DeliverSignal(ctx, service.Signal{
		Subject:        sig.Subject,
		Payload:        sig.Payload,
		OrderingGroup:  group,
		ExpireAtMillis: sig.ExpireAtMillis,
	})
	if err != nil {
		h.log.Warn("signal rejected", logpkg.Str("subject", sig.Subject.Key()), logpkg.Err(err))
		ack(false, []byte(err.Error()))
		return
	}
	ack(true, payload)
}

// --- forwarding -----------------------------------------------------------

// topicForwarder bridges a topic's fan-out into the hub mailbox.
type topicForwarder struct {
	hub        *Hub
	consumerID string
}

func (f *topicForwarder) ForwardSnapshot(subj subject.Subject, s streamstate.State) {
	f.hub.post(func() { f.hub.handleUpdate(f.consumerID, subj, s, nil) })
}

func (f *topicForwarder) ForwardTransition(subj subject.Subject, t streamstate.Transition) {
	f.hub.post(func() { f.hub.handleUpdate(f.consumerID, subj, nil, t) })
}

func (f *topicForwarder) ForwardClosed(subj subject.Subject) {
	f.hub.post(func() { f.hub.handleTopicClosed(f.consumerID, subj) })
}

// handleTopicClosed propagates a producer-initiated topic removal.
func (h *Hub) handleTopicClosed(consumerID string, subj subject.Subject) {
	l, ok := h.links[consumerID]
	if !ok {
		return
	}
	key := subj.Key()
	if _, open := l.subs[key]; !open {
		return
	}
	delete(l.subs, key)
	if _, had := l.pending[key]; had {
		delete(l.pending, key)
		h.dropFromOrder(l, key)
	}
	l.consumer.StreamClosed(subj)
}

func (h *Hub) attachID(c Consumer) string { return c.ID() }

func (h *Hub) handleUpdate(consumerID string, subj subject.Subject, snap streamstate.State, trans streamstate.Transition) {
	l, ok := h.links[consumerID]
	if !ok {
		return
	}
	key := subj.Key()
	if _, open := l.subs[key]; !open {
		return
	}
	if snap != nil {
		h.queueSnapshot(l, subj, snap)
	} else {
		h.queueTransition(l, subj, trans)
	}
	h.flush(l)
}

func (h *Hub) queueSnapshot(l *link, subj subject.Subject, s streamstate.State) {
	key := subj.Key()
	p, had := l.pending[key]
	if !had {
		p = &pendingUpdate{}
		l.pending[key] = p
		l.order = append(l.order, key)
	}
	p.snap = s
	p.trans = nil
}

func (h *Hub) queueTransition(l *link, subj subject.Subject, t streamstate.Transition) {
	key := subj.Key()
	p, had := l.pending[key]
	if !had {
		p = &pendingUpdate{}
		l.pending[key] = p
		l.order = append(l.order, key)
	}
	if p.snap != nil {
		if next, ok := t.Apply(p.snap); ok {
			p.snap = next
			return
		}
		p.snap = nil
	}
	p.trans = t
}

// flush sends pending updates FIFO while the link has demand tokens.
func (h *Hub) flush(l *link) {
	for l.demand > 0 && len(l.order) > 0 {
		key := l.order[0]
		l.order = l.order[1:]
		p, ok := l.pending[key]
		if !ok {
			continue
		}
		delete(l.pending, key)
		subj, open := l.subs[key]
		if !open {
			continue
		}
		l.demand--
		if p.snap != nil {
			l.consumer.Snapshot(subj, p.snap)
		} else {
			l.consumer.Transition(subj, p.trans)
		}
	}
}

func (h *Hub) dropFromOrder(l *link, key string) {
	for i, k := range l.order {
		if k == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
}
