package aggregator

import (
	"context"
	"time"

	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// tickInterval is the dispatch liveness net. Dispatch is edge-triggered on
// demand and update arrival; the tick only enforces aggregation-interval
// expiry and sweeps anything those edges missed.
const tickInterval = 200 * time.Millisecond

// mailboxDepth bounds the aggregator mailbox. Senders block when the unit
// falls this far behind, which backpressures endpoint readers.
const mailboxDepth = 4096

// Options configures an Aggregator.
type Options struct {
	// ConsumerID names the downstream consumer, used in logs and as the
	// cluster reply address suffix.
	ConsumerID string
	Sink       Sink
	Logger     logpkg.Logger
	Metrics    MetricsHook
	// NowMillis is the clock used for aggregation windows. Defaults to
	// wall time; tests inject their own.
	NowMillis func() int64
	// TickInterval overrides the dispatch liveness tick. Zero selects the
	// default 200 ms.
	TickInterval time.Duration
}

// Aggregator is the per-consumer dispatch unit. All fields below mbox are
// owned by the run loop.
type Aggregator struct {
	consumerID string
	sink       Sink
	log        logpkg.Logger
	metrics    MetricsHook
	nowMillis  func() int64

	tick time.Duration
	mbox chan func()
	quit chan struct{}
	done chan struct{}

	buckets   map[string]*Bucket // subject key → bucket
	groups    map[groupKey]*PriorityGroup
	order     []*PriorityGroup // sorted by priority, nil key last
	rrIdx     int
	locations map[string]EndpointRef // service key → binding, absent = unknown
	pending   []Event                // control FIFO awaiting demand
	demand    int
}

type groupKey struct {
	valid bool
	key   string
}

func toGroupKey(k *string) groupKey {
	if k == nil {
		return groupKey{}
	}
	return groupKey{valid: true, key: *k}
}

// New builds an aggregator for one consumer connection. Call Run to start
// the dispatch unit.
func New(opts Options) *Aggregator {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.NowMillis == nil {
		opts.NowMillis = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = tickInterval
	}
	return &Aggregator{
		tick:       opts.TickInterval,
		consumerID: opts.ConsumerID,
		sink:       opts.Sink,
		log:        opts.Logger.With(logpkg.Component("aggregator"), logpkg.Str("consumer", opts.ConsumerID)),
		metrics:    opts.Metrics,
		nowMillis:  opts.NowMillis,
		mbox:       make(chan func(), mailboxDepth),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		buckets:    make(map[string]*Bucket),
		groups:     make(map[groupKey]*PriorityGroup),
		locations:  make(map[string]EndpointRef),
	}
}

// Run executes the dispatch loop until ctx is cancelled or Stop is called.
// On exit every bound endpoint receives CloseAllLocalStreams.
func (a *Aggregator) Run(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()
	for {
		select {
		case f := <-a.mbox:
			f()
		case <-ticker.C:
			a.dispatch()
		case <-a.quit:
			a.shutdown()
			return
		case <-ctx.Done():
			a.shutdown()
			return
		}
	}
}

// Stop terminates the dispatch loop. Safe to call more than once.
func (a *Aggregator) Stop() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
	<-a.done
}

// post enqueues a handler onto the mailbox, giving up once the unit has
// stopped.
func (a *Aggregator) post(f func()) {
	select {
	case a.mbox <- f:
	case <-a.done:
	}
}

// --- consumer-side inputs -------------------------------------------------

// Open registers a subscription. An existing bucket for the subject is
// closed first, so reopening is equivalent to a fresh open.
func (a *Aggregator) Open(subj subject.Subject, priorityKey *string, aggregationMs int) {
	a.post(func() { a.handleOpen(subj, priorityKey, aggregationMs) })
}

// Close discards the subject's subscription.
func (a *Aggregator) Close(subj subject.Subject) {
	a.post(func() { a.handleClose(subj, true) })
}

// Reset requests a fresh snapshot for the subject.
func (a *Aggregator) Reset(subj subject.Subject) {
	a.post(func() { a.handleReset(subj) })
}

// AddDemand grants n downstream demand tokens and triggers dispatch.
func (a *Aggregator) AddDemand(n int) {
	if n <= 0 {
		return
	}
	a.post(func() {
		a.demand += n
		a.metrics.DemandChanged(a.demand)
		a.dispatch()
	})
}

// Signal routes a consumer signal toward the producing service.
func (a *Aggregator) Signal(sig dialect.Signal) {
	a.post(func() {
		ref := a.locations[sig.Subject.Service]
		if ref == nil {
			a.enqueueNotAvailable(sig.Subject.Service)
			a.dispatch()
			return
		}
		ref.Signal(sig)
	})
}

// --- endpoint-side inputs -------------------------------------------------

// OnTransition receives a delta from an endpoint. One upstream demand token
// is granted back to the sender.
func (a *Aggregator) OnTransition(subj subject.Subject, t streamstate.Transition) {
	a.post(func() {
		a.regrant(subj)
		b, ok := a.buckets[subj.Key()]
		if !ok {
			// Stream closed while the update was in flight; drop it.
			return
		}
		if b.OnTransition(t) {
			a.metrics.TransitionCoalesced()
		}
		a.dispatch()
	})
}

// OnSnapshot receives a full-state snapshot from an endpoint.
func (a *Aggregator) OnSnapshot(subj subject.Subject, s streamstate.State) {
	a.post(func() {
		a.regrant(subj)
		b, ok := a.buckets[subj.Key()]
		if !ok {
			return
		}
		if b.OnSnapshot(s) {
			a.metrics.TransitionCoalesced()
		}
		a.dispatch()
	})
}

// OnStreamClosed receives a producer-side close for the subject.
func (a *Aggregator) OnStreamClosed(subj subject.Subject) {
	a.post(func() { a.handleClose(subj, false) })
}

// OnInvalid receives a producer-side rejection. The bucket stays; no
// updates flow until a reset.
func (a *Aggregator) OnInvalid(subj subject.Subject) {
	a.post(func() {
		a.pending = append(a.pending, Event{Kind: EventInvalid, Subject: subj})
		a.dispatch()
	})
}

// OnSignalAck receives a correlated signal ack for the consumer. Acks ride
// the control queue so demand accounting stays uniform.
func (a *Aggregator) OnSignalAck(ok bool, correlationID string, payload []byte) {
	a.post(func() {
		kind := EventSignalAckOk
		if !ok {
			kind = EventSignalAckFailed
		}
		a.pending = append(a.pending, Event{Kind: kind, CorrelationID: correlationID, Payload: payload})
		a.dispatch()
	})
}

// --- location registry input ---------------------------------------------

// OnLocationChanged installs the new binding for the service. A nil ref
// means the service is gone.
func (a *Aggregator) OnLocationChanged(service string, ref EndpointRef) {
	a.post(func() { a.handleLocationChanged(service, ref) })
}

// --- handlers (run-loop only) ---------------------------------------------

func (a *Aggregator) handleOpen(subj subject.Subject, priorityKey *string, aggregationMs int) {
	key := subj.Key()
	if _, exists := a.buckets[key]; exists {
		a.handleClose(subj, true)
	}

	b := NewBucket(subj, priorityKey, aggregationMs)
	a.buckets[key] = b
	gk := toGroupKey(priorityKey)
	g, ok := a.groups[gk]
	if !ok {
		g = NewPriorityGroup(priorityKey)
		a.groups[gk] = g
		a.order = append(a.order, g)
		sortGroups(a.order)
	}
	g.Add(b)
	a.metrics.SubscriptionsChanged(len(a.buckets))

	if ref, bound := a.locations[subj.Service]; bound && ref != nil {
		ref.OpenStream(subj)
		ref.GrantDemand(1)
	} else {
		a.enqueueNotAvailable(subj.Service)
	}
	a.dispatch()
}

// handleClose tears down the bucket. When notifyEndpoint is false the close
// originated at the producer and only the consumer needs to hear about it.
func (a *Aggregator) handleClose(subj subject.Subject, notifyEndpoint bool) {
	key := subj.Key()
	b, ok := a.buckets[key]
	if !ok {
		return
	}
	delete(a.buckets, key)

	gk := toGroupKey(b.PriorityKey)
	if g, ok := a.groups[gk]; ok {
		g.Remove(key)
		if g.Len() == 0 {
			delete(a.groups, gk)
			for i, o := range a.order {
				if o == g {
					a.order = append(a.order[:i], a.order[i+1:]...)
					break
				}
			}
			if a.rrIdx >= len(a.order) {
				a.rrIdx = 0
			}
			sortGroups(a.order)
		}
	}
	a.metrics.SubscriptionsChanged(len(a.buckets))

	if notifyEndpoint {
		if ref, bound := a.locations[subj.Service]; bound && ref != nil {
			ref.CloseStream(subj)
		}
	}
	a.pending = append(a.pending, Event{Kind: EventClosed, Subject: subj})
	a.dispatch()
}

func (a *Aggregator) handleReset(subj subject.Subject) {
	b, ok := a.buckets[subj.Key()]
	if !ok {
		a.pending = append(a.pending, Event{Kind: EventInvalid, Subject: subj})
		a.dispatch()
		return
	}
	if ref, bound := a.locations[b.Subj.Service]; bound && ref != nil {
		ref.RequestReset(subj)
	}
}

func (a *Aggregator) handleLocationChanged(service string, ref EndpointRef) {
	old := a.locations[service]
	same := old != nil && ref != nil && old.ID() == ref.ID()
	if old != nil && !same {
		old.CloseAllStreams()
	}
	if ref == nil {
		delete(a.locations, service)
		if a.subjectsFor(service) != nil {
			a.enqueueNotAvailable(service)
		}
		a.log.Info("service binding lost", logpkg.Str("service", service))
		a.dispatch()
		return
	}
	a.locations[service] = ref
	if same {
		return
	}
	a.clearNotAvailable(service)
	subjects := a.subjectsFor(service)
	if len(subjects) > 0 {
		ref.OpenStreams(subjects)
	}
	// One token per open subject is enough: buckets coalesce, so a deeper
	// in-flight window buys nothing.
	ref.GrantDemand(max(1, len(subjects)))
	a.log.Info("service bound",
		logpkg.Str("service", service),
		logpkg.Str("endpoint", ref.ID()),
		logpkg.Int("subjects", len(subjects)))
	a.dispatch()
}

func (a *Aggregator) subjectsFor(service string) []subject.Subject {
	var out []subject.Subject
	for _, b := range a.buckets {
		if b.Subj.Service == service {
			out = append(out, b.Subj)
		}
	}
	return out
}

func (a *Aggregator) enqueueNotAvailable(service string) {
	// The queue is short by construction, so a linear scan dedupes.
	for _, ev := range a.pending {
		if ev.Kind == EventNotAvailable && ev.Service == service {
			return
		}
	}
	a.pending = append(a.pending, Event{Kind: EventNotAvailable, Service: service})
}

func (a *Aggregator) clearNotAvailable(service string) {
	kept := a.pending[:0]
	for _, ev := range a.pending {
		if ev.Kind == EventNotAvailable && ev.Service == service {
			continue
		}
		kept = append(kept, ev)
	}
	a.pending = kept
}

// regrant hands one upstream token back to the endpoint that produced an
// update for subj.
func (a *Aggregator) regrant(subj subject.Subject) {
	if ref, bound := a.locations[subj.Service]; bound && ref != nil {
		ref.GrantDemand(1)
	}
}

// --- dispatch -------------------------------------------------------------

func (a *Aggregator) canSend() bool { return a.demand > 0 }

func (a *Aggregator) emit(ev Event) {
	a.demand--
	a.metrics.DemandChanged(a.demand)
	a.metrics.EventDispatched(ev.Kind)
	a.sink.Send(ev)
}

// dispatch drains pending control messages FIFO, then round-robins the
// priority groups, one emission per group attempt, until demand or pending
// work runs out.
func (a *Aggregator) dispatch() {
	for a.demand > 0 && len(a.pending) > 0 {
		ev := a.pending[0]
		a.pending = a.pending[1:]
		a.emit(ev)
	}
	if len(a.order) == 0 {
		return
	}
	now := a.nowMillis()
	for a.demand > 0 {
		progress := false
		for attempts := len(a.order); attempts > 0 && a.demand > 0; attempts-- {
			if a.rrIdx >= len(a.order) {
				a.rrIdx = 0
			}
			g := a.order[a.rrIdx]
			a.rrIdx++
			published, resets := g.PublishPending(a.canSend, a.emit, now)
			for _, b := range resets {
				a.metrics.TransitionDropped()
				if ref, bound := a.locations[b.Subj.Service]; bound && ref != nil {
					ref.RequestReset(b.Subj)
				}
			}
			if published > 0 {
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

// shutdown closes every distinct bound endpoint.
func (a *Aggregator) shutdown() {
	seen := make(map[string]bool)
	for _, ref := range a.locations {
		if ref == nil || seen[ref.ID()] {
			continue
		}
		seen[ref.ID()] = true
		ref.CloseAllStreams()
	}
	a.log.Debug("aggregator stopped", logpkg.Int("open_subscriptions", len(a.buckets)))
}
