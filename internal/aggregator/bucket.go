package aggregator

import (
	"math"

	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

// Bucket is the per-subscription holder on the aggregator: it buffers the
// most recent unsent update and enforces the subscription's aggregation
// interval. Coalescing is by replacement — only the latest pending update
// survives, so a slow consumer observes the newest value, not the backlog.
type Bucket struct {
	Subj          subject.Subject
	PriorityKey   *string
	AggregationMs int

	// state is the last state the consumer is known to hold, used to fold
	// transitions and to decide delta applicability.
	state streamstate.State

	// pendingSnap and pendingTrans together form the pending update.
	// A pending snapshot absorbs later transitions by folding them in, so
	// at most one of the two is set.
	pendingSnap  streamstate.State
	pendingTrans streamstate.Transition

	lastPublishedAtMillis int64
}

// NewBucket builds an empty bucket for a subscription. A fresh bucket is
// immediately eligible to publish; the aggregation window only spaces
// subsequent emissions.
func NewBucket(subj subject.Subject, priorityKey *string, aggregationMs int) *Bucket {
	return &Bucket{
		Subj:                  subj,
		PriorityKey:           priorityKey,
		AggregationMs:         aggregationMs,
		lastPublishedAtMillis: math.MinInt64 / 2,
	}
}

// HasPending reports whether an update awaits dispatch.
func (b *Bucket) HasPending() bool { return b.pendingSnap != nil || b.pendingTrans != nil }

// OnSnapshot installs a full-state snapshot as the pending update,
// superseding any pending transition.
//
// Returns true when a previous pending update was coalesced away.
func (b *Bucket) OnSnapshot(s streamstate.State) bool {
	coalesced := b.HasPending()
	b.pendingSnap = s
	b.pendingTrans = nil
	return coalesced
}

// OnTransition buffers a transition, replacing any pending one. When a
// snapshot is pending the transition is folded into it so the consumer
// still receives a single up-to-date snapshot.
//
// Returns true when a previous pending update was coalesced away.
func (b *Bucket) OnTransition(t streamstate.Transition) bool {
	if b.pendingSnap != nil {
		if next, ok := t.Apply(b.pendingSnap); ok {
			b.pendingSnap = next
			return true
		}
		// Not foldable; drop the snapshot and let the transition take over
		// as the most recent update.
		b.pendingSnap = nil
		b.pendingTrans = t
		return true
	}
	coalesced := b.pendingTrans != nil
	b.pendingTrans = t
	return coalesced
}

// aggregationCriteriaMet reports whether the aggregation interval allows an
// emission at nowMillis.
func (b *Bucket) aggregationCriteriaMet(nowMillis int64) bool {
	return b.AggregationMs < 1 || nowMillis-b.lastPublishedAtMillis > int64(b.AggregationMs)
}

// PublishPending emits the pending update through emit when demand allows
// (canSend) and the aggregation interval has elapsed. It reports whether an
// event was emitted and whether the pending transition turned out
// inapplicable, in which case it was dropped and the caller must request a
// full refresh upstream.
func (b *Bucket) PublishPending(canSend func() bool, emit func(Event), nowMillis int64) (published, resetNeeded bool) {
	if !b.HasPending() || !canSend() || !b.aggregationCriteriaMet(nowMillis) {
		return false, false
	}

	if b.pendingSnap != nil {
		snap := b.pendingSnap
		b.pendingSnap = nil
		b.state = snap
		b.lastPublishedAtMillis = nowMillis
		emit(Event{Kind: EventSnapshot, Subject: b.Subj, State: snap})
		return true, false
	}

	t := b.pendingTrans
	b.pendingTrans = nil
	next, ok := t.Apply(b.state)
	if !ok {
		// Inapplicable delta: drop it and have the caller schedule a reset.
		return false, true
	}
	b.state = next
	b.lastPublishedAtMillis = nowMillis
	emit(Event{Kind: EventTransition, Subject: b.Subj, Transition: t})
	return true, false
}
