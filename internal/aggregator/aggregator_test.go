package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

// captureSink records consumer-bound events.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// fakeRef records endpoint calls.
type fakeRef struct {
	mu      sync.Mutex
	id      string
	calls   []string
	resets  []subject.Subject
	signals []dialect.Signal
	granted int
}

func newFakeRef(id string) *fakeRef { return &fakeRef{id: id} }

func (r *fakeRef) ID() string { return r.id }

func (r *fakeRef) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeRef) OpenStream(s subject.Subject)    { r.record("open:" + s.Key()) }
func (r *fakeRef) CloseStream(s subject.Subject)   { r.record("close:" + s.Key()) }
func (r *fakeRef) CloseAllStreams()                { r.record("closeAll") }
func (r *fakeRef) OpenStreams(s []subject.Subject) { r.record(fmt.Sprintf("openAll:%d", len(s))) }

func (r *fakeRef) RequestReset(s subject.Subject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "reset:"+s.Key())
	r.resets = append(r.resets, s)
}

func (r *fakeRef) GrantDemand(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granted += n
}

func (r *fakeRef) Signal(sig dialect.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
}

func (r *fakeRef) callList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// settle gives the mailbox a chance to drain by posting a marker and
// waiting for it to run.
func settle(a *Aggregator) {
	done := make(chan struct{})
	a.post(func() { close(done) })
	<-done
}

type testClock struct {
	mu sync.Mutex
	ms int64
}

func (c *testClock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *testClock) advance(d int64) {
	c.mu.Lock()
	c.ms += d
	c.mu.Unlock()
}

func startAggregator(t *testing.T, sink Sink, clock *testClock) *Aggregator {
	t.Helper()
	opts := Options{ConsumerID: "c1", Sink: sink}
	if clock != nil {
		// Timing tests drive dispatch explicitly; park the liveness tick so
		// it cannot race the fake clock.
		opts.NowMillis = clock.now
		opts.TickInterval = time.Hour
	}
	a := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		a.Stop()
	})
	return a
}

// S1: snapshot then two deltas flow in order under sufficient demand.
func TestSingleSubjectHappyPath(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	ref := newFakeRef("loc1")
	s1 := subject.New("svcA", "status", nil)

	a.OnLocationChanged("svcA", ref)
	a.Open(s1, nil, 0)
	settle(a)

	a.AddDemand(3)
	a.OnSnapshot(s1, streamstate.StringState{Value: "v1"})
	a.OnTransition(s1, streamstate.StringTransition{Value: "v2"})
	a.OnTransition(s1, streamstate.StringTransition{Value: "v3"})

	waitFor(t, "three events", func() bool { return sink.count() == 3 })
	evs := sink.all()
	if evs[0].Kind != EventSnapshot || evs[0].State.(streamstate.StringState).Value != "v1" {
		t.Fatalf("first event %v", evs[0])
	}
	if evs[1].Kind != EventTransition || evs[1].Transition.(streamstate.StringTransition).Value != "v2" {
		t.Fatalf("second event %v", evs[1])
	}
	if evs[2].Transition.(streamstate.StringTransition).Value != "v3" {
		t.Fatalf("third event %v", evs[2])
	}
}

func TestOpenWithoutBindingQueuesDedupedNotAvailable(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)

	a.Open(subject.New("svcA", "t1", nil), nil, 0)
	a.Open(subject.New("svcA", "t2", nil), nil, 0)
	a.AddDemand(5)

	waitFor(t, "not-available event", func() bool { return sink.count() >= 1 })
	settle(a)
	evs := sink.all()
	if len(evs) != 1 || evs[0].Kind != EventNotAvailable || evs[0].Service != "svcA" {
		t.Fatalf("want exactly one deduped ServiceNotAvailable, got %v", evs)
	}
}

// S4: binding appears, then relocates; the old endpoint is closed and the
// new one re-opens every subject of the service.
func TestBindingChangeReopensSubjects(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	s1 := subject.New("svcA", "status", nil)

	a.Open(s1, nil, 0)
	a.AddDemand(1)
	waitFor(t, "not-available", func() bool { return sink.count() == 1 })

	loc1 := newFakeRef("loc1")
	a.OnLocationChanged("svcA", loc1)
	settle(a)
	waitFor(t, "loc1 open-all", func() bool {
		for _, c := range loc1.callList() {
			if c == "openAll:1" {
				return true
			}
		}
		return false
	})

	a.AddDemand(1)
	a.OnSnapshot(s1, streamstate.StringState{Value: "v1"})
	waitFor(t, "snapshot forwarded", func() bool { return sink.count() == 2 })

	loc2 := newFakeRef("loc2")
	a.OnLocationChanged("svcA", loc2)
	settle(a)

	found := false
	for _, c := range loc1.callList() {
		if c == "closeAll" {
			found = true
		}
	}
	if !found {
		t.Fatalf("old binding did not receive CloseAllLocalStreams: %v", loc1.callList())
	}
	waitFor(t, "loc2 open-all", func() bool {
		for _, c := range loc2.callList() {
			if c == "openAll:1" {
				return true
			}
		}
		return false
	})

	a.AddDemand(1)
	a.OnSnapshot(s1, streamstate.StringState{Value: "v2"})
	waitFor(t, "snapshot via new binding", func() bool { return sink.count() == 3 })
}

// S3: two priority groups with two buckets each and demand for four: the
// dispatch interleaves groups and buckets.
func TestPriorityFairnessInterleaves(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	ref := newFakeRef("loc1")
	a.OnLocationChanged("svcA", ref)

	subjects := []subject.Subject{
		subject.New("svcA", "a0", nil),
		subject.New("svcA", "a1", nil),
		subject.New("svcA", "b0", nil),
		subject.New("svcA", "b1", nil),
	}
	a.Open(subjects[0], strptr("A"), 0)
	a.Open(subjects[1], strptr("A"), 0)
	a.Open(subjects[2], strptr("B"), 0)
	a.Open(subjects[3], strptr("B"), 0)
	settle(a)

	for _, s := range subjects {
		a.OnTransition(s, streamstate.StringTransition{Value: s.Topic})
	}
	settle(a)
	a.AddDemand(4)

	waitFor(t, "four updates", func() bool { return sink.count() == 4 })
	var order []string
	for _, ev := range sink.all() {
		order = append(order, ev.Subject.Topic)
	}
	want := []string{"a0", "b0", "a1", "b1"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", order, want)
		}
	}
}

// S2 / boundary 11: a burst inside one aggregation window coalesces to the
// latest value.
func TestCoalescingLatestWins(t *testing.T) {
	sink := &captureSink{}
	clock := &testClock{}
	a := startAggregator(t, sink, clock)
	ref := newFakeRef("loc1")
	s1 := subject.New("svcA", "status", nil)

	a.OnLocationChanged("svcA", ref)
	a.Open(s1, nil, 100)
	a.AddDemand(10)

	// The first update of a fresh subscription publishes immediately.
	a.OnSnapshot(s1, streamstate.StringState{Value: "v0"})
	waitFor(t, "initial snapshot", func() bool { return sink.count() == 1 })

	for i := 1; i <= 10; i++ {
		a.OnTransition(s1, streamstate.StringTransition{Value: fmt.Sprintf("v%d", i)})
	}
	settle(a)
	if sink.count() != 1 {
		t.Fatalf("updates leaked inside the aggregation window: %d", sink.count())
	}

	clock.advance(150)
	a.OnTransition(s1, streamstate.StringTransition{Value: "v11"})

	waitFor(t, "coalesced update", func() bool { return sink.count() == 2 })
	settle(a)
	evs := sink.all()
	if got := evs[1].Transition.(streamstate.StringTransition).Value; got != "v11" {
		t.Fatalf("latest transition must win, got %q", got)
	}
	if sink.count() != 2 {
		t.Fatalf("more than one update per window: %d", sink.count())
	}
}

// Boundary 10: zero aggregation interval delivers every update in order
// when demand is available.
func TestZeroIntervalDeliversBurstInOrder(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	ref := newFakeRef("loc1")
	s1 := subject.New("svcA", "counter", nil)

	a.OnLocationChanged("svcA", ref)
	a.Open(s1, nil, 0)
	a.AddDemand(20)
	for i := 0; i < 20; i++ {
		a.OnTransition(s1, streamstate.StringTransition{Value: fmt.Sprintf("v%d", i)})
	}

	waitFor(t, "all updates", func() bool { return sink.count() == 20 })
	for i, ev := range sink.all() {
		if got := ev.Transition.(streamstate.StringTransition).Value; got != fmt.Sprintf("v%d", i) {
			t.Fatalf("update %d out of order: %q", i, got)
		}
	}
}

// Invariant 3: emissions never exceed granted demand.
func TestDemandConservation(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	ref := newFakeRef("loc1")
	s1 := subject.New("svcA", "status", nil)

	a.OnLocationChanged("svcA", ref)
	a.Open(s1, nil, 0)
	a.AddDemand(2)
	for i := 0; i < 10; i++ {
		a.OnTransition(s1, streamstate.StringTransition{Value: fmt.Sprintf("v%d", i)})
	}
	settle(a)

	if got := sink.count(); got != 2 {
		t.Fatalf("emitted %d with demand 2", got)
	}
	a.AddDemand(1)
	waitFor(t, "third event", func() bool { return sink.count() == 3 })
	settle(a)
	if got := sink.count(); got != 3 {
		t.Fatalf("emitted %d with demand 3", got)
	}
	// The coalesced latest value is the one that flows when demand returns.
	evs := sink.all()
	if got := evs[2].Transition.(streamstate.StringTransition).Value; got != "v9" {
		t.Fatalf("expected latest pending value, got %q", got)
	}
}

// Property 7: open→close→open behaves like a fresh open.
func TestReopenBehavesLikeFreshOpen(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	ref := newFakeRef("loc1")
	s1 := subject.New("svcA", "status", nil)

	a.OnLocationChanged("svcA", ref)
	a.Open(s1, nil, 0)
	a.Close(s1)
	a.Open(s1, nil, 0)
	a.AddDemand(5)
	settle(a)

	evs := sink.all()
	if len(evs) != 1 || evs[0].Kind != EventClosed {
		t.Fatalf("want one SubscriptionClosed from the explicit close, got %v", evs)
	}

	a.OnSnapshot(s1, streamstate.StringState{Value: "fresh"})
	waitFor(t, "snapshot after reopen", func() bool { return sink.count() == 2 })

	calls := ref.callList()
	want := []string{"open:svcA/status", "close:svcA/status", "open:svcA/status"}
	var seen []string
	for _, c := range calls {
		if c == "open:svcA/status" || c == "close:svcA/status" {
			seen = append(seen, c)
		}
	}
	if len(seen) != len(want) {
		t.Fatalf("endpoint call sequence %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("endpoint call sequence %v, want %v", seen, want)
		}
	}
}

// S5: an inapplicable delta is dropped and a reset is scheduled upstream.
func TestInapplicableDeltaSchedulesReset(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	ref := newFakeRef("loc1")
	s1 := subject.New("svcA", "members", nil)

	a.OnLocationChanged("svcA", ref)
	a.Open(s1, nil, 0)
	a.AddDemand(10)
	a.OnSnapshot(s1, streamstate.NewSetState(3, []string{"a"}, true))
	waitFor(t, "base snapshot", func() bool { return sink.count() == 1 })

	a.OnTransition(s1, streamstate.SetDelta{BaseVersion: 5, Added: []string{"x"}})
	waitFor(t, "upstream reset", func() bool { return len(ref.callList()) > 0 && contains(ref.callList(), "reset:svcA/members") })
	settle(a)
	if sink.count() != 1 {
		t.Fatalf("dropped delta leaked to the consumer")
	}

	a.OnSnapshot(s1, streamstate.NewSetState(6, []string{"a", "x"}, true))
	waitFor(t, "fresh snapshot", func() bool { return sink.count() == 2 })
	if sink.all()[1].Kind != EventSnapshot {
		t.Fatalf("reset must surface as a snapshot")
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func TestSignalRouting(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	ref := newFakeRef("loc1")
	s1 := subject.New("svcA", "commands", nil)

	a.OnLocationChanged("svcA", ref)
	corr := "corr7"
	a.Signal(dialect.Signal{Subject: s1, Payload: []byte("p"), CorrelationID: &corr})
	waitFor(t, "signal forwarded", func() bool {
		ref.mu.Lock()
		defer ref.mu.Unlock()
		return len(ref.signals) == 1
	})

	// Ack rides the control queue, debiting demand like any other event.
	a.OnSignalAck(true, corr, nil)
	settle(a)
	if sink.count() != 0 {
		t.Fatalf("ack delivered without demand")
	}
	a.AddDemand(1)
	waitFor(t, "ack delivered", func() bool { return sink.count() == 1 })
	ev := sink.all()[0]
	if ev.Kind != EventSignalAckOk || ev.CorrelationID != corr {
		t.Fatalf("ack event %v", ev)
	}
}

func TestSignalWithoutBindingReportsNotAvailable(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	a.AddDemand(1)
	a.Signal(dialect.Signal{Subject: subject.New("ghost", "t", nil)})
	waitFor(t, "not-available", func() bool { return sink.count() == 1 })
	if ev := sink.all()[0]; ev.Kind != EventNotAvailable || ev.Service != "ghost" {
		t.Fatalf("event %v", ev)
	}
}

// Property 9: dispatch with no groups is a no-op.
func TestDispatchWithoutGroupsIsNoop(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	a.AddDemand(100)
	settle(a)
	if sink.count() != 0 {
		t.Fatalf("events from empty aggregator")
	}
}

func TestShutdownClosesAllBindings(t *testing.T) {
	sink := &captureSink{}
	a := New(Options{ConsumerID: "c1", Sink: sink})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	ref1, ref2 := newFakeRef("loc1"), newFakeRef("loc2")
	a.OnLocationChanged("svcA", ref1)
	a.OnLocationChanged("svcB", ref2)
	settle(a)
	a.Stop()

	if !contains(ref1.callList(), "closeAll") || !contains(ref2.callList(), "closeAll") {
		t.Fatalf("shutdown must close all bindings: %v / %v", ref1.callList(), ref2.callList())
	}
}

func TestUpstreamRegrantPerUpdate(t *testing.T) {
	sink := &captureSink{}
	a := startAggregator(t, sink, nil)
	ref := newFakeRef("loc1")
	s1 := subject.New("svcA", "status", nil)

	a.OnLocationChanged("svcA", ref)
	a.Open(s1, nil, 0)
	settle(a)
	ref.mu.Lock()
	base := ref.granted
	ref.mu.Unlock()

	a.AddDemand(10)
	for i := 0; i < 5; i++ {
		a.OnTransition(s1, streamstate.StringTransition{Value: "v"})
	}
	settle(a)

	ref.mu.Lock()
	granted := ref.granted
	ref.mu.Unlock()
	if granted != base+5 {
		t.Fatalf("upstream regrant mismatch: base=%d now=%d", base, granted)
	}
}
