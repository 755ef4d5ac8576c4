package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/endpoint"
	"github.com/zhongdj/reactiveservices/internal/service"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	"github.com/zhongdj/reactiveservices/internal/testutil"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

type event struct {
	kind string
	subj subject.Subject
	snap streamstate.State
	tr   streamstate.Transition
	ok   bool
	corr string
}

type captureHandler struct {
	mu  sync.Mutex
	got []event
}

func (h *captureHandler) add(e event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, e)
}

func (h *captureHandler) OnSnapshot(subj subject.Subject, s streamstate.State) {
	h.add(event{kind: "snap", subj: subj, snap: s})
}

func (h *captureHandler) OnTransition(subj subject.Subject, t streamstate.Transition) {
	h.add(event{kind: "trans", subj: subj, tr: t})
}

func (h *captureHandler) OnStreamClosed(subj subject.Subject) {
	h.add(event{kind: "closed", subj: subj})
}

func (h *captureHandler) OnInvalid(subj subject.Subject) { h.add(event{kind: "invalid", subj: subj}) }

func (h *captureHandler) OnSignalAck(ok bool, corr string, _ []byte) {
	h.add(event{kind: "ack", ok: ok, corr: corr})
}

func (h *captureHandler) all() []event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event, len(h.got))
	copy(out, h.got)
	return out
}

func (h *captureHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// One embedded NATS server stands in for the cluster: a producing node runs
// a hub + Server, a consumer session runs a RemoteRef + Listener.
func TestRemoteLinkEndToEnd(t *testing.T) {
	nc := testutil.StartNATS(t)

	reg := service.NewRegistry(logpkg.NewNop())
	svc, _ := reg.Register("svcA")
	topic, _ := svc.StringTopic("status")
	_ = topic.Set("v1")
	svc.HandleSignals(func(_ context.Context, sig service.Signal) ([]byte, error) {
		return append([]byte("re:"), sig.Payload...), nil
	})

	hub := endpoint.New(endpoint.Options{NodeID: "n1", Registry: reg, Logger: logpkg.NewNop()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	defer hub.Stop()

	srv := NewServer(nc, hub, logpkg.NewNop())
	if err := srv.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer srv.Stop()

	handler := &captureHandler{}
	lis := NewListener(nc, "cons-1", handler, logpkg.NewNop())
	if err := lis.Start(); err != nil {
		t.Fatalf("listener start: %v", err)
	}
	defer lis.Stop()

	ref := NewRemoteRef(nc, "n1", "svcA", "cons-1", logpkg.NewNop())
	if got, want := ref.ID(), "n1/svcA"; got != want {
		t.Fatalf("ref id %q", got)
	}

	subj := topic.Topic().Subject()
	ref.OpenStream(subj)
	ref.GrantDemand(5)
	waitFor(t, "remote snapshot", func() bool { return handler.count() == 1 })
	if e := handler.all()[0]; e.kind != "snap" || e.snap.(streamstate.StringState).Value != "v1" {
		t.Fatalf("event %+v", e)
	}

	_ = topic.Set("v2")
	waitFor(t, "remote transition", func() bool { return handler.count() == 2 })
	if e := handler.all()[1]; e.kind != "trans" || e.tr.(streamstate.StringTransition).Value != "v2" {
		t.Fatalf("event %+v", e)
	}

	// Reset produces a fresh snapshot over the link.
	ref.RequestReset(subj)
	waitFor(t, "reset snapshot", func() bool { return handler.count() == 3 })
	if e := handler.all()[2]; e.kind != "snap" || e.snap.(streamstate.StringState).Value != "v2" {
		t.Fatalf("event %+v", e)
	}

	// Correlated signal round-trips an ack.
	corr := "corr-1"
	ref.Signal(dialect.Signal{Subject: subj, Payload: []byte("ping"), CorrelationID: &corr})
	waitFor(t, "signal ack", func() bool { return handler.count() == 4 })
	if e := handler.all()[3]; e.kind != "ack" || !e.ok || e.corr != "corr-1" {
		t.Fatalf("event %+v", e)
	}

	// Unknown subjects are rejected over the link too.
	ref.OpenStream(subject.New("svcA", "missing", nil))
	waitFor(t, "invalid", func() bool { return handler.count() == 5 })
	if e := handler.all()[4]; e.kind != "invalid" {
		t.Fatalf("event %+v", e)
	}

	// CloseAllStreams stops the flow.
	ref.CloseAllStreams()
	time.Sleep(20 * time.Millisecond)
	_ = topic.Set("v3")
	time.Sleep(20 * time.Millisecond)
	if handler.count() != 5 {
		t.Fatalf("updates leaked after CloseAllStreams: %+v", handler.all())
	}
}
