package location

import (
	"context"
	"testing"
	"time"

	"github.com/zhongdj/reactiveservices/internal/testutil"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

func TestKVAdvertiseWatchWithdraw(t *testing.T) {
	nc := testutil.StartNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := OpenKV(ctx, nc, "test_locations", logpkg.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := kv.Advertise(ctx, Endpoint{Service: "svcA", NodeID: "n1"}); err != nil {
		t.Fatalf("advertise: %v", err)
	}

	ch, err := kv.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	c := recvChange(t, ch)
	if c.Service != "svcA" || c.Location == nil || c.Location.NodeID != "n1" {
		t.Fatalf("replay %+v", c)
	}

	if err := kv.Advertise(ctx, Endpoint{Service: "svcA", NodeID: "n2"}); err != nil {
		t.Fatalf("re-advertise: %v", err)
	}
	c = recvChange(t, ch)
	if c.Location == nil || c.Location.NodeID != "n2" {
		t.Fatalf("relocation %+v", c)
	}

	if err := kv.Withdraw(ctx, "svcA"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	c = recvChange(t, ch)
	if c.Service != "svcA" || c.Location != nil {
		t.Fatalf("withdrawal %+v", c)
	}

	// Withdrawing twice is idempotent.
	if err := kv.Withdraw(ctx, "svcA"); err != nil {
		t.Fatalf("second withdraw: %v", err)
	}
}

func TestKVTwoWatchersSeeTheSameTable(t *testing.T) {
	nc := testutil.StartNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := OpenKV(ctx, nc, "test_locations_fanout", logpkg.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ch1, _ := kv.Watch(ctx)
	ch2, _ := kv.Watch(ctx)
	if err := kv.Advertise(ctx, Endpoint{Service: "svcB", NodeID: "n9"}); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	for i, ch := range []<-chan Change{ch1, ch2} {
		c := recvChange(t, ch)
		if c.Service != "svcB" || c.Location == nil || c.Location.NodeID != "n9" {
			t.Fatalf("watcher %d change %+v", i, c)
		}
	}
}
