package aggregator

import (
	"testing"

	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

func strptr(s string) *string { return &s }

func TestLessOrdersNilLast(t *testing.T) {
	a, b := strptr("A"), strptr("B")
	if !Less(a, b) || Less(b, a) {
		t.Fatalf("lexicographic order broken")
	}
	if !Less(a, nil) {
		t.Fatalf("Some must sort before None")
	}
	if Less(nil, a) || Less(nil, nil) {
		t.Fatalf("None must sort last")
	}
}

func TestSortGroupsPutsDefaultLast(t *testing.T) {
	groups := []*PriorityGroup{
		NewPriorityGroup(nil),
		NewPriorityGroup(strptr("B")),
		NewPriorityGroup(strptr("A")),
	}
	sortGroups(groups)
	if groups[0].Key == nil || *groups[0].Key != "A" {
		t.Fatalf("want A first, got %v", groups[0].Key)
	}
	if groups[1].Key == nil || *groups[1].Key != "B" {
		t.Fatalf("want B second, got %v", groups[1].Key)
	}
	if groups[2].Key != nil {
		t.Fatalf("want default group last")
	}
}

func pendingBucket(name string) *Bucket {
	b := NewBucket(subject.New("svc", name, nil), nil, 0)
	b.OnTransition(streamstate.StringTransition{Value: name})
	return b
}

func TestGroupRoundRobinAcrossCalls(t *testing.T) {
	g := NewPriorityGroup(nil)
	g.Add(pendingBucket("t0"))
	g.Add(pendingBucket("t1"))
	g.Add(pendingBucket("t2"))

	var order []string
	emit := func(ev Event) { order = append(order, ev.Subject.Topic) }
	for i := 0; i < 3; i++ {
		if published, _ := g.PublishPending(always, emit, 0); published != 1 {
			t.Fatalf("call %d published %d", i, published)
		}
	}
	if order[0] != "t0" || order[1] != "t1" || order[2] != "t2" {
		t.Fatalf("cursor did not round-robin across calls: %v", order)
	}
}

func TestGroupSkipsEmptyBuckets(t *testing.T) {
	g := NewPriorityGroup(nil)
	idle := NewBucket(subject.New("svc", "idle", nil), nil, 0)
	g.Add(idle)
	g.Add(pendingBucket("busy"))

	var order []string
	published, _ := g.PublishPending(always, func(ev Event) { order = append(order, ev.Subject.Topic) }, 0)
	if published != 1 || len(order) != 1 || order[0] != "busy" {
		t.Fatalf("group must scan past idle buckets, got %v", order)
	}
}

func TestGroupEmptyIsNoop(t *testing.T) {
	g := NewPriorityGroup(nil)
	published, resets := g.PublishPending(always, func(Event) { t.Fatal("emitted from empty group") }, 0)
	if published != 0 || resets != nil {
		t.Fatalf("published=%d resets=%v", published, resets)
	}
}

func TestGroupRemoveKeepsCursorStable(t *testing.T) {
	g := NewPriorityGroup(nil)
	b0, b1, b2 := pendingBucket("t0"), pendingBucket("t1"), pendingBucket("t2")
	g.Add(b0)
	g.Add(b1)
	g.Add(b2)

	var order []string
	emit := func(ev Event) { order = append(order, ev.Subject.Topic) }
	g.PublishPending(always, emit, 0) // emits t0, cursor now 1

	g.Remove(b0.Subj.Key())
	g.PublishPending(always, emit, 0)
	if len(order) != 2 || order[1] != "t1" {
		t.Fatalf("cursor skipped a bucket after removal: %v", order)
	}
}
