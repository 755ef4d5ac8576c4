package statecache

import (
	"reflect"
	"testing"

	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutLoadRoundTrip(t *testing.T) {
	c := openCache(t)
	subj := subject.New("svcA", "members", map[string]string{"inst": "1"})
	state := streamstate.NewSetState(4, []string{"a", "b"}, true)

	if err := c.Put(subj, state); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := c.Load(subj)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	s := got.(streamstate.SetState)
	if s.Version != 4 || !reflect.DeepEqual(s.SortedElements(), []string{"a", "b"}) || !s.PartialUpdates {
		t.Fatalf("loaded %v", s)
	}
}

func TestLoadMissing(t *testing.T) {
	c := openCache(t)
	_, ok, err := c.Load(subject.New("svcA", "none", nil))
	if err != nil || ok {
		t.Fatalf("missing entry: ok=%v err=%v", ok, err)
	}
}

func TestPutReplacesAndDrop(t *testing.T) {
	c := openCache(t)
	subj := subject.New("svcA", "status", nil)

	_ = c.Put(subj, streamstate.StringState{Value: "v1"})
	_ = c.Put(subj, streamstate.StringState{Value: "v2"})
	got, ok, _ := c.Load(subj)
	if !ok || got.(streamstate.StringState).Value != "v2" {
		t.Fatalf("latest state must win: %v", got)
	}

	if err := c.Drop(subj); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, ok, _ := c.Load(subj); ok {
		t.Fatalf("entry survived drop")
	}
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	subj := subject.New("svcA", "status", nil)
	_ = c.Put(subj, streamstate.StringState{Value: "persisted"})
	_ = c.Close()

	c2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	got, ok, err := c2.Load(subj)
	if err != nil || !ok || got.(streamstate.StringState).Value != "persisted" {
		t.Fatalf("state lost across reopen: %v ok=%v err=%v", got, ok, err)
	}
}
