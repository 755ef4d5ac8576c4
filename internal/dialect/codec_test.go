package dialect

import (
	"reflect"
	"testing"

	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

func strptr(s string) *string { return &s }

func sampleSubject() subject.Subject {
	return subject.New("svcA", "status", map[string]string{"inst": "1", "zone": "eu"})
}

// Every dialect message must survive an encode/decode round trip unchanged.
func TestRoundTripAllKinds(t *testing.T) {
	subj := sampleSubject()
	msgs := []Message{
		Alias{Alias: 1, Subject: subj},
		OpenSubscription{Alias: 1, PriorityKey: strptr("A"), AggregationMs: 250},
		OpenSubscription{Alias: 2},
		CloseSubscription{Alias: 1},
		ResetSubscription{Alias: 1},
		Signal{Subject: subj, Payload: []byte("payload"), ExpireAtMillis: 171234, OrderingGroup: strptr("g1"), CorrelationID: strptr("c7")},
		Signal{Subject: subj, ExpireAtMillis: -1},
		Ping{ID: 9},
		Pong{ID: 9},
		StreamStateUpdate{Alias: 3, State: streamstate.StringState{Value: "v1"}},
		StreamStateUpdate{Alias: 3, State: streamstate.NewSetState(4, []string{"a", "b"}, true)},
		StreamStateUpdate{Alias: 3, State: streamstate.ListState{Capacity: 5, Evict: streamstate.FromTail, Items: []string{"x", "y"}}},
		StreamStateUpdate{Alias: 3, State: streamstate.DictMapState{
			Columns: []streamstate.Column{{Name: "name", Type: streamstate.ColString}, {Name: "n", Type: streamstate.ColInt}, {Name: "ok", Type: streamstate.ColBool}},
			Row:     []streamstate.Value{streamstate.StringValue("a"), streamstate.IntValue(-12), streamstate.BoolValue(true)},
		}},
		StreamStateTransitionUpdate{Alias: 3, Transition: streamstate.StringTransition{Value: "v2"}},
		StreamStateTransitionUpdate{Alias: 3, Transition: streamstate.SetSnapshot{Version: 2, Elements: []string{"a", "b"}}},
		StreamStateTransitionUpdate{Alias: 3, Transition: streamstate.SetDelta{BaseVersion: 2, Added: []string{"c"}, Removed: []string{"a"}}},
		StreamStateTransitionUpdate{Alias: 3, Transition: streamstate.ListAddHead{Item: "h"}},
		StreamStateTransitionUpdate{Alias: 3, Transition: streamstate.ListAddTail{Item: "t"}},
		StreamStateTransitionUpdate{Alias: 3, Transition: streamstate.ListRemove{Item: "h"}},
		StreamStateTransitionUpdate{Alias: 3, Transition: streamstate.ListSnapshot{Items: []string{"1", "2"}}},
		StreamStateTransitionUpdate{Alias: 3, Transition: streamstate.DictMapRow{Row: []streamstate.Value{streamstate.StringValue("b"), streamstate.IntValue(7), streamstate.BoolValue(false)}}},
		SubscriptionClosed{Alias: 3},
		ServiceNotAvailable{Service: "svcA"},
		InvalidRequest{Alias: 3},
		SignalAckOk{CorrelationID: "c7", Payload: []byte("ok")},
		SignalAckOk{CorrelationID: "c8"},
		SignalAckFailed{CorrelationID: "c9", Payload: []byte("expired")},
		OpenLocalStream{Subject: subj},
		CloseLocalStream{Subject: subj},
		OpenLocalStreams{Subjects: []subject.Subject{subj, subject.New("svcB", "t", nil)}},
		CloseAllLocalStreams{},
		GrantDemand{N: 32},
		ResetLocalStream{Subject: subj},
		SubjectSnapshot{Subject: subj, State: streamstate.StringState{Value: "s"}},
		SubjectTransition{Subject: subj, Transition: streamstate.StringTransition{Value: "d"}},
		SubjectClosed{Subject: subj},
		SubjectInvalid{Subject: subj},
		ForwardSignal{Signal: Signal{Subject: subj, Payload: []byte("p"), ExpireAtMillis: 5, CorrelationID: strptr("cx")}, ReplyTo: "rs.agg.n1.c1"},
	}
	for _, m := range msgs {
		frame, err := Encode(m)
		if err != nil {
			t.Fatalf("encode %T: %v", m, err)
		}
		got, err := DecodeAll(frame)
		if err != nil {
			t.Fatalf("decode %T: %v", m, err)
		}
		if len(got) != 1 {
			t.Fatalf("decode %T: %d messages", m, len(got))
		}
		if !reflect.DeepEqual(got[0], m) {
			t.Fatalf("round trip %T:\n in  %#v\n out %#v", m, m, got[0])
		}
	}
}

// A single frame may carry a batch of records; the decoder must produce
// them in arrival order.
func TestBatchedFramePreservesOrder(t *testing.T) {
	frame, err := Encode(
		Ping{ID: 1},
		SubscriptionClosed{Alias: 2},
		Pong{ID: 3},
	)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeAll(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []Message{Ping{ID: 1}, SubscriptionClosed{Alias: 2}, Pong{ID: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order lost: %#v", got)
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	frame, _ := Encode(Ping{ID: 1})
	for cut := 1; cut < len(frame); cut++ {
		if _, err := DecodeAll(frame[:cut]); err == nil {
			t.Fatalf("truncation at %d not detected", cut)
		}
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	frame := []byte{0, 0, 0, 1, 0xff}
	if _, err := DecodeAll(frame); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}

func TestDecodeTrailingGarbageInRecord(t *testing.T) {
	frame, _ := Encode(Ping{ID: 1})
	// Grow the record body by one byte and patch the length prefix.
	frame = append(frame, 0xaa)
	frame[3]++
	if _, err := DecodeAll(frame); err == nil {
		t.Fatalf("trailing record bytes accepted")
	}
}

func TestDecodeEmptyFrame(t *testing.T) {
	got, err := DecodeAll(nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty frame should decode to nothing, got %v err=%v", got, err)
	}
}
