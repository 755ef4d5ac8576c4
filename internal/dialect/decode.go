package dialect

import (
	"encoding/binary"
	"fmt"
)

// DecodeAll consumes every record in the frame and returns the decoded
// messages in arrival order. Any malformed record fails the whole frame.
func DecodeAll(frame []byte) ([]Message, error) {
	var msgs []Message
	for off := 0; off < len(frame); {
		if len(frame)-off < 4 {
			return nil, ErrShortRecord
		}
		n := binary.BigEndian.Uint32(frame[off:])
		off += 4
		if n > maxRecordBytes {
			return nil, ErrRecordTooLarge
		}
		if uint32(len(frame)-off) < n {
			return nil, ErrShortRecord
		}
		m, err := decodeBody(frame[off : off+int(n)])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
		off += int(n)
	}
	return msgs, nil
}

func decodeBody(body []byte) (Message, error) {
	if len(body) == 0 {
		return nil, ErrShortRecord
	}
	r := &reader{b: body, off: 1}
	var m Message
	switch body[0] {
	case kindAlias:
		m = Alias{Alias: r.uint32(), Subject: r.subject()}
	case kindOpenSubscription:
		m = OpenSubscription{Alias: r.uint32(), PriorityKey: r.optString(), AggregationMs: r.uint32()}
	case kindCloseSubscription:
		m = CloseSubscription{Alias: r.uint32()}
	case kindResetSubscription:
		m = ResetSubscription{Alias: r.uint32()}
	case kindSignal:
		m = r.signal()
	case kindPing:
		m = Ping{ID: r.uint32()}
	case kindPong:
		m = Pong{ID: r.uint32()}
	case kindStreamStateUpdate:
		m = StreamStateUpdate{Alias: r.uint32(), State: r.state()}
	case kindStreamStateTransitionUpdate:
		m = StreamStateTransitionUpdate{Alias: r.uint32(), Transition: r.transition()}
	case kindSubscriptionClosed:
		m = SubscriptionClosed{Alias: r.uint32()}
	case kindServiceNotAvailable:
		m = ServiceNotAvailable{Service: r.string()}
	case kindInvalidRequest:
		m = InvalidRequest{Alias: r.uint32()}
	case kindSignalAckOk:
		m = SignalAckOk{CorrelationID: r.string(), Payload: r.bytes()}
	case kindSignalAckFailed:
		m = SignalAckFailed{CorrelationID: r.string(), Payload: r.bytes()}
	case kindOpenLocalStream:
		m = OpenLocalStream{Subject: r.subject()}
	case kindCloseLocalStream:
		m = CloseLocalStream{Subject: r.subject()}
	case kindOpenLocalStreams:
		n := r.uvarint()
		if r.err == nil && n > uint64(len(r.b)-r.off) {
			r.fail(ErrShortRecord)
		}
		out := OpenLocalStreams{}
		for i := uint64(0); i < n && r.err == nil; i++ {
			out.Subjects = append(out.Subjects, r.subject())
		}
		m = out
	case kindCloseAllLocalStreams:
		m = CloseAllLocalStreams{}
	case kindGrantDemand:
		m = GrantDemand{N: r.uint32()}
	case kindResetLocalStream:
		m = ResetLocalStream{Subject: r.subject()}
	case kindSubjectSnapshot:
		m = SubjectSnapshot{Subject: r.subject(), State: r.state()}
	case kindSubjectTransition:
		m = SubjectTransition{Subject: r.subject(), Transition: r.transition()}
	case kindSubjectClosed:
		m = SubjectClosed{Subject: r.subject()}
	case kindSubjectInvalid:
		m = SubjectInvalid{Subject: r.subject()}
	case kindForwardSignal:
		sig := r.signal()
		m = ForwardSignal{Signal: sig, ReplyTo: r.string()}
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, body[0])
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(body) {
		return nil, fmt.Errorf("dialect: %d trailing bytes in record 0x%02x", len(body)-r.off, body[0])
	}
	return m, nil
}

func (r *reader) signal() Signal {
	return Signal{
		Subject:        r.subject(),
		Payload:        r.bytes(),
		ExpireAtMillis: r.varint(),
		OrderingGroup:  r.optString(),
		CorrelationID:  r.optString(),
	}
}
