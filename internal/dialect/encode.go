package dialect

import (
	"encoding/binary"
	"fmt"
)

// Encode frames the messages into a single byte sequence, each as a
// length-prefixed record, in order.
func Encode(msgs ...Message) ([]byte, error) {
	var buf []byte
	for _, m := range msgs {
		var err error
		buf, err = Append(buf, m)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Append frames one message onto buf and returns the extended slice.
func Append(buf []byte, m Message) ([]byte, error) {
	// Reserve the length prefix, encode the body, then patch the length.
	start := len(buf)
	buf = append(buf, 0, 0, 0, 0)
	body, err := appendBody(buf, m)
	if err != nil {
		return nil, err
	}
	n := len(body) - start - 4
	if n > maxRecordBytes {
		return nil, ErrRecordTooLarge
	}
	binary.BigEndian.PutUint32(body[start:], uint32(n))
	return body, nil
}

func appendBody(b []byte, m Message) ([]byte, error) {
	var err error
	switch msg := m.(type) {
	case Alias:
		b = append(b, kindAlias)
		b = appendUint32(b, msg.Alias)
		b = appendSubject(b, msg.Subject)
	case OpenSubscription:
		b = append(b, kindOpenSubscription)
		b = appendUint32(b, msg.Alias)
		b = appendOptString(b, msg.PriorityKey)
		b = appendUint32(b, msg.AggregationMs)
	case CloseSubscription:
		b = append(b, kindCloseSubscription)
		b = appendUint32(b, msg.Alias)
	case ResetSubscription:
		b = append(b, kindResetSubscription)
		b = appendUint32(b, msg.Alias)
	case Signal:
		b = append(b, kindSignal)
		b = appendSignalBody(b, msg)
	case Ping:
		b = append(b, kindPing)
		b = appendUint32(b, msg.ID)
	case Pong:
		b = append(b, kindPong)
		b = appendUint32(b, msg.ID)
	case StreamStateUpdate:
		b = append(b, kindStreamStateUpdate)
		b = appendUint32(b, msg.Alias)
		if b, err = appendState(b, msg.State); err != nil {
			return nil, err
		}
	case StreamStateTransitionUpdate:
		b = append(b, kindStreamStateTransitionUpdate)
		b = appendUint32(b, msg.Alias)
		if b, err = appendTransition(b, msg.Transition); err != nil {
			return nil, err
		}
	case SubscriptionClosed:
		b = append(b, kindSubscriptionClosed)
		b = appendUint32(b, msg.Alias)
	case ServiceNotAvailable:
		b = append(b, kindServiceNotAvailable)
		b = appendString(b, msg.Service)
	case InvalidRequest:
		b = append(b, kindInvalidRequest)
		b = appendUint32(b, msg.Alias)
	case SignalAckOk:
		b = append(b, kindSignalAckOk)
		b = appendString(b, msg.CorrelationID)
		b = appendBytes(b, msg.Payload)
	case SignalAckFailed:
		b = append(b, kindSignalAckFailed)
		b = appendString(b, msg.CorrelationID)
		b = appendBytes(b, msg.Payload)
	case OpenLocalStream:
		b = append(b, kindOpenLocalStream)
		b = appendSubject(b, msg.Subject)
	case CloseLocalStream:
		b = append(b, kindCloseLocalStream)
		b = appendSubject(b, msg.Subject)
	case OpenLocalStreams:
		b = append(b, kindOpenLocalStreams)
		b = appendUvarint(b, uint64(len(msg.Subjects)))
		for _, s := range msg.Subjects {
			b = appendSubject(b, s)
		}
	case CloseAllLocalStreams:
		b = append(b, kindCloseAllLocalStreams)
	case GrantDemand:
		b = append(b, kindGrantDemand)
		b = appendUint32(b, msg.N)
	case ResetLocalStream:
		b = append(b, kindResetLocalStream)
		b = appendSubject(b, msg.Subject)
	case SubjectSnapshot:
		b = append(b, kindSubjectSnapshot)
		b = appendSubject(b, msg.Subject)
		if b, err = appendState(b, msg.State); err != nil {
			return nil, err
		}
	case SubjectTransition:
		b = append(b, kindSubjectTransition)
		b = appendSubject(b, msg.Subject)
		if b, err = appendTransition(b, msg.Transition); err != nil {
			return nil, err
		}
	case SubjectClosed:
		b = append(b, kindSubjectClosed)
		b = appendSubject(b, msg.Subject)
	case SubjectInvalid:
		b = append(b, kindSubjectInvalid)
		b = appendSubject(b, msg.Subject)
	case ForwardSignal:
		b = append(b, kindForwardSignal)
		b = appendSignalBody(b, msg.Signal)
		b = appendString(b, msg.ReplyTo)
	default:
		return nil, fmt.Errorf("dialect: unsupported message %T", m)
	}
	return b, nil
}

func appendSignalBody(b []byte, s Signal) []byte {
	b = appendSubject(b, s.Subject)
	b = appendBytes(b, s.Payload)
	b = appendVarint(b, s.ExpireAtMillis)
	b = appendOptString(b, s.OrderingGroup)
	b = appendOptString(b, s.CorrelationID)
	return b
}
