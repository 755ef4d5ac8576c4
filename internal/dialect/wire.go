package dialect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

// Codec errors. All of them are fatal for the connection that produced the
// frame.
var (
	ErrShortRecord    = errors.New("dialect: truncated record")
	ErrUnknownKind    = errors.New("dialect: unknown record kind")
	ErrRecordTooLarge = errors.New("dialect: record exceeds size limit")
)

// maxRecordBytes bounds a single record body. Larger records fail decoding
// instead of forcing unbounded allocation from a hostile peer.
const maxRecordBytes = 16 << 20

func appendUvarint(b []byte, v uint64) []byte { return binary.AppendUvarint(b, v) }

func appendVarint(b []byte, v int64) []byte { return binary.AppendVarint(b, v) }

func appendUint32(b []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(b, v) }

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendString(b []byte, s string) []byte {
	b = appendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func appendBytes(b, p []byte) []byte {
	b = appendUvarint(b, uint64(len(p)))
	return append(b, p...)
}

func appendOptString(b []byte, s *string) []byte {
	if s == nil {
		return append(b, 0)
	}
	b = append(b, 1)
	return appendString(b, *s)
}

// reader walks a record body with a sticky error.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.b) {
		r.fail(ErrShortRecord)
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) bool() bool { return r.byte() != 0 }

func (r *reader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.b) {
		r.fail(ErrShortRecord)
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.b[r.off:])
	if n <= 0 {
		r.fail(ErrShortRecord)
		return 0
	}
	r.off += n
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.b[r.off:])
	if n <= 0 {
		r.fail(ErrShortRecord)
		return 0
	}
	r.off += n
	return v
}

func (r *reader) string() string {
	n := r.uvarint()
	if r.err != nil {
		return ""
	}
	if uint64(len(r.b)-r.off) < n {
		r.fail(ErrShortRecord)
		return ""
	}
	s := string(r.b[r.off : r.off+int(n)])
	r.off += int(n)
	return s
}

func (r *reader) bytes() []byte {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if uint64(len(r.b)-r.off) < n {
		r.fail(ErrShortRecord)
		return nil
	}
	if n == 0 {
		return nil
	}
	p := make([]byte, n)
	copy(p, r.b[r.off:])
	r.off += int(n)
	return p
}

func (r *reader) optString() *string {
	if !r.bool() {
		return nil
	}
	s := r.string()
	if r.err != nil {
		return nil
	}
	return &s
}

func (r *reader) stringSlice() []string {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.b)-r.off) { // each element needs at least a length byte
		r.fail(ErrShortRecord)
		return nil
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, r.string())
	}
	return out
}

func appendStringSlice(b []byte, ss []string) []byte {
	b = appendUvarint(b, uint64(len(ss)))
	for _, s := range ss {
		b = appendString(b, s)
	}
	return b
}

// appendSubject encodes a subject with tags in lexical key order so equal
// subjects encode identically.
func appendSubject(b []byte, s subject.Subject) []byte {
	b = appendString(b, s.Service)
	b = appendString(b, s.Topic)
	keys := s.SortedTagKeys()
	b = appendUvarint(b, uint64(len(keys)))
	for _, k := range keys {
		b = appendString(b, k)
		b = appendString(b, s.Tags[k])
	}
	return b
}

func (r *reader) subject() subject.Subject {
	service := r.string()
	topic := r.string()
	n := r.uvarint()
	if r.err != nil {
		return subject.Subject{}
	}
	var tags map[string]string
	if n > 0 {
		if n > uint64(len(r.b)-r.off) {
			r.fail(ErrShortRecord)
			return subject.Subject{}
		}
		tags = make(map[string]string, n)
		for i := uint64(0); i < n; i++ {
			k := r.string()
			v := r.string()
			if r.err != nil {
				return subject.Subject{}
			}
			tags[k] = v
		}
	}
	return subject.New(service, topic, tags)
}

// EncodeState serializes a bare state, outside any record framing. The
// producer state cache stores states in this form.
func EncodeState(s streamstate.State) ([]byte, error) {
	return appendState(nil, s)
}

// DecodeState parses a bare state produced by EncodeState.
func DecodeState(b []byte) (streamstate.State, error) {
	r := &reader{b: b}
	s := r.state()
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(b) {
		return nil, fmt.Errorf("dialect: %d trailing bytes after state", len(b)-r.off)
	}
	return s, nil
}

func appendState(b []byte, s streamstate.State) ([]byte, error) {
	switch st := s.(type) {
	case streamstate.StringState:
		b = append(b, byte(streamstate.KindString))
		b = appendString(b, st.Value)
	case streamstate.SetState:
		b = append(b, byte(streamstate.KindSet))
		b = appendUvarint(b, st.Version)
		b = appendBool(b, st.PartialUpdates)
		b = appendStringSlice(b, st.SortedElements())
	case streamstate.ListState:
		b = append(b, byte(streamstate.KindList))
		b = appendUvarint(b, uint64(st.Capacity))
		b = append(b, byte(st.Evict))
		b = appendStringSlice(b, st.Items)
	case streamstate.DictMapState:
		b = append(b, byte(streamstate.KindDictMap))
		b = appendUvarint(b, uint64(len(st.Columns)))
		for _, c := range st.Columns {
			b = appendString(b, c.Name)
			b = append(b, byte(c.Type))
		}
		var err error
		if b, err = appendRow(b, st.Row); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("dialect: unsupported state %T", s)
	}
	return b, nil
}

func (r *reader) state() streamstate.State {
	switch streamstate.Kind(r.byte()) {
	case streamstate.KindString:
		return streamstate.StringState{Value: r.string()}
	case streamstate.KindSet:
		version := r.uvarint()
		partial := r.bool()
		elems := r.stringSlice()
		if r.err != nil {
			return nil
		}
		return streamstate.NewSetState(version, elems, partial)
	case streamstate.KindList:
		capacity := r.uvarint()
		evict := streamstate.EvictSide(r.byte())
		items := r.stringSlice()
		if r.err != nil {
			return nil
		}
		return streamstate.ListState{Capacity: int(capacity), Evict: evict, Items: items}
	case streamstate.KindDictMap:
		n := r.uvarint()
		if r.err != nil || n > uint64(len(r.b)-r.off) {
			r.fail(ErrShortRecord)
			return nil
		}
		cols := make([]streamstate.Column, 0, n)
		for i := uint64(0); i < n; i++ {
			name := r.string()
			typ := streamstate.ColumnType(r.byte())
			cols = append(cols, streamstate.Column{Name: name, Type: typ})
		}
		row := r.row()
		if r.err != nil {
			return nil
		}
		return streamstate.DictMapState{Columns: cols, Row: row}
	default:
		r.fail(ErrUnknownKind)
		return nil
	}
}

func appendRow(b []byte, row []streamstate.Value) ([]byte, error) {
	b = appendUvarint(b, uint64(len(row)))
	for _, v := range row {
		b = append(b, byte(v.Type))
		switch v.Type {
		case streamstate.ColString:
			b = appendString(b, v.Str)
		case streamstate.ColInt:
			b = appendVarint(b, v.Int)
		case streamstate.ColBool:
			b = appendBool(b, v.Bool)
		default:
			return nil, fmt.Errorf("dialect: unsupported column type %d", v.Type)
		}
	}
	return b, nil
}

func (r *reader) row() []streamstate.Value {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.b)-r.off) {
		r.fail(ErrShortRecord)
		return nil
	}
	row := make([]streamstate.Value, 0, n)
	for i := uint64(0); i < n; i++ {
		switch streamstate.ColumnType(r.byte()) {
		case streamstate.ColString:
			row = append(row, streamstate.StringValue(r.string()))
		case streamstate.ColInt:
			row = append(row, streamstate.IntValue(r.varint()))
		case streamstate.ColBool:
			row = append(row, streamstate.BoolValue(r.bool()))
		default:
			r.fail(ErrUnknownKind)
			return nil
		}
	}
	return row
}

func appendTransition(b []byte, t streamstate.Transition) ([]byte, error) {
	switch tr := t.(type) {
	case streamstate.StringTransition:
		b = append(b, byte(streamstate.TransString))
		b = appendString(b, tr.Value)
	case streamstate.SetSnapshot:
		b = append(b, byte(streamstate.TransSetSnapshot))
		b = appendUvarint(b, tr.Version)
		b = appendStringSlice(b, sortedCopy(tr.Elements))
	case streamstate.SetDelta:
		b = append(b, byte(streamstate.TransSetDelta))
		b = appendUvarint(b, tr.BaseVersion)
		b = appendStringSlice(b, sortedCopy(tr.Added))
		b = appendStringSlice(b, sortedCopy(tr.Removed))
	case streamstate.ListAddHead:
		b = append(b, byte(streamstate.TransListAddHead))
		b = appendString(b, tr.Item)
	case streamstate.ListAddTail:
		b = append(b, byte(streamstate.TransListAddTail))
		b = appendString(b, tr.Item)
	case streamstate.ListRemove:
		b = append(b, byte(streamstate.TransListRemove))
		b = appendString(b, tr.Item)
	case streamstate.ListSnapshot:
		b = append(b, byte(streamstate.TransListSnapshot))
		b = appendStringSlice(b, tr.Items)
	case streamstate.DictMapRow:
		b = append(b, byte(streamstate.TransDictMapRow))
		var err error
		if b, err = appendRow(b, tr.Row); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("dialect: unsupported transition %T", t)
	}
	return b, nil
}

func (r *reader) transition() streamstate.Transition {
	switch streamstate.TransitionKind(r.byte()) {
	case streamstate.TransString:
		return streamstate.StringTransition{Value: r.string()}
	case streamstate.TransSetSnapshot:
		return streamstate.SetSnapshot{Version: r.uvarint(), Elements: r.stringSlice()}
	case streamstate.TransSetDelta:
		return streamstate.SetDelta{BaseVersion: r.uvarint(), Added: r.stringSlice(), Removed: r.stringSlice()}
	case streamstate.TransListAddHead:
		return streamstate.ListAddHead{Item: r.string()}
	case streamstate.TransListAddTail:
		return streamstate.ListAddTail{Item: r.string()}
	case streamstate.TransListRemove:
		return streamstate.ListRemove{Item: r.string()}
	case streamstate.TransListSnapshot:
		return streamstate.ListSnapshot{Items: r.stringSlice()}
	case streamstate.TransDictMapRow:
		return streamstate.DictMapRow{Row: r.row()}
	default:
		r.fail(ErrUnknownKind)
		return nil
	}
}

func sortedCopy(ss []string) []string {
	out := make([]string, len(ss))
	copy(out, ss)
	sort.Strings(out)
	return out
}
