package service

import (
	"fmt"
	"sync"

	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// Forwarder receives a topic's stream, typically an endpoint hub link.
// Calls happen under the topic lock and must not block.
type Forwarder interface {
	ForwardSnapshot(subj subject.Subject, s streamstate.State)
	ForwardTransition(subj subject.Subject, t streamstate.Transition)
	ForwardClosed(subj subject.Subject)
}

// Topic is one published stream instance: a subject, its current state, and
// the attached forwarders. Publishing folds the transition into the state
// before fan-out, so Snapshot is always consistent with everything already
// forwarded.
type Topic struct {
	subj  subject.Subject
	cache StateCache
	log   logpkg.Logger

	mu     sync.Mutex
	state  streamstate.State
	closed bool
	subs   map[string]Forwarder
}

// Subject returns the topic's subject.
func (t *Topic) Subject() subject.Subject { return t.subj }

// Snapshot returns the current state.
func (t *Topic) Snapshot() streamstate.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attach subscribes a forwarder under id and immediately hands it the
// current state, the first-attach snapshot.
func (t *Topic) Attach(id string, f Forwarder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[id] = f
	f.ForwardSnapshot(t.subj, t.state)
}

// Detach removes the forwarder registered under id.
func (t *Topic) Detach(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
}

// close notifies forwarders that the producer withdrew the topic. Further
// publishes fail.
func (t *Topic) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, f := range t.subs {
		f.ForwardClosed(t.subj)
	}
	t.subs = make(map[string]Forwarder)
}

// publish folds the transition into the current state and fans it out.
func (t *Topic) publish(tr streamstate.Transition) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("service: topic %s is closed", t.subj.Key())
	}
	next, ok := tr.Apply(t.state)
	if !ok {
		return fmt.Errorf("service: transition %T not applicable to %s state", tr, t.state.Kind())
	}
	t.state = next
	if t.cache != nil {
		if err := t.cache.Put(t.subj, next); err != nil {
			t.log.Warn("state cache write failed", logpkg.Err(err))
		}
	}
	for _, f := range t.subs {
		f.ForwardTransition(t.subj, tr)
	}
	return nil
}

// TopicOption configures a topic instance at registration time.
type TopicOption func(*topicConfig)

type topicConfig struct {
	tags map[string]string
}

// WithTags scopes the topic instance with the given tag set.
func WithTags(tags map[string]string) TopicOption {
	return func(c *topicConfig) { c.tags = tags }
}

func applyTopicOptions(opts []TopicOption) topicConfig {
	var c topicConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// StringTopic publishes a single string value.
type StringTopic struct {
	t *Topic
}

// StringTopic registers a string-valued topic.
func (s *Service) StringTopic(topic string, opts ...TopicOption) (*StringTopic, error) {
	c := applyTopicOptions(opts)
	t, err := s.addTopic(topic, c.tags, streamstate.StringState{})
	if err != nil {
		return nil, err
	}
	return &StringTopic{t: t}, nil
}

// Topic exposes the underlying topic instance.
func (st *StringTopic) Topic() *Topic { return st.t }

// Set publishes a new value.
func (st *StringTopic) Set(value string) error {
	return st.t.publish(streamstate.StringTransition{Value: value})
}

// SetTopic publishes a versioned element set. In partial-updates mode
// element changes ride deltas; otherwise every publish is a full snapshot.
type SetTopic struct {
	t       *Topic
	partial bool
}

// SetTopic registers a set-valued topic.
func (s *Service) SetTopic(topic string, partialUpdates bool, opts ...TopicOption) (*SetTopic, error) {
	c := applyTopicOptions(opts)
	t, err := s.addTopic(topic, c.tags, streamstate.NewSetState(0, nil, partialUpdates))
	if err != nil {
		return nil, err
	}
	return &SetTopic{t: t, partial: partialUpdates}, nil
}

// Topic exposes the underlying topic instance.
func (st *SetTopic) Topic() *Topic { return st.t }

// Replace publishes a full snapshot with a bumped version.
func (st *SetTopic) Replace(elems []string) error {
	cur := st.t.Snapshot().(streamstate.SetState)
	return st.t.publish(streamstate.SetSnapshot{Version: cur.Version + 1, Elements: elems})
}

// Update publishes added and removed elements. In partial-updates mode this
// is a delta against the current version; otherwise the change collapses
// into a fresh snapshot.
func (st *SetTopic) Update(added, removed []string) error {
	cur := st.t.Snapshot().(streamstate.SetState)
	if st.partial {
		return st.t.publish(streamstate.SetDelta{BaseVersion: cur.Version, Added: added, Removed: removed})
	}
	next := make(map[string]struct{}, len(cur.Elements)+len(added))
	for e := range cur.Elements {
		next[e] = struct{}{}
	}
	for _, e := range added {
		next[e] = struct{}{}
	}
	for _, e := range removed {
		delete(next, e)
	}
	elems := make([]string, 0, len(next))
	for e := range next {
		elems = append(elems, e)
	}
	return st.t.publish(streamstate.SetSnapshot{Version: cur.Version + 1, Elements: elems})
}

// ListTopic publishes a capacity-bounded ordered sequence.
type ListTopic struct {
	t *Topic
}

// ListTopic registers a list-valued topic with the given capacity and
// eviction side.
func (s *Service) ListTopic(topic string, capacity int, evict streamstate.EvictSide, opts ...TopicOption) (*ListTopic, error) {
	c := applyTopicOptions(opts)
	t, err := s.addTopic(topic, c.tags, streamstate.ListState{Capacity: capacity, Evict: evict})
	if err != nil {
		return nil, err
	}
	return &ListTopic{t: t}, nil
}

// Topic exposes the underlying topic instance.
func (lt *ListTopic) Topic() *Topic { return lt.t }

// AddHead inserts an item at the head.
func (lt *ListTopic) AddHead(item string) error {
	return lt.t.publish(streamstate.ListAddHead{Item: item})
}

// AddTail appends an item at the tail.
func (lt *ListTopic) AddTail(item string) error {
	return lt.t.publish(streamstate.ListAddTail{Item: item})
}

// Remove drops the first occurrence of item.
func (lt *ListTopic) Remove(item string) error {
	return lt.t.publish(streamstate.ListRemove{Item: item})
}

// Replace publishes a full snapshot of the sequence.
func (lt *ListTopic) Replace(items []string) error {
	return lt.t.publish(streamstate.ListSnapshot{Items: items})
}

// DictMapTopic publishes a fixed-schema tuple.
type DictMapTopic struct {
	t       *Topic
	columns []streamstate.Column
}

// DictMapTopic registers a dict-map topic with the given dictionary. The
// initial row carries each column's zero value.
func (s *Service) DictMapTopic(topic string, columns []streamstate.Column, opts ...TopicOption) (*DictMapTopic, error) {
	c := applyTopicOptions(opts)
	row := make([]streamstate.Value, len(columns))
	for i, col := range columns {
		switch col.Type {
		case streamstate.ColString:
			row[i] = streamstate.StringValue("")
		case streamstate.ColInt:
			row[i] = streamstate.IntValue(0)
		case streamstate.ColBool:
			row[i] = streamstate.BoolValue(false)
		default:
			return nil, fmt.Errorf("%w: column %q", ErrSchemaMismatch, col.Name)
		}
	}
	cols := make([]streamstate.Column, len(columns))
	copy(cols, columns)
	t, err := s.addTopic(topic, c.tags, streamstate.DictMapState{Columns: cols, Row: row})
	if err != nil {
		return nil, err
	}
	return &DictMapTopic{t: t, columns: cols}, nil
}

// Topic exposes the underlying topic instance.
func (dt *DictMapTopic) Topic() *Topic { return dt.t }

// Update publishes a new positional row.
func (dt *DictMapTopic) Update(row ...streamstate.Value) error {
	if len(row) != len(dt.columns) {
		return fmt.Errorf("%w: got %d values, dictionary has %d columns", ErrSchemaMismatch, len(row), len(dt.columns))
	}
	for i, v := range row {
		if v.Type != dt.columns[i].Type {
			return fmt.Errorf("%w: column %q", ErrSchemaMismatch, dt.columns[i].Name)
		}
	}
	return dt.t.publish(streamstate.DictMapRow{Row: row})
}
