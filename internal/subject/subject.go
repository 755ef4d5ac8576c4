// Package subject defines the subscription target triple shared by the
// dialect, the aggregator, and the producer-side endpoint.
package subject

import (
	"sort"
	"strings"
)

// Subject identifies a subscription target: a logical service, a topic it
// publishes, and an unordered tag set disambiguating instance-scoped
// streams. Subjects are immutable once built; Key() is stable and usable as
// a map key.
type Subject struct {
	Service string
	Topic   string
	Tags    map[string]string
}

// New builds a Subject. The tags map is copied.
func New(service, topic string, tags map[string]string) Subject {
	var t map[string]string
	if len(tags) > 0 {
		t = make(map[string]string, len(tags))
		for k, v := range tags {
			t[k] = v
		}
	}
	return Subject{Service: service, Topic: topic, Tags: t}
}

// Key returns the canonical form "service/topic?k=v&k2=v2" with tags in
// lexical key order. Two subjects are the same stream iff their keys match.
func (s Subject) Key() string {
	var b strings.Builder
	b.WriteString(s.Service)
	b.WriteByte('/')
	b.WriteString(s.Topic)
	if len(s.Tags) > 0 {
		keys := make([]string, 0, len(s.Tags))
		for k := range s.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sep := byte('?')
		for _, k := range keys {
			b.WriteByte(sep)
			sep = '&'
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(s.Tags[k])
		}
	}
	return b.String()
}

// String returns the canonical key form.
func (s Subject) String() string { return s.Key() }

// Equal reports whether two subjects identify the same stream.
func (s Subject) Equal(o Subject) bool { return s.Key() == o.Key() }

// SortedTagKeys returns the tag keys in lexical order, for deterministic
// encoding.
func (s Subject) SortedTagKeys() []string {
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
