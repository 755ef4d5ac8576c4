package aggregator

import "sort"

// PriorityGroup owns the ordered buckets sharing one priority key and a
// round-robin cursor. The cursor survives across dispatch calls, so
// fairness holds across calls rather than within one.
type PriorityGroup struct {
	// Key is nil for the default, lowest-priority group.
	Key *string

	buckets []*Bucket
	idx     int
}

// NewPriorityGroup builds an empty group for the key.
func NewPriorityGroup(key *string) *PriorityGroup { return &PriorityGroup{Key: key} }

// Len returns the number of buckets in the group.
func (g *PriorityGroup) Len() int { return len(g.buckets) }

// Add appends a bucket to the group.
func (g *PriorityGroup) Add(b *Bucket) { g.buckets = append(g.buckets, b) }

// Remove drops the bucket for the subject key, if present.
func (g *PriorityGroup) Remove(subjectKey string) {
	for i, b := range g.buckets {
		if b.Subj.Key() == subjectKey {
			g.buckets = append(g.buckets[:i], g.buckets[i+1:]...)
			if g.idx > i {
				g.idx--
			}
			return
		}
	}
}

// PublishPending makes at most len(buckets) attempts, wrapping the cursor
// and advancing it after each attempt, and stops at the first emission so
// sibling groups get their turn between emissions. Buckets whose pending
// delta turned out inapplicable are returned for an upstream refresh.
func (g *PriorityGroup) PublishPending(canSend func() bool, emit func(Event), nowMillis int64) (published int, resets []*Bucket) {
	for attempts := len(g.buckets); attempts > 0; attempts-- {
		if !canSend() {
			break
		}
		if g.idx >= len(g.buckets) {
			g.idx = 0
		}
		b := g.buckets[g.idx]
		g.idx++
		sent, reset := b.PublishPending(canSend, emit, nowMillis)
		if reset {
			resets = append(resets, b)
		}
		if sent {
			published++
			break
		}
	}
	return published, resets
}

// Less orders groups by priority: nil keys sort after every non-nil key
// (lowest priority), non-nil keys sort lexicographically ascending.
func Less(a, b *string) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a < *b
	}
}

// sortGroups re-establishes priority order after adds and removes.
func sortGroups(groups []*PriorityGroup) {
	sort.SliceStable(groups, func(i, j int) bool { return Less(groups[i].Key, groups[j].Key) })
}
