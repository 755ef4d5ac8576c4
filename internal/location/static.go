package location

import (
	"context"
	"sync"
)

// Static implements Binding with a fixed in-memory table. Useful for tests
// and single-node deployments where every service is local.
type Static struct {
	mu       sync.Mutex
	table    map[string]Endpoint
	watchers map[int]chan Change
	nextID   int
	closed   bool
}

var _ Binding = (*Static)(nil)

// NewStatic creates an empty static binding.
func NewStatic() *Static {
	return &Static{
		table:    make(map[string]Endpoint),
		watchers: make(map[int]chan Change),
	}
}

// Watch replays the current table and then streams changes.
func (s *Static) Watch(ctx context.Context) (<-chan Change, error) {
	s.mu.Lock()
	// Room for the whole replay plus a burst of live changes.
	ch := make(chan Change, len(s.table)+64)
	for _, ep := range s.table {
		e := ep
		ch <- Change{Service: e.Service, Location: &e}
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
		s.mu.Unlock()
	}()
	return ch, nil
}

// Advertise installs the endpoint and fans the change out.
func (s *Static) Advertise(_ context.Context, ep Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.table[ep.Service] = ep
	e := ep
	s.fanOut(Change{Service: ep.Service, Location: &e})
	return nil
}

// Withdraw removes the service and fans the change out.
func (s *Static) Withdraw(_ context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, ok := s.table[service]; !ok {
		return nil
	}
	delete(s.table, service)
	s.fanOut(Change{Service: service})
	return nil
}

// Close stops every watcher.
func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	return nil
}

// fanOut delivers under the lock; watcher channels are buffered and slow
// watchers lose intermediate changes rather than block the table.
func (s *Static) fanOut(c Change) {
	for _, ch := range s.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
