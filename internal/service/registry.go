package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// Registry errors.
var (
	ErrInvalidKey      = errors.New("service: invalid key")
	ErrServiceExists   = errors.New("service: already registered")
	ErrUnknownService  = errors.New("service: unknown service")
	ErrTopicExists     = errors.New("service: topic already registered")
	ErrUnknownTopic    = errors.New("service: unknown topic")
	ErrSchemaMismatch  = errors.New("service: row does not match dictionary")
	ErrNoSignalHandler = errors.New("service: no signal handler installed")
)

// keyPattern bounds service and topic keys: stable, path-safe strings.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// StateCache persists the latest state per subject so a restarted node can
// serve first-attach snapshots. Implementations must be safe for concurrent
// use.
type StateCache interface {
	Put(subj subject.Subject, s streamstate.State) error
	Load(subj subject.Subject) (streamstate.State, bool, error)
}

// Signal is a consumer signal as delivered to a service handler. Expiry is
// enforced by the endpoint hub before delivery.
type Signal struct {
	Subject        subject.Subject
	Payload        []byte
	OrderingGroup  string
	ExpireAtMillis int64
}

// SignalHandler processes a signal and returns the ack payload. A non-nil
// error turns a correlated signal into a failed ack.
type SignalHandler func(ctx context.Context, sig Signal) ([]byte, error)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStateCache persists topic states through the given cache and seeds
// new topics from it.
func WithStateCache(c StateCache) RegistryOption {
	return func(r *Registry) { r.cache = c }
}

// Registry is the per-node set of producing services.
type Registry struct {
	log   logpkg.Logger
	cache StateCache

	mu       sync.RWMutex
	services map[string]*Service
}

// NewRegistry builds an empty registry.
func NewRegistry(logger logpkg.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	r := &Registry{
		log:      logger.With(logpkg.Component("service-registry")),
		services: make(map[string]*Service),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a service under the key. Keys are validated against the
// same pattern topics use.
func (r *Registry) Register(key string) (*Service, error) {
	if !keyPattern.MatchString(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[key]; exists {
		return nil, fmt.Errorf("%w: %q", ErrServiceExists, key)
	}
	svc := &Service{
		key:    key,
		log:    r.log.With(logpkg.Str("service", key)),
		cache:  r.cache,
		topics: make(map[string]*Topic),
	}
	r.services[key] = svc
	r.log.Info("service registered", logpkg.Str("service", key))
	return svc, nil
}

// Get returns the service registered under key.
func (r *Registry) Get(key string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[key]
	return svc, ok
}

// Keys returns the registered service keys in lexical order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.services))
	for k := range r.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Service is the producer surface of one logical service.
type Service struct {
	key   string
	log   logpkg.Logger
	cache StateCache

	mu      sync.RWMutex
	topics  map[string]*Topic // subject key → topic instance
	handler SignalHandler
}

// Key returns the service key.
func (s *Service) Key() string { return s.key }

// HandleSignals installs the signal handler.
func (s *Service) HandleSignals(h SignalHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// DeliverSignal runs the installed handler. Called by the endpoint hub.
func (s *Service) DeliverSignal(ctx context.Context, sig Signal) ([]byte, error) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h == nil {
		return nil, ErrNoSignalHandler
	}
	return h(ctx, sig)
}

// RemoveTopic withdraws a topic instance. Attached forwarders are told the
// stream closed.
func (s *Service) RemoveTopic(subj subject.Subject) error {
	s.mu.Lock()
	t, ok := s.topics[subj.Key()]
	if ok {
		delete(s.topics, subj.Key())
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, subj.Key())
	}
	t.close()
	return nil
}

// Topic returns the topic instance for the subject, if registered.
func (s *Service) Topic(subj subject.Subject) (*Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[subj.Key()]
	return t, ok
}

// Subjects returns the subjects of every registered topic instance.
func (s *Service) Subjects() []subject.Subject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]subject.Subject, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t.subj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// addTopic installs a topic instance, seeding its state from the cache when
// one is configured.
func (s *Service) addTopic(topic string, tags map[string]string, initial streamstate.State) (*Topic, error) {
	if !keyPattern.MatchString(topic) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, topic)
	}
	subj := subject.New(s.key, topic, tags)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.topics[subj.Key()]; exists {
		return nil, fmt.Errorf("%w: %q", ErrTopicExists, subj.Key())
	}

	state := initial
	if s.cache != nil {
		if cached, ok, err := s.cache.Load(subj); err != nil {
			s.log.Warn("state cache read failed", logpkg.Str("subject", subj.Key()), logpkg.Err(err))
		} else if ok && cached.Kind() == initial.Kind() {
			state = cached
		}
	}

	t := &Topic{
		subj:  subj,
		cache: s.cache,
		log:   s.log.With(logpkg.Str("subject", subj.Key())),
		state: state,
		subs:  make(map[string]Forwarder),
	}
	s.topics[subj.Key()] = t
	return t, nil
}
