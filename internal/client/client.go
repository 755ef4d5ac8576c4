// Package client implements the Go consumer for the streaming dialect: it
// dials the WebSocket edge, manages alias allocation, reconstructs stream
// state from snapshots and transitions, and round-trips correlated signals.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	"github.com/zhongdj/reactiveservices/pkg/id"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// Client errors.
var (
	ErrClosed       = errors.New("client: connection closed")
	ErrAckTimeout   = errors.New("client: ack wait cancelled")
	ErrSubscription = errors.New("client: subscription closed")
)

// UpdateKind discriminates subscription events.
type UpdateKind uint8

// Subscription event kinds
const (
	UpdateSnapshot UpdateKind = iota + 1
	UpdateTransition
	UpdateClosed
	UpdateNotAvailable
	UpdateInvalid
)

// Update is one subscription event. State is the reconstructed current
// state after applying the event; Transition is set for delta events.
type Update struct {
	Kind       UpdateKind
	Subject    subject.Subject
	State      streamstate.State
	Transition streamstate.Transition
}

// Ack is the outcome of a correlated signal.
type Ack struct {
	OK      bool
	Payload []byte
}

// Options configures a Client.
type Options struct {
	// URL is the WebSocket endpoint, e.g. ws://127.0.0.1:7470/stream.
	URL    string
	Logger logpkg.Logger
	// DialTimeout bounds the HTTP upgrade. Zero selects 10 s.
	DialTimeout time.Duration
	// UpdateBuffer is the per-subscription event queue depth. Zero selects 64.
	UpdateBuffer int
}

// Subscription is one open stream on the client.
type Subscription struct {
	c     *Client
	subj  subject.Subject
	alias uint32

	mu         sync.Mutex
	state      streamstate.State
	closed     bool
	terminated bool

	updates chan Update
}

// Subject returns the subscription's target.
func (s *Subscription) Subject() subject.Subject { return s.subj }

// Updates returns the event channel. It closes when the producer or the
// client closes the subscription.
func (s *Subscription) Updates() <-chan Update { return s.updates }

// State returns the reconstructed current state, nil before the first
// snapshot or transition.
func (s *Subscription) State() streamstate.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Client is one consumer connection.
type Client struct {
	conn         *websocket.Conn
	log          logpkg.Logger
	updateBuffer int

	writeMu sync.Mutex

	mu        sync.Mutex
	nextAlias uint32
	byAlias   map[uint32]*Subscription
	byService map[string][]*Subscription
	acks      map[string]chan Ack
	closed    bool

	done chan struct{}
	once sync.Once
}

// Dial connects to the WebSocket edge and starts the read loop.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = 64
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.DialTimeout,
		// Negotiates permessage-deflate on the upgrade.
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, opts.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", opts.URL, err)
	}
	c := &Client{
		conn:         conn,
		log:          opts.Logger.With(logpkg.Component("client")),
		updateBuffer: opts.UpdateBuffer,
		byAlias:      make(map[uint32]*Subscription),
		byService:    make(map[string][]*Subscription),
		acks:         make(map[string]chan Ack),
		done:         make(chan struct{}),
	}
	go c.readLoop(opts.UpdateBuffer)
	return c, nil
}

// Close terminates the connection. Open subscriptions' channels close.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) write(msgs ...dialect.Message) error {
	frame, err := dialect.Encode(msgs...)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// SubscribeOptions tune one subscription.
type SubscribeOptions struct {
	// PriorityKey orders dispatch relative to other subscriptions; nil is
	// lowest priority.
	PriorityKey *string
	// AggregationMs coalesces updates into at most one per window.
	AggregationMs int
	// UpdateBuffer overrides the client-level queue depth.
	UpdateBuffer int
}

// Subscribe registers an alias for the subject and opens the stream. The
// alias registration and the open ride one frame.
func (c *Client) Subscribe(subj subject.Subject, opts SubscribeOptions) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextAlias++
	alias := c.nextAlias
	buffer := opts.UpdateBuffer
	if buffer <= 0 {
		buffer = c.updateBuffer
	}
	sub := &Subscription{
		c:       c,
		subj:    subj,
		alias:   alias,
		updates: make(chan Update, buffer),
	}
	c.byAlias[alias] = sub
	c.byService[subj.Service] = append(c.byService[subj.Service], sub)
	c.mu.Unlock()

	err := c.write(
		dialect.Alias{Alias: alias, Subject: subj},
		dialect.OpenSubscription{Alias: alias, PriorityKey: opts.PriorityKey, AggregationMs: uint32(opts.AggregationMs)},
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Close stops the subscription. The server confirms with a
// SubscriptionClosed, which closes the update channel.
func (s *Subscription) Close() error {
	return s.c.write(dialect.CloseSubscription{Alias: s.alias})
}

// Reset requests a fresh snapshot from the producer.
func (s *Subscription) Reset() error {
	return s.c.write(dialect.ResetSubscription{Alias: s.alias})
}

// SignalOptions tune one signal.
type SignalOptions struct {
	// Expiry drops the signal when it cannot be delivered in time. Zero
	// means no expiry.
	Expiry time.Duration
	// OrderingGroup serializes signals sharing the same group.
	OrderingGroup *string
}

// Signal sends a correlated signal and waits for its ack.
func (c *Client) Signal(ctx context.Context, subj subject.Subject, payload []byte, opts SignalOptions) (Ack, error) {
	corr := id.NewCorrelation()
	ackCh := make(chan Ack, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Ack{}, ErrClosed
	}
	c.acks[corr] = ackCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, corr)
		c.mu.Unlock()
	}()

	if err := c.write(c.signalRecord(subj, payload, opts, &corr)); err != nil {
		return Ack{}, err
	}
	select {
	case ack := <-ackCh:
		return ack, nil
	case <-ctx.Done():
		return Ack{}, fmt.Errorf("%w: %v", ErrAckTimeout, ctx.Err())
	case <-c.done:
		return Ack{}, ErrClosed
	}
}

// SignalAsync sends a fire-and-forget signal with no ack.
func (c *Client) SignalAsync(subj subject.Subject, payload []byte, opts SignalOptions) error {
	return c.write(c.signalRecord(subj, payload, opts, nil))
}

func (c *Client) signalRecord(subj subject.Subject, payload []byte, opts SignalOptions, corr *string) dialect.Signal {
	var expireAt int64
	if opts.Expiry > 0 {
		expireAt = time.Now().Add(opts.Expiry).UnixMilli()
	}
	return dialect.Signal{
		Subject:        subj,
		Payload:        payload,
		ExpireAtMillis: expireAt,
		OrderingGroup:  opts.OrderingGroup,
		CorrelationID:  corr,
	}
}

// Ping round-trips a liveness probe.
func (c *Client) Ping(pingID uint32) error {
	return c.write(dialect.Ping{ID: pingID})
}

// --- read loop ------------------------------------------------------------

func (c *Client) readLoop(updateBuffer int) {
	defer c.shutdown()
	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			c.log.Warn("non-binary frame from server, closing")
			return
		}
		msgs, err := dialect.DecodeAll(frame)
		if err != nil {
			c.log.Warn("undecodable frame from server, closing", logpkg.Err(err))
			return
		}
		for _, m := range msgs {
			c.handle(m)
		}
	}
}

func (c *Client) handle(m dialect.Message) {
	switch rec := m.(type) {
	case dialect.StreamStateUpdate:
		if sub := c.subFor(rec.Alias); sub != nil {
			sub.onSnapshot(rec.State)
		}
	case dialect.StreamStateTransitionUpdate:
		if sub := c.subFor(rec.Alias); sub != nil {
			sub.onTransition(rec.Transition)
		}
	case dialect.SubscriptionClosed:
		if sub := c.subFor(rec.Alias); sub != nil {
			sub.onClosed()
		}
	case dialect.ServiceNotAvailable:
		for _, sub := range c.subsForService(rec.Service) {
			sub.push(Update{Kind: UpdateNotAvailable, Subject: sub.subj})
		}
	case dialect.InvalidRequest:
		if sub := c.subFor(rec.Alias); sub != nil {
			sub.push(Update{Kind: UpdateInvalid, Subject: sub.subj})
		}
	case dialect.SignalAckOk:
		c.deliverAck(rec.CorrelationID, Ack{OK: true, Payload: rec.Payload})
	case dialect.SignalAckFailed:
		c.deliverAck(rec.CorrelationID, Ack{OK: false, Payload: rec.Payload})
	case dialect.Ping:
		_ = c.write(dialect.Pong{ID: rec.ID})
	case dialect.Pong:
		// Liveness confirmed; nothing to track client-side.
	default:
		c.log.Warn("unexpected record from server")
	}
}

func (c *Client) subFor(alias uint32) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byAlias[alias]
}

func (c *Client) subsForService(service string) []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Subscription, len(c.byService[service]))
	copy(out, c.byService[service])
	return out
}

func (c *Client) deliverAck(corr string, ack Ack) {
	c.mu.Lock()
	ch := c.acks[corr]
	c.mu.Unlock()
	if ch != nil {
		ch <- ack
	}
}

func (c *Client) shutdown() {
	_ = c.Close()
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.byAlias))
	for _, sub := range c.byAlias {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		sub.onClosed()
	}
}

// --- subscription event handling -----------------------------------------

// All subscription event handlers run on the client's read loop, so pushes
// never race the channel close in onClosed.

func (s *Subscription) onSnapshot(state streamstate.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.push(Update{Kind: UpdateSnapshot, Subject: s.subj, State: state})
}

func (s *Subscription) onTransition(t streamstate.Transition) {
	s.mu.Lock()
	next, ok := t.Apply(s.state)
	if ok {
		s.state = next
	}
	s.mu.Unlock()
	if !ok {
		// The reconstruction lost sync; ask for a snapshot.
		s.c.log.Warn("inapplicable transition, requesting reset", logpkg.Str("subject", s.subj.Key()))
		_ = s.Reset()
		return
	}
	s.push(Update{Kind: UpdateTransition, Subject: s.subj, State: next, Transition: t})
}

func (s *Subscription) onClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.push(Update{Kind: UpdateClosed, Subject: s.subj})
	s.mu.Lock()
	s.terminated = true
	s.mu.Unlock()
	close(s.updates)
}

// push delivers without blocking; a full queue drops the oldest event so
// the consumer always converges on the latest state.
func (s *Subscription) push(u Update) {
	s.mu.Lock()
	dead := s.terminated || (s.closed && u.Kind != UpdateClosed)
	s.mu.Unlock()
	if dead {
		return
	}
	for {
		select {
		case s.updates <- u:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}
