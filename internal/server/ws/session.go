package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/zhongdj/reactiveservices/internal/aggregator"
	"github.com/zhongdj/reactiveservices/internal/dialect"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// pongGrace is how many ping intervals may pass without a pong before the
// connection is considered dead.
const pongGrace = 3

// session is one consumer connection: the alias table, the aggregator, and
// the read/write pumps.
type session struct {
	id     string
	server *Server
	conn   *websocket.Conn
	log    logpkg.Logger

	agg     *aggregator.Aggregator
	aggHook aggregator.MetricsHook
	limiter *rate.Limiter

	aliasMu  sync.RWMutex
	aliases  map[uint32]subject.Subject
	subjects map[string]uint32 // subject key → alias
	maxAlias uint32

	outbound chan dialect.Message // demand-accounted events
	ctrl     chan dialect.Message // pings/pongs, outside demand

	done     chan struct{}
	stopOnce sync.Once

	lastPong    atomic.Int64
	connectedAt time.Time
}

func newSession(server *Server, id string, conn *websocket.Conn) *session {
	s := &session{
		id:          id,
		server:      server,
		conn:        conn,
		log:         server.log.With(logpkg.Str("consumer", id)),
		limiter:     rate.NewLimiter(server.opts.SignalRate, server.opts.SignalBurst),
		aliases:     make(map[uint32]subject.Subject),
		subjects:    make(map[string]uint32),
		outbound:    make(chan dialect.Message, server.opts.WriteBuffer),
		ctrl:        make(chan dialect.Message, 16),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	var hook aggregator.MetricsHook
	if server.opts.NewAggregatorMetrics != nil {
		hook = server.opts.NewAggregatorMetrics()
	}
	s.aggHook = hook
	s.agg = aggregator.New(aggregator.Options{
		ConsumerID: id,
		Sink:       s,
		Logger:     server.opts.Logger,
		Metrics:    hook,
	})
	s.lastPong.Store(time.Now().UnixMilli())
	return s
}

func (s *session) stats() ConnectionStats {
	s.aliasMu.RLock()
	aliases := len(s.aliases)
	s.aliasMu.RUnlock()
	return ConnectionStats{
		ID:            s.id,
		RemoteAddr:    s.conn.RemoteAddr().String(),
		Aliases:       aliases,
		ConnectedAtMs: s.connectedAt.UnixMilli(),
	}
}

// run drives the session to completion. It returns when the connection is
// gone and the aggregator has shut down.
func (s *session) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.agg.Run(ctx)

	stopListener, err := s.server.opts.Network.StartListener(s.id, s.agg)
	if err != nil {
		s.log.Error("cluster listener failed", logpkg.Err(err))
		s.terminate("cluster listener failure")
		s.agg.Stop()
		return
	}
	defer stopListener()

	go s.watchLocations(ctx)
	go s.writePump(ctx)

	// The full write buffer is the initial demand window.
	s.agg.AddDemand(s.server.opts.WriteBuffer)

	s.readPump()

	// Connection gone: stop the aggregator, which closes all local streams
	// on every bound endpoint.
	s.agg.Stop()
	if hook, ok := s.aggHook.(interface{ Detach() }); ok {
		hook.Detach()
	}
}

// terminate force-closes the connection; the read pump then unwinds run.
func (s *session) terminate(reason string) {
	s.stopOnce.Do(func() {
		s.log.Debug("session terminating", logpkg.Str("reason", reason))
		close(s.done)
		_ = s.conn.Close()
	})
}

// --- aggregator sink ------------------------------------------------------

// Send implements aggregator.Sink. Called from the aggregator goroutine
// only after demand was granted, so the channel always has room.
func (s *session) Send(ev aggregator.Event) {
	msg, ok := s.toWire(ev)
	if !ok {
		// The subject was never aliased on this connection; nothing the
		// consumer could correlate it with. Re-grant the token.
		s.agg.AddDemand(1)
		return
	}
	select {
	case s.outbound <- msg:
	default:
		// Demand accounting guarantees room; overflow means the invariant
		// broke and the connection is not trustworthy anymore.
		s.log.Error("outbound queue overflow, demand accounting broken")
		s.terminate("demand accounting violation")
	}
}

func (s *session) toWire(ev aggregator.Event) (dialect.Message, bool) {
	switch ev.Kind {
	case aggregator.EventNotAvailable:
		return dialect.ServiceNotAvailable{Service: ev.Service}, true
	case aggregator.EventSignalAckOk:
		return dialect.SignalAckOk{CorrelationID: ev.CorrelationID, Payload: ev.Payload}, true
	case aggregator.EventSignalAckFailed:
		return dialect.SignalAckFailed{CorrelationID: ev.CorrelationID, Payload: ev.Payload}, true
	}

	alias, ok := s.aliasFor(ev.Subject)
	if !ok {
		s.log.Warn("event for unaliased subject dropped", logpkg.Str("subject", ev.Subject.Key()))
		return nil, false
	}
	switch ev.Kind {
	case aggregator.EventSnapshot:
		return dialect.StreamStateUpdate{Alias: alias, State: ev.State}, true
	case aggregator.EventTransition:
		return dialect.StreamStateTransitionUpdate{Alias: alias, Transition: ev.Transition}, true
	case aggregator.EventClosed:
		return dialect.SubscriptionClosed{Alias: alias}, true
	case aggregator.EventInvalid:
		return dialect.InvalidRequest{Alias: alias}, true
	default:
		return nil, false
	}
}

func (s *session) aliasFor(subj subject.Subject) (uint32, bool) {
	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()
	alias, ok := s.subjects[subj.Key()]
	return alias, ok
}

// --- location watching ----------------------------------------------------

func (s *session) watchLocations(ctx context.Context) {
	ch, err := s.server.opts.Binding.Watch(ctx)
	if err != nil {
		s.log.Error("location watch failed", logpkg.Err(err))
		s.terminate("location watch failure")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			if change.Location == nil {
				s.agg.OnLocationChanged(change.Service, nil)
				continue
			}
			ref := s.server.opts.Network.NewRef(s.id, *change.Location, s.agg)
			if ref == nil {
				// Unreachable location (e.g. remote node on a standalone
				// deployment); treat the service as gone.
				s.agg.OnLocationChanged(change.Service, nil)
				continue
			}
			s.agg.OnLocationChanged(change.Service, ref)
		}
	}
}

// --- read pump ------------------------------------------------------------

func (s *session) readPump() {
	for {
		msgType, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.terminate("read: " + err.Error())
			return
		}
		if msgType != websocket.BinaryMessage {
			// Text frames are a protocol error on this endpoint.
			s.log.Warn("non-binary frame, closing")
			s.terminate("text frame")
			return
		}
		msgs, err := dialect.DecodeAll(frame)
		if err != nil {
			s.log.Warn("undecodable frame, closing", logpkg.Err(err))
			s.terminate("decode failure")
			return
		}
		for _, m := range msgs {
			if !s.handleInbound(m) {
				return
			}
		}
	}
}

// handleInbound processes one record; false terminates the connection.
func (s *session) handleInbound(m dialect.Message) bool {
	switch rec := m.(type) {
	case dialect.Alias:
		return s.registerAlias(rec)
	case dialect.OpenSubscription:
		subj, ok := s.subjectFor(rec.Alias)
		if !ok {
			s.terminate("open for unknown alias")
			return false
		}
		s.agg.Open(subj, rec.PriorityKey, int(rec.AggregationMs))
	case dialect.CloseSubscription:
		subj, ok := s.subjectFor(rec.Alias)
		if !ok {
			s.terminate("close for unknown alias")
			return false
		}
		s.agg.Close(subj)
	case dialect.ResetSubscription:
		subj, ok := s.subjectFor(rec.Alias)
		if !ok {
			s.terminate("reset for unknown alias")
			return false
		}
		s.agg.Reset(subj)
	case dialect.Signal:
		if !s.limiter.Allow() {
			if rec.CorrelationID != nil {
				s.agg.OnSignalAck(false, *rec.CorrelationID, []byte("rate limited"))
			}
			return true
		}
		if s.server.opts.OnSignal != nil {
			s.server.opts.OnSignal()
		}
		s.agg.Signal(rec)
	case dialect.Ping:
		s.enqueueCtrl(dialect.Pong{ID: rec.ID})
	case dialect.Pong:
		s.lastPong.Store(time.Now().UnixMilli())
	default:
		s.log.Warn("unexpected record from consumer, closing")
		s.terminate("unexpected record")
		return false
	}
	return true
}

func (s *session) registerAlias(rec dialect.Alias) bool {
	if rec.Alias == 0 {
		s.terminate("alias zero")
		return false
	}
	s.aliasMu.Lock()
	if _, exists := s.aliases[rec.Alias]; exists {
		s.aliasMu.Unlock()
		s.terminate("alias reuse")
		return false
	}
	if rec.Alias <= s.maxAlias {
		// Aliases are monotonically assigned per connection.
		s.aliasMu.Unlock()
		s.terminate("alias out of order")
		return false
	}
	s.maxAlias = rec.Alias
	s.aliases[rec.Alias] = rec.Subject
	s.subjects[rec.Subject.Key()] = rec.Alias
	s.aliasMu.Unlock()
	return true
}

func (s *session) subjectFor(alias uint32) (subject.Subject, bool) {
	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()
	subj, ok := s.aliases[alias]
	return subj, ok
}

func (s *session) enqueueCtrl(m dialect.Message) {
	select {
	case s.ctrl <- m:
	default:
		// A peer that floods pings loses liveness replies, not the link.
	}
}

// --- write pump -----------------------------------------------------------

func (s *session) writePump(ctx context.Context) {
	pingTicker := time.NewTicker(s.server.opts.PingInterval)
	defer pingTicker.Stop()
	var pingID uint32

	write := func(m dialect.Message) bool {
		frame, err := dialect.Encode(m)
		if err != nil {
			s.log.Error("encode outbound", logpkg.Err(err))
			s.terminate("encode failure")
			return false
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			s.terminate("write: " + err.Error())
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case m := <-s.ctrl:
			if !write(m) {
				return
			}
		case m := <-s.outbound:
			if !write(m) {
				return
			}
			// The drained slot becomes fresh consumer demand.
			s.agg.AddDemand(1)
		case <-pingTicker.C:
			age := time.Now().UnixMilli() - s.lastPong.Load()
			if age > pongGrace*s.server.opts.PingInterval.Milliseconds() {
				s.terminate("pong timeout")
				return
			}
			pingID++
			if !write(dialect.Ping{ID: pingID}) {
				return
			}
		}
	}
}
