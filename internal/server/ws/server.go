package ws

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/zhongdj/reactiveservices/internal/aggregator"
	"github.com/zhongdj/reactiveservices/internal/cluster"
	"github.com/zhongdj/reactiveservices/internal/location"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// EndpointNetwork is how a consumer session reaches producer endpoints and
// receives their events. The node runtime provides an implementation that
// picks a local hub ref or a cluster ref per advertised location.
type EndpointNetwork interface {
	// NewRef builds the endpoint ref for an advertised location, delivering
	// stream events to the given handler.
	NewRef(consumerID string, ep location.Endpoint, events cluster.EventHandler) aggregator.EndpointRef

	// StartListener subscribes the consumer's cluster event address. The
	// returned stop function releases it. Standalone nodes return a no-op.
	StartListener(consumerID string, events cluster.EventHandler) (func(), error)
}

// ConnectionStats describes one live consumer connection for the admin API.
type ConnectionStats struct {
	ID            string `json:"id"`
	RemoteAddr    string `json:"remoteAddr"`
	Aliases       int    `json:"aliases"`
	ConnectedAtMs int64  `json:"connectedAtMs"`
}

// Options configures the WebSocket server.
type Options struct {
	Path         string
	WriteBuffer  int
	PingInterval time.Duration
	SignalRate   rate.Limit
	SignalBurst  int

	Binding location.Binding
	Network EndpointNetwork
	Logger  logpkg.Logger

	// Hooks into the node metrics; all optional.
	OnConnect            func()
	OnDisconnect         func()
	OnSignal             func()
	NewAggregatorMetrics func() aggregator.MetricsHook
}

// Server is the consumer-facing WebSocket listener.
type Server struct {
	opts     Options
	log      logpkg.Logger
	upgrader websocket.Upgrader
	srv      *http.Server
	lis      net.Listener

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds a server; mount Handler or use ListenAndServe.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	if opts.Path == "" {
		opts.Path = "/stream"
	}
	if opts.WriteBuffer <= 0 {
		opts.WriteBuffer = 64
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.SignalRate <= 0 {
		opts.SignalRate = rate.Limit(100)
	}
	if opts.SignalBurst <= 0 {
		opts.SignalBurst = 50
	}
	s := &Server{
		opts: opts,
		log:  opts.Logger.With(logpkg.Component("ws-server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    32 << 10,
			WriteBufferSize:   32 << 10,
			EnableCompression: true,
			// The dialect carries its own subjects; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
	return s
}

// Handler returns the upgrade handler for mounting on an existing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.handleUpgrade)
	return mux
}

// ListenAndServe serves upgrades on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.srv = &http.Server{Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		s.closeAll()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close shuts the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
	s.closeAll()
}

// Connections lists the live sessions for the admin API.
func (s *Server) Connections() []ConnectionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectionStats, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.stats())
	}
	return out
}

func (s *Server) closeAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.terminate("server shutdown")
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", logpkg.Err(err))
		return
	}
	id := uuid.NewString()
	sess := newSession(s, id, conn)
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	if s.opts.OnConnect != nil {
		s.opts.OnConnect()
	}
	s.log.Info("consumer connected", logpkg.Str("consumer", id), logpkg.Str("remote", conn.RemoteAddr().String()))

	go func() {
		sess.run()
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		if s.opts.OnDisconnect != nil {
			s.opts.OnDisconnect()
		}
		s.log.Info("consumer disconnected", logpkg.Str("consumer", id))
	}()
}
