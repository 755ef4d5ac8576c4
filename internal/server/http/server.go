package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhongdj/reactiveservices/internal/runtime"
	"github.com/zhongdj/reactiveservices/internal/server/http/controllers"
)

// Server is the admin/introspection HTTP listener.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

// New wires the admin API for the runtime. conns may be nil when the node
// runs without a consumer edge.
func New(rt *runtime.Runtime, conns controllers.ConnectionLister) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}

	controllers.NewGeneralController(rt).RegisterRoutes(mux)
	controllers.NewCatalogController(rt).RegisterRoutes(mux)
	controllers.NewConnectionsController(conns).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Metrics().Registry(), promhttp.HandlerOpts{}))
	return s
}

// Handler exposes the routed handler, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
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
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
