package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zhongdj/reactiveservices/internal/aggregator"
	cfgpkg "github.com/zhongdj/reactiveservices/internal/config"
	"github.com/zhongdj/reactiveservices/internal/runtime"
	httpserver "github.com/zhongdj/reactiveservices/internal/server/http"
	"github.com/zhongdj/reactiveservices/internal/server/ws"
	"github.com/zhongdj/reactiveservices/internal/service"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// Options configure a node start.
type Options struct {
	Config cfgpkg.Config

	// Register lets an embedding application install its producing
	// services before the node advertises. Optional.
	Register func(*service.Registry) error
}

// Run starts the node and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so direct callers
	// get SIGTERM handling too.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	logger := buildLogger(cfg)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	if opts.Register != nil {
		if err := opts.Register(rt.Registry()); err != nil {
			return err
		}
	}
	if err := rt.AdvertiseLocal(sctx); err != nil {
		return err
	}

	m := rt.Metrics()
	wsServer := ws.New(ws.Options{
		Path:                 cfg.WSPath,
		WriteBuffer:          cfg.WriteBuffer,
		PingInterval:         time.Duration(cfg.PingIntervalMs) * time.Millisecond,
		SignalRate:           rate.Limit(cfg.SignalRatePerSec),
		SignalBurst:          cfg.SignalBurst,
		Binding:              rt.Binding(),
		Network:              rt,
		Logger:               logger,
		OnConnect:            m.ConnectionOpened,
		OnDisconnect:         m.ConnectionClosed,
		OnSignal:             m.SignalAccepted,
		NewAggregatorMetrics: func() aggregator.MetricsHook { return m.ForAggregator() },
	})

	adminServer := httpserver.New(rt, wsServer)

	logger.Info("starting node",
		logpkg.Str("node", rt.NodeID()),
		logpkg.Str("ws", cfg.WSAddr+cfg.WSPath),
		logpkg.Str("http", cfg.HTTPAddr))

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return wsServer.ListenAndServe(gctx, cfg.WSAddr) })
	g.Go(func() error { return adminServer.ListenAndServe(gctx, cfg.HTTPAddr) })
	return g.Wait()
}

func buildLogger(cfg cfgpkg.Config) logpkg.Logger {
	level, err := logpkg.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logpkg.InfoLevel
	}
	format, err := logpkg.ParseFormat(cfg.LogFormat)
	if err != nil {
		format = logpkg.FormatText
	}
	return logpkg.NewLogger(logpkg.WithLevel(level), logpkg.WithFormat(format))
}
