package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/zhongdj/reactiveservices/internal/aggregator"
	"github.com/zhongdj/reactiveservices/internal/cluster"
	cfgpkg "github.com/zhongdj/reactiveservices/internal/config"
	"github.com/zhongdj/reactiveservices/internal/endpoint"
	"github.com/zhongdj/reactiveservices/internal/location"
	"github.com/zhongdj/reactiveservices/internal/metrics"
	"github.com/zhongdj/reactiveservices/internal/service"
	"github.com/zhongdj/reactiveservices/internal/statecache"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
}

// Runtime wires registry, hub, state cache, location binding, and cluster
// link for a single node.
type Runtime struct {
	cfg    cfgpkg.Config
	log    logpkg.Logger
	nodeID string

	registry *service.Registry
	hub      *endpoint.Hub
	cache    *statecache.Cache
	nc       *nats.Conn
	binding  location.Binding
	srv      *cluster.Server
	metrics  *metrics.Metrics

	cancel context.CancelFunc
}

// Open initializes the node's components and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	cfg := opts.Config
	r := &Runtime{
		cfg:     cfg,
		log:     opts.Logger.With(logpkg.Component("runtime")),
		nodeID:  cfg.EffectiveNodeID(),
		metrics: metrics.New(),
	}

	if dir := cfg.StateCacheDirResolved(); dir != "" {
		cache, err := statecache.Open(dir)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}

	var regOpts []service.RegistryOption
	if r.cache != nil {
		regOpts = append(regOpts, service.WithStateCache(r.cache))
	}
	r.registry = service.NewRegistry(opts.Logger, regOpts...)

	r.hub = endpoint.New(endpoint.Options{NodeID: r.nodeID, Registry: r.registry, Logger: opts.Logger})
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.hub.Run(ctx)

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("reactiveservices-"+r.nodeID))
		if err != nil {
			r.closePartial()
			return nil, fmt.Errorf("runtime: nats connect: %w", err)
		}
		r.nc = nc
		binding, err := location.OpenKV(ctx, nc, cfg.LocationBucket, opts.Logger)
		if err != nil {
			r.closePartial()
			return nil, err
		}
		r.binding = binding
		r.srv = cluster.NewServer(nc, r.hub, opts.Logger)
		if err := r.srv.Start(); err != nil {
			r.closePartial()
			return nil, err
		}
	} else {
		r.binding = location.NewStatic()
	}

	r.log.Info("node runtime started",
		logpkg.Str("node", r.nodeID),
		logpkg.Bool("clustered", r.nc != nil),
		logpkg.Bool("state_cache", r.cache != nil))
	return r, nil
}

// NodeID returns this node's cluster identity.
func (r *Runtime) NodeID() string { return r.nodeID }

// Registry returns the node's service registry.
func (r *Runtime) Registry() *service.Registry { return r.registry }

// Hub returns the node's endpoint hub.
func (r *Runtime) Hub() *endpoint.Hub { return r.hub }

// Binding returns the node's location binding.
func (r *Runtime) Binding() location.Binding { return r.binding }

// Metrics returns the node's collectors.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// AdvertiseLocal publishes every registered service as hosted here.
func (r *Runtime) AdvertiseLocal(ctx context.Context) error {
	for _, key := range r.registry.Keys() {
		if err := r.binding.Advertise(ctx, location.Endpoint{Service: key, NodeID: r.nodeID}); err != nil {
			return err
		}
	}
	return nil
}

// CheckHealth performs a simple liveness check.
func (r *Runtime) CheckHealth(context.Context) error {
	if r.nc != nil && !r.nc.IsConnected() {
		return errors.New("runtime: nats disconnected")
	}
	return nil
}

// Close shuts the node's components down.
func (r *Runtime) Close() error {
	if r.srv != nil {
		_ = r.srv.Stop()
	}
	if r.binding != nil {
		_ = r.binding.Close()
	}
	r.closePartial()
	return nil
}

func (r *Runtime) closePartial() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.hub != nil {
		r.hub.Stop()
	}
	if r.nc != nil {
		r.nc.Close()
	}
	if r.cache != nil {
		_ = r.cache.Close()
	}
}

// --- consumer edge network ------------------------------------------------

// NewRef builds the endpoint ref for an advertised location: a direct hub
// ref when the service is local, a cluster ref otherwise.
func (r *Runtime) NewRef(consumerID string, ep location.Endpoint, events cluster.EventHandler) aggregator.EndpointRef {
	if ep.NodeID == r.nodeID {
		return endpoint.NewLocalRef(r.hub, ep.Service, &consumerAdapter{id: consumerID, h: events})
	}
	if r.nc == nil {
		r.log.Warn("remote location on standalone node ignored",
			logpkg.Str("service", ep.Service), logpkg.Str("node", ep.NodeID))
		return nil
	}
	return cluster.NewRemoteRef(r.nc, ep.NodeID, ep.Service, consumerID, r.log)
}

// StartListener subscribes the consumer's cluster event address; a no-op on
// standalone nodes, where every ref is local.
func (r *Runtime) StartListener(consumerID string, events cluster.EventHandler) (func(), error) {
	if r.nc == nil {
		return func() {}, nil
	}
	l := cluster.NewListener(r.nc, consumerID, events, r.log)
	if err := l.Start(); err != nil {
		return nil, err
	}
	return func() { _ = l.Stop() }, nil
}

// consumerAdapter lets a local hub deliver straight into an aggregator.
type consumerAdapter struct {
	id string
	h  cluster.EventHandler
}

var _ endpoint.Consumer = (*consumerAdapter)(nil)

func (c *consumerAdapter) ID() string { return c.id }

func (c *consumerAdapter) Snapshot(subj subject.Subject, s streamstate.State) {
	c.h.OnSnapshot(subj, s)
}

func (c *consumerAdapter) Transition(subj subject.Subject, t streamstate.Transition) {
	c.h.OnTransition(subj, t)
}

func (c *consumerAdapter) StreamClosed(subj subject.Subject) { c.h.OnStreamClosed(subj) }

func (c *consumerAdapter) Invalid(subj subject.Subject) { c.h.OnInvalid(subj) }

func (c *consumerAdapter) SignalAck(ok bool, correlationID string, payload []byte) {
	c.h.OnSignalAck(ok, correlationID, payload)
}
