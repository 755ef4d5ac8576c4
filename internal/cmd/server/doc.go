// Package serverrun exposes a shared Run entrypoint used by the CLI to
// start a node: the runtime (registry, hub, location binding, cluster
// link), the consumer-facing WebSocket edge, and the admin HTTP API, with
// lifecycle and shutdown handling.
//
// Example:
//
//	cfg := config.Default()
//	config.FromEnv(&cfg)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
