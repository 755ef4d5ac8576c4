// Package httpserver provides the node's admin and introspection API:
// health, the service/topic catalog with optional CEL filtering, live
// consumer connections, and Prometheus metrics.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, wsServer)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":7471")
package httpserver
