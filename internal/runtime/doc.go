// Package runtime wires one node's components — service registry, endpoint
// hub, state cache, location binding, cluster link, metrics — into a single
// instance behind Open/Close. It also implements the consumer edge's
// EndpointNetwork contract: per advertised location it hands out a local
// hub ref or a NATS-backed remote ref, transparently, so an aggregator
// never knows whether its producer is in-process or elsewhere.
//
// A node with no NATS URL runs standalone: locations live in an in-process
// table and every service is local.
package runtime
