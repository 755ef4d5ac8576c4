// Package cluster carries the node-to-node stream link over NATS core
// subjects, using the dialect's node-link records as payloads.
//
// Topology: every producing node runs a Server subscribed to
// "rs.node.<nodeID>.endpoint.>"; the last token names the service, so an
// endpoint ref stays scoped to one (node, service) pair. Every consumer
// session runs a Listener on its own "rs.consumer.<consumerID>" subject,
// which producing nodes use as the reply address for snapshots,
// transitions, closes, and signal acks.
//
// The link is intentionally fire-and-forget: ordering per subject comes
// from NATS per-publisher ordering, and loss shows up as a missing update
// that the next snapshot or reset repairs — the same lossy-between-
// subscriptions model the consumer protocol already has.
package cluster
