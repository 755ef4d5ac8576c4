// Package location resolves service keys to the cluster nodes currently
// hosting them and notifies watchers when a binding changes.
//
// The aggregator treats the binding as authoritative: it neither retries
// nor second-guesses, it just rebinds on every change. Two implementations
// exist: Static, an in-memory table for tests and single-node deployments,
// and KV, backed by a NATS JetStream key-value bucket that every node of
// the cluster watches. Discovery bootstrap (seed lists, regions) stays
// outside this package; whoever writes the bucket decides placement.
package location
