// Package aggregator implements the per-consumer stream aggregator: the
// single-threaded unit that multiplexes subscriptions, enforces
// demand-driven backpressure toward the consumer, coalesces updates per
// subscription, and round-robins dispatch across priority groups.
//
// # Execution model
//
// An Aggregator is a mailbox plus a handler goroutine. Public methods only
// enqueue; all state lives inside the run loop and is never touched from
// outside, so there is no lock-based shared state. The loop wakes on
// mailbox messages and on a 200 ms tick that acts as a liveness net for
// aggregation-interval expiry.
//
// # Demand
//
// Downstream demand arrives as integer tokens from the consumer boundary
// (the connection's writer). Every event handed to the Sink debits exactly
// one token. Upstream, the aggregator grants each bound endpoint a window of
// tokens sized to the number of open subjects and re-grants one token per
// received update, so an endpoint never has more updates in flight than the
// aggregator can coalesce.
package aggregator
