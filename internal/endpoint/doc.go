// Package endpoint implements the producer-side stream hub: the per-node
// unit that accepts open/close requests from consumer aggregators,
// subscribes to in-process service topics, and forwards snapshots and
// transitions under the upstream demand contract.
//
// The hub is a mailbox unit like the aggregator: one goroutine owns all
// link state, and every public method only enqueues. Per consumer link the
// hub tracks granted demand tokens and never sends beyond them; while a
// link is out of tokens, updates coalesce per subject (latest wins), which
// is lossless in the snapshot sense because a newer update supersedes the
// buffered one.
package endpoint
