// Package dialect implements the binary subscription protocol spoken on
// consumer connections and on the intra-cluster stream link.
//
// # Framing
//
// A frame is a concatenation of length-prefixed records. Each record starts
// with a big-endian uint32 body length; the body starts with a one-byte kind
// tag followed by kind-specific fields. DecodeAll consumes records
// iteratively until the frame is exhausted and returns the messages in
// arrival order. Any malformed record fails the whole frame — the caller is
// expected to terminate the connection.
//
// # Directionality
//
// Consumer-to-server records: Alias, OpenSubscription, CloseSubscription,
// ResetSubscription, Signal, Ping/Pong. Server-to-consumer records:
// StreamStateUpdate, StreamStateTransitionUpdate, SubscriptionClosed,
// ServiceNotAvailable, InvalidRequest, SignalAckOk/Failed, Ping/Pong.
//
// Records with tags at 0x20 and above never cross a consumer connection:
// they ride the node-to-node stream link (see nodelink.go) and are keyed by
// full subjects rather than aliases.
package dialect
