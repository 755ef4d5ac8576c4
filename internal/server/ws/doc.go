// Package ws implements the consumer-facing WebSocket edge: it upgrades
// connections, speaks the binary dialect over binary frames, and bridges
// each connection to its own stream aggregator.
//
// # Demand coupling
//
// The per-connection outbound queue doubles as the consumer demand window:
// the session grants the aggregator one demand token per free queue slot
// and one more each time the writer drains a frame. The aggregator never
// emits beyond granted demand, so the queue cannot overflow and a slow
// reader backpressures all the way into the dispatch core.
//
// # Protocol policing
//
// Text frames and undecodable records are protocol errors and terminate
// the connection. Aliases are client-issued, positive, and never reused;
// violations also terminate the connection. Liveness pings ride the
// dialect's Ping/Pong records, not WebSocket control frames, so they
// traverse the same codec path as everything else.
package ws
