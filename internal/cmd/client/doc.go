// Package client provides the `reactive` command-line client.
//
// The CLI talks to a node's WebSocket edge (binary dialect) for
// subscriptions and signals, and to the admin HTTP API for the catalog. It
// is primarily intended for developers and operators.
//
// # Address configuration
//
// The WebSocket URL is read from the RS_WS_URL environment variable
// (default ws://127.0.0.1:7470/stream). The admin API base is read from
// RS_HTTP (default http://127.0.0.1:7471). Neither address has a
// command-line flag.
//
// Usage
//
//	reactive subscribe --service telemetry --topic status
//	reactive subscribe --service telemetry --topic status \
//	    --tag zone=eu --priority A --aggregation-ms 250
//
//	reactive signal --service telemetry --topic commands \
//	    --payload '{"op":"restart"}' --expiry-ms 5000 --await
//
//	reactive catalog --filter 'service == "telemetry" && tags["zone"] == "eu"'
//
// Notes
//
//   - subscribe prints one JSON line per update: the full snapshot or the
//     reconstructed state after each delta.
//   - signal with --await blocks for the correlated ack; without it the
//     signal is fire-and-forget.
package client
