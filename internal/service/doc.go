// Package service provides the in-process producer surface: a per-node
// registry of logical services, each publishing typed topic streams that
// the endpoint hub forwards to remote consumers.
//
// Producers register a service, obtain typed topic handles (string, set,
// list, dict-map) and publish through them; every publish folds the
// transition into the topic's current state so a late subscriber or a reset
// always has a consistent snapshot to start from. Topics never retain
// update history — only the current state survives, optionally persisted
// through a state cache so a restarted node can serve first-attach
// snapshots.
package service
