// Package streamstate defines the typed payloads carried by topic streams
// and the delta algebra used to update them.
//
// A State is one of four variants: StringState, SetState, ListState, or
// DictMapState. A Transition is the wire-level delta for one variant; it
// knows whether it applies to a given current state (ApplicableTo) and how
// to produce the next state (Apply). Mismatched state/transition pairs are
// simply inapplicable, which callers surface as a reset request rather than
// an error.
//
// Apply never mutates the current state; returned states own their element
// maps and slices. Both the producing endpoint and the consuming client fold
// the same transition sequence, so Apply must stay deterministic.
package streamstate
