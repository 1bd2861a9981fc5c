// Package channel owns the broadcast channel the bridge and host share.
//
// Ownership boundary:
// - subscribe/post primitives with broadcast (postMessage) semantics
// - in-process loopback implementation
// - websocket transport for the standalone daemon
//
// The channel carries raw payloads only; origin checking and envelope
// filtering belong to the protocol layer.
package channel
