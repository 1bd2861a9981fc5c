// Package protocol owns the wire contract for the host channel.
//
// Ownership boundary:
// - envelope shape and JSON codec
// - action-name classification
// - origin/protocol tag filtering
package protocol
