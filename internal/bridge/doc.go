// Package bridge owns the message-correlation and request-lifecycle
// engine between the extension and its host page.
//
// Ownership boundary:
// - pending-request table (correlation tokens, tombstones)
// - session start/stop state machine and host-provided configuration
// - inbound request dispatch and reply emission
// - outbound request facade
//
// Rendering, credential lookup, and remote directory access are
// collaborators reached through narrow interfaces; the bridge never
// performs them itself.
package bridge
