// Package protocol implements the JSON-RPC 2.0 session layer for the MCP
// TCP transport.
//
// # Framing
//
// Messages are newline-delimited JSON, at most MaxMessageSize bytes each.
//
// # Lifecycle
//
// A Session is created around an accepted connection. Handshake consumes
// messages until the client's initialize request arrives, suspends on the
// approval callback, and either completes the negotiation or fails with
// ErrHandshakeRejected. Only after a successful handshake does the owner
// register method handlers and call Serve; tool traffic is unreachable before
// then.
//
// # Concurrency
//
// Reads happen on the single goroutine running Handshake/Serve. Writes are
// mutex-serialized so Notify can push notifications from other goroutines.
// Close unblocks a pending read by closing the transport and is idempotent.
package protocol
