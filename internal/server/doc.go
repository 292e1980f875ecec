// Package server supervises client connections and serves the MCP methods.
//
// The Supervisor owns all mutable server state behind one mutex: the
// connection table, the server-wide enablement flag, and the per-provider
// enablement bindings. Accepted connections run their lifecycle on dedicated
// goroutines: a setup watchdog bounds the handshake (suspended while a human
// approval dialog is up), the handshake gates on the approval coordinator,
// and only then are the tool handlers registered and the serve loop started.
//
// Enablement changes fan a tools/list_changed notification out to every ready
// client; a push that fails with a closed-peer error reaps the connection.
// While the server is disabled, connections stay up but see an empty tool
// list, and calls return an explicit "server is disabled" result, distinct
// from an unknown tool.
package server
