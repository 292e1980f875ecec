// Package discovery owns the TCP listener and its mDNS advertisement.
//
// The manager runs a small lifecycle: setup while binding, waiting when the
// requested port is taken, ready once accepting, failed on listener errors,
// and cancelled after Stop. From waiting or failed it self-heals: after a
// short delay it rebinds on a fresh ephemeral port, keeping the same
// callbacks. Established connections are owned by the server layer and
// survive listener restarts.
//
// Accepted connections are filtered to local peers (loopback, RFC 1918,
// link-local); anything else is closed before it reaches the server.
package discovery
