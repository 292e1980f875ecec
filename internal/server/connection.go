// ABOUTME: Per-client connection state: session, identity, setup watchdog flags.
// ABOUTME: Connections are owned by the supervisor and removed on teardown.

package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hearthlink/hearthd/internal/protocol"
)

// Connection tracks one client session from accept to teardown.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	session *protocol.Session
	logger  *slog.Logger

	mu         sync.Mutex
	clientName string
	ready      bool

	stopOnce sync.Once
}

// ClientName returns the name the client presented, or "" before the handshake.
func (c *Connection) ClientName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientName
}

// Ready reports whether the handshake completed and tool traffic is flowing.
func (c *Connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Connection) setClientName(name string) {
	c.mu.Lock()
	c.clientName = name
	c.mu.Unlock()
}

func (c *Connection) setReady() {
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
}

// NotifyToolListChanged pushes a list-changed notification. Returns the write
// error so the supervisor can reap dead peers.
func (c *Connection) NotifyToolListChanged() error {
	return c.session.Notify(protocol.NotificationToolListChanged, nil)
}

// Stop tears the connection down. Idempotent; the read loop exits once the
// transport closes.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		if err := c.session.Close(); err != nil && !protocol.IsClosedError(err) {
			c.logger.Warn("closing connection", "conn", c.ID, "error", err)
		}
	})
}

// Info is a point-in-time snapshot of a connection for status reporting.
type Info struct {
	ID          string
	ClientName  string
	Ready       bool
	ConnectedAt time.Time
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:          c.ID,
		ClientName:  c.clientName,
		Ready:       c.ready,
		ConnectedAt: c.ConnectedAt,
	}
}
