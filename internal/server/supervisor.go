// ABOUTME: Supervisor owning the connection table, enablement flags, and listener health.
// ABOUTME: Single mutex serializes all state changes; notifications fan out to live clients.

package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthlink/hearthd/internal/approval"
	"github.com/hearthlink/hearthd/internal/capability"
	"github.com/hearthlink/hearthd/internal/config"
	"github.com/hearthlink/hearthd/internal/discovery"
	"github.com/hearthlink/hearthd/internal/protocol"
)

// Supervisor owns the server's mutable state: the connection table, the
// server-wide enablement flag, and the per-provider bindings. Every mutation
// goes through its mutex; the listener and the individual sessions do their
// blocking work on their own goroutines.
type Supervisor struct {
	cfg       *config.Config
	info      protocol.ServerInfo
	tools     *capability.Set
	approvals *approval.Coordinator
	listener  *discovery.Manager
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	enabled  bool
	bindings capability.Bindings
	conns    map[string]*Connection
	ctx      context.Context
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Supervisor. The server starts enabled; bindings may be nil,
// in which case every provider reads as disabled until UpdateBindings.
func New(cfg *config.Config, info protocol.ServerInfo, tools *capability.Set, approvals *approval.Coordinator, listener *discovery.Manager, bindings capability.Bindings, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:       cfg,
		info:      info,
		tools:     tools,
		approvals: approvals,
		listener:  listener,
		logger:    logger.With("component", "server"),
		enabled:   true,
		bindings:  bindings,
		conns:     make(map[string]*Connection),
	}
}

// Start brings up the listener and the health loop. Idempotent while running.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx
	// Adds happen under the lock so a concurrent Stop cannot pass wg.Wait
	// before the goroutine is tracked.
	s.wg.Add(1)
	s.mu.Unlock()

	s.listener.Start(s.onListenerState, s.onNewConnection)

	go s.healthLoop(ctx)

	s.logger.Info("server started", "name", s.info.Name, "version", s.info.Version)
}

// Stop tears everything down: every connection, the connection table, the
// listener, and the health loop. Idempotent; returns once all supervisor
// goroutines have exited.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	conns := s.snapshotLocked()
	s.conns = make(map[string]*Connection)
	s.mu.Unlock()

	for _, c := range conns {
		c.Stop()
	}
	s.listener.Stop()
	s.wg.Wait()

	s.logger.Info("server stopped")
}

// Enabled reports the server-wide enablement flag.
func (s *Supervisor) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled flips the server-wide flag. A no-op when the value is unchanged;
// otherwise every live client is told the tool list changed. Connections stay
// up while disabled, they just see an empty tool list.
func (s *Supervisor) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.enabled == enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = enabled
	s.mu.Unlock()

	s.logger.Info("server enablement changed", "enabled", enabled)
	s.notifyToolListChanged()
}

// UpdateBindings replaces the per-provider enablement bindings and tells every
// live client the tool list changed.
func (s *Supervisor) UpdateBindings(bindings capability.Bindings) {
	s.mu.Lock()
	s.bindings = bindings
	s.mu.Unlock()

	s.logger.Info("capability bindings updated", "providers", len(bindings))
	s.notifyToolListChanged()
}

// RemoveConnection stops and drops a connection by ID. Safe for unknown IDs
// and for repeated calls.
func (s *Supervisor) RemoveConnection(id string) {
	s.mu.Lock()
	c, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	c.Stop()
	s.logger.Info("connection removed", "conn", id, "client", c.ClientName())
}

// Connections returns a snapshot of the current connection table.
func (s *Supervisor) Connections() []Info {
	s.mu.Lock()
	conns := s.snapshotLocked()
	s.mu.Unlock()

	infos := make([]Info, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Info())
	}
	return infos
}

func (s *Supervisor) snapshotLocked() []*Connection {
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// onListenerState logs listener transitions. Recovery is the listener's own
// job; the supervisor only keeps the periodic health check as a backstop.
func (s *Supervisor) onListenerState(change discovery.StateChange) {
	switch change.State {
	case discovery.StateReady:
		s.logger.Info("listener ready", "port", s.listener.Port())
	case discovery.StateWaiting:
		s.logger.Warn("listener waiting", "reason", change.Reason)
	case discovery.StateFailed:
		s.logger.Error("listener failed", "error", change.Err)
	}
}

// healthLoop periodically verifies the listener is alive and kicks a restart
// if it has wedged in a failed state.
func (s *Supervisor) healthLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Timeouts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.listener.Running() && s.listener.State() == discovery.StateFailed {
				s.logger.Warn("health check found dead listener, restarting")
				s.listener.RestartWithRandomPort()
			}
		}
	}
}

// onNewConnection admits an accepted transport connection into the table and
// runs its lifecycle on a dedicated goroutine.
func (s *Supervisor) onNewConnection(netConn net.Conn) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		_ = netConn.Close()
		return
	}
	ctx := s.ctx

	c := &Connection{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		session:     protocol.NewSession(netConn, s.logger),
		logger:      s.logger,
	}
	s.conns[c.ID] = c
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("connection accepted", "conn", c.ID, "remote", netConn.RemoteAddr())

	go func() {
		defer s.wg.Done()
		defer s.RemoveConnection(c.ID)
		s.runConnection(ctx, c)
	}()
}

// runConnection drives one connection: setup watchdog, handshake with human
// approval, handler registration, then the serve loop until teardown.
func (s *Supervisor) runConnection(ctx context.Context, c *Connection) {
	handshakeDone := make(chan struct{})
	go s.setupWatchdog(c, handshakeDone)

	err := c.session.Handshake(ctx, s.info, func(info protocol.ClientInfo) bool {
		identity := info.Name
		if identity == "" {
			identity = "unknown client"
		}
		c.setClientName(identity)

		approved, err := s.approvals.RequestApproval(ctx, identity)
		if err != nil {
			s.logger.Warn("approval wait aborted", "conn", c.ID, "identity", identity, "error", err)
			return false
		}
		return approved
	})
	close(handshakeDone)

	if err != nil {
		if errors.Is(err, protocol.ErrHandshakeRejected) {
			s.logger.Info("connection denied", "conn", c.ID, "client", c.ClientName())
		} else if !protocol.IsClosedError(err) {
			s.logger.Warn("handshake failed", "conn", c.ID, "error", err)
		}
		return
	}

	c.setReady()
	s.registerHandlers(c)
	s.logger.Info("connection ready",
		"conn", c.ID,
		"client", c.ClientName(),
		"client_version", c.session.ClientInfo().Version,
	)

	s.wg.Add(1)
	go s.monitorConnection(ctx, c)

	if err := c.session.Serve(ctx); err != nil && !protocol.IsClosedError(err) && !errors.Is(err, context.Canceled) {
		s.logger.Warn("session ended with error", "conn", c.ID, "error", err)
	}
}

// monitorConnection polls the session's health and reaps the connection when
// the transport dies. Exits on server shutdown.
func (s *Supervisor) monitorConnection(ctx context.Context, c *Connection) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Timeouts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.session.Done():
			s.RemoveConnection(c.ID)
			return
		case <-ticker.C:
			if !c.session.Alive() {
				s.RemoveConnection(c.ID)
				return
			}
		}
	}
}

// setupWatchdog closes connections whose handshake never completes. The timer
// is suspended while an approval dialog for this connection's identity is up:
// a human deliberating is not a stalled client. Queued requests coalesced
// behind another connection's dialog count as suspended too.
func (s *Supervisor) setupWatchdog(c *Connection, handshakeDone <-chan struct{}) {
	timer := time.NewTimer(s.cfg.Timeouts.Setup)
	defer timer.Stop()

	for {
		select {
		case <-handshakeDone:
			return
		case <-c.session.Done():
			return
		case <-timer.C:
			if s.approvals.IsActive(c.ClientName()) {
				timer.Reset(s.cfg.Timeouts.Setup)
				continue
			}
			s.logger.Warn("setup timed out, closing connection", "conn", c.ID)
			c.Stop()
			return
		}
	}
}

// capabilityEnabled is the enablement filter handed to the capability set.
// A provider with no binding reads as disabled.
func (s *Supervisor) capabilityEnabled(id string) bool {
	s.mu.Lock()
	b, ok := s.bindings[id]
	s.mu.Unlock()
	return ok && b.Enabled()
}

// registerHandlers installs the protocol method handlers on a connection that
// has completed its handshake.
func (s *Supervisor) registerHandlers(c *Connection) {
	c.session.RegisterHandler(protocol.MethodToolsList, s.handleToolsList)
	c.session.RegisterHandler(protocol.MethodToolsCall, s.handleToolsCall)
	c.session.RegisterHandler(protocol.MethodPromptsList, func(context.Context, json.RawMessage) (any, *protocol.JSONRPCError) {
		return protocol.ListPromptsResult{Prompts: []any{}}, nil
	})
	c.session.RegisterHandler(protocol.MethodResourcesList, func(context.Context, json.RawMessage) (any, *protocol.JSONRPCError) {
		return protocol.ListResourcesResult{Resources: []any{}}, nil
	})
}

// handleToolsList returns the currently visible tools: empty while the server
// is disabled, otherwise the enabled providers' tools in registration order.
func (s *Supervisor) handleToolsList(context.Context, json.RawMessage) (any, *protocol.JSONRPCError) {
	tools := []protocol.ToolInfo{}
	if s.Enabled() {
		for _, d := range s.tools.ListTools(s.capabilityEnabled) {
			tools = append(tools, toolInfo(d))
		}
	}
	return protocol.ListToolsResult{Tools: tools}, nil
}

// handleToolsCall dispatches a tool invocation. Tool-level failures come back
// as isError results so the client's agent can read them; only malformed
// params are protocol errors.
func (s *Supervisor) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *protocol.JSONRPCError) {
	var p protocol.CallToolParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, &protocol.JSONRPCError{Code: protocol.JSONRPCInvalidParams, Message: "invalid tool call params"}
	}

	if !s.Enabled() {
		return protocol.ErrorResult("server is disabled"), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Dispatch)
	defer cancel()

	result, err := s.tools.Dispatch(callCtx, p.Name, p.Arguments, s.capabilityEnabled)
	switch {
	case errors.Is(err, capability.ErrToolNotFound):
		return protocol.ErrorResult(fmt.Sprintf("tool not found: %s", p.Name)), nil
	case err != nil:
		return protocol.ErrorResult(fmt.Sprintf("tool %s failed: %v", p.Name, err)), nil
	}

	if result.IsBinary() {
		encoded := base64.StdEncoding.EncodeToString(result.Data)
		return &protocol.CallToolResult{
			Content: []protocol.Content{protocol.ImageContent(result.MIMEType, encoded)},
		}, nil
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{protocol.TextContent(result.Text)},
	}, nil
}

// notifyToolListChanged pushes the list-changed notification to every ready
// connection, one tracked goroutine per connection. Dead peers discovered by
// the push are reaped. A no-op once the supervisor has stopped.
func (s *Supervisor) notifyToolListChanged() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	var ready []*Connection
	for _, c := range s.conns {
		if c.Ready() {
			ready = append(ready, c)
		}
	}
	s.wg.Add(len(ready))
	s.mu.Unlock()

	for _, c := range ready {
		conn := c
		go func() {
			defer s.wg.Done()
			if err := conn.NotifyToolListChanged(); err != nil {
				if protocol.IsClosedError(err) {
					s.RemoveConnection(conn.ID)
					return
				}
				s.logger.Warn("tool list notification failed", "conn", conn.ID, "error", err)
			}
		}()
	}
}

// toolInfo converts an internal tool descriptor into its wire form.
func toolInfo(d capability.ToolDescriptor) protocol.ToolInfo {
	info := protocol.ToolInfo{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema,
	}
	if d.Annotations != (capability.Annotations{}) {
		info.Annotations = &protocol.ToolAnnotations{
			Title:           d.Annotations.Title,
			ReadOnlyHint:    d.Annotations.ReadOnlyHint,
			DestructiveHint: d.Annotations.DestructiveHint,
			OpenWorldHint:   d.Annotations.OpenWorldHint,
		}
	}
	return info
}
