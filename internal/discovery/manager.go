// ABOUTME: Owns the TCP listener and mDNS advertisement, with self-healing restart.
// ABOUTME: Port conflicts and listener failures trigger a delayed restart on a fresh port.

package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"
)

// State describes the listener lifecycle.
type State int

const (
	StateSetup State = iota
	StateWaiting
	StateReady
	StateFailed
	StateCancelled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateWaiting:
		return "waiting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StateChange is delivered to the state callback on every transition.
type StateChange struct {
	State  State
	Reason string // set for StateWaiting
	Err    error  // set for StateFailed
}

// Config holds the listener and advertisement settings.
type Config struct {
	// InstanceName is the mDNS instance name (typically the host name).
	InstanceName string
	// ServiceType is the mDNS service type, e.g. "_mcp._tcp".
	ServiceType string
	// Domain is the mDNS domain, normally "local.".
	Domain string
	// Port is the desired TCP port; 0 picks an ephemeral port.
	Port int
	// RestartDelay is the pause before a restart after waiting/failed.
	RestartDelay time.Duration
	// Advertise controls mDNS registration. Disabled in tests.
	Advertise bool
}

// Manager owns the network listener and its advertisement. All internal
// listener/browser state is serialized behind the manager's own lock;
// connection managers never touch the listener directly.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	mdns     *zeroconf.Server
	state    State
	desired  bool
	port     int // actual bound port

	onState func(StateChange)
	onConn  func(net.Conn)
}

// NewManager creates a listener manager. Start must be called to bind.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "discovery"),
		state:  StateSetup,
	}
}

// Start binds the listener and begins advertisement. Invokes onState for every
// transition and onConn for every accepted local connection. Idempotent while
// already running.
func (m *Manager) Start(onState func(StateChange), onConn func(net.Conn)) {
	m.mu.Lock()
	if m.desired {
		m.mu.Unlock()
		return
	}
	m.desired = true
	m.onState = onState
	m.onConn = onConn
	port := m.cfg.Port
	m.mu.Unlock()

	m.bind(port)
}

// Stop cancels the listener and advertisement. Idempotent. Terminal: the
// manager does not restart itself after Stop; established connections are
// owned elsewhere and are not touched.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.desired && m.state == StateCancelled {
		m.mu.Unlock()
		return
	}
	m.desired = false
	m.teardownLocked()
	m.mu.Unlock()

	m.setState(StateChange{State: StateCancelled})
}

// RestartWithRandomPort tears down the current listener and binds a fresh one
// on an ephemeral port, carrying over the same callbacks. Already-established
// connections are unaffected.
func (m *Manager) RestartWithRandomPort() {
	m.mu.Lock()
	if !m.desired {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.mu.Unlock()

	m.logger.Info("restarting listener on a fresh port")
	m.bind(0)
}

// State returns the current listener state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Port returns the currently bound TCP port, or 0 when not listening.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

// Running reports whether the manager is meant to be accepting connections.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desired
}

// bind creates the listener on the given port and starts the accept loop.
// Bind failures transition to waiting (port conflict) or failed, and schedule
// a delayed restart while the manager is still meant to be running.
func (m *Manager) bind(port int) {
	m.setState(StateChange{State: StateSetup})

	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			m.logger.Warn("listen port in use", "port", port)
			m.setState(StateChange{State: StateWaiting, Reason: "address in use"})
		} else {
			m.logger.Error("listener bind failed", "port", port, "error", err)
			m.setState(StateChange{State: StateFailed, Err: err})
		}
		m.scheduleRestart()
		return
	}

	boundPort := ln.Addr().(*net.TCPAddr).Port

	m.mu.Lock()
	if !m.desired {
		// Stopped while binding
		m.mu.Unlock()
		_ = ln.Close()
		return
	}
	m.listener = ln
	m.port = boundPort
	m.mu.Unlock()

	m.advertise(boundPort)
	m.setState(StateChange{State: StateReady})

	m.logger.Info("listener ready", "port", boundPort)
	go m.acceptLoop(ln)
}

// advertise registers the mDNS service. A registration failure is logged and
// the listener keeps running without advertisement.
func (m *Manager) advertise(port int) {
	if !m.cfg.Advertise {
		return
	}

	server, err := zeroconf.Register(m.cfg.InstanceName, m.cfg.ServiceType, m.cfg.Domain, port, nil, nil)
	if err != nil {
		m.logger.Error("mDNS registration failed, continuing without advertisement", "error", err)
		return
	}

	m.mu.Lock()
	m.mdns = server
	m.mu.Unlock()

	m.logger.Info("advertising service",
		"instance", m.cfg.InstanceName,
		"service", m.cfg.ServiceType,
		"domain", m.cfg.Domain,
		"port", port,
	)
}

// acceptLoop accepts connections until the listener closes. Non-local peers
// are dropped immediately.
func (m *Manager) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			m.mu.Lock()
			current := m.listener
			desired := m.desired
			m.mu.Unlock()

			// A stale loop for a replaced listener just exits.
			if current != ln {
				return
			}
			if !desired {
				return
			}

			m.logger.Warn("accept failed", "error", err)
			m.setState(StateChange{State: StateFailed, Err: err})
			m.scheduleRestart()
			return
		}

		if !isLocalAddr(conn.RemoteAddr()) {
			m.logger.Warn("rejecting non-local connection", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		m.mu.Lock()
		onConn := m.onConn
		m.mu.Unlock()
		if onConn != nil {
			onConn(conn)
		}
	}
}

// scheduleRestart arms a one-shot restart after the configured delay, skipped
// if the manager has been stopped in the meantime.
func (m *Manager) scheduleRestart() {
	time.AfterFunc(m.cfg.RestartDelay, func() {
		m.mu.Lock()
		desired := m.desired
		state := m.state
		m.mu.Unlock()

		if desired && (state == StateWaiting || state == StateFailed) {
			m.RestartWithRandomPort()
		}
	})
}

// teardownLocked closes the listener and advertisement. Caller holds m.mu.
func (m *Manager) teardownLocked() {
	if m.listener != nil {
		_ = m.listener.Close()
		m.listener = nil
	}
	if m.mdns != nil {
		m.mdns.Shutdown()
		m.mdns = nil
	}
	m.port = 0
}

// setState records the transition and invokes the state callback outside the lock.
func (m *Manager) setState(change StateChange) {
	m.mu.Lock()
	m.state = change.State
	onState := m.onState
	m.mu.Unlock()

	m.logger.Debug("listener state", "state", change.State.String(), "reason", change.Reason)
	if onState != nil {
		onState(change)
	}
}

// isLocalAddr reports whether the peer address is on the local network:
// loopback, RFC 1918 private, or link-local.
func isLocalAddr(addr net.Addr) bool {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	ip := tcpAddr.IP
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
