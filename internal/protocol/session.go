// ABOUTME: JSON-RPC session over a raw transport connection.
// ABOUTME: Handshake with approval suspension, handler dispatch, notification push.

package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
)

// ErrHandshakeRejected indicates the human denied the connection (or no
// approval handler was configured). The client observes a closed connection.
var ErrHandshakeRejected = errors.New("handshake rejected")

// ErrSessionClosed indicates an operation on a session whose transport has closed.
var ErrSessionClosed = errors.New("session closed")

// Handler processes one JSON-RPC request and returns either a result or an error.
type Handler func(ctx context.Context, params json.RawMessage) (any, *JSONRPCError)

// Session drives one client's JSON-RPC exchange over a transport connection.
// Messages are newline-delimited JSON. The read side runs on a single
// goroutine (Handshake, then Serve); writes are serialized by a mutex so
// notifications can be pushed from other goroutines.
type Session struct {
	conn   net.Conn
	reader *bufio.Scanner
	logger *slog.Logger

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	closeOnce sync.Once
	closed    chan struct{}

	clientInfo ClientInfo
}

// NewSession wraps a transport connection in a protocol session.
func NewSession(conn net.Conn, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)

	return &Session{
		conn:     conn,
		reader:   scanner,
		logger:   logger.With("component", "protocol"),
		handlers: make(map[string]Handler),
		closed:   make(chan struct{}),
	}
}

// ClientInfo returns the identity the client presented during the handshake.
// Empty until Handshake completes.
func (s *Session) ClientInfo() ClientInfo {
	return s.clientInfo
}

// RegisterHandler installs a request handler for a method. Handlers installed
// after the handshake are the only way tool traffic becomes reachable.
func (s *Session) RegisterHandler(method string, h Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers[method] = h
}

// Handshake reads messages until the client's initialize request arrives, then
// suspends on the approve callback. No protocol traffic proceeds during the
// suspension. On approval it responds with the server's capabilities; on denial
// it fails with ErrHandshakeRejected and the caller tears the connection down.
func (s *Session) Handshake(ctx context.Context, info ServerInfo, approve func(ClientInfo) bool) error {
	for {
		req, err := s.read(ctx)
		if err != nil {
			return err
		}

		if req.IsNotification() {
			s.logger.Debug("ignoring notification before initialize", "method", req.Method)
			continue
		}

		if req.Method != MethodInitialize {
			// Requests before initialize are refused; keep waiting.
			s.respondError(req.ID, JSONRPCInvalidRequest, "server not initialized", nil)
			continue
		}

		var params InitializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				s.respondError(req.ID, JSONRPCInvalidParams, "invalid initialize params", nil)
				return fmt.Errorf("parsing initialize params: %w", err)
			}
		}
		s.clientInfo = params.ClientInfo

		if approve == nil || !approve(params.ClientInfo) {
			s.respondError(req.ID, JSONRPCInvalidRequest, "connection not approved", nil)
			return ErrHandshakeRejected
		}

		result := InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: ServerCapabilities{
				Tools:     &ToolsCapability{ListChanged: true},
				Prompts:   &struct{}{},
				Resources: &struct{}{},
			},
			ServerInfo: info,
		}
		if err := s.respond(req.ID, result); err != nil {
			return err
		}

		s.logger.Info("handshake complete",
			"client", params.ClientInfo.Name,
			"client_version", params.ClientInfo.Version,
		)
		return nil
	}
}

// Serve runs the read loop, dispatching registered handlers until the context
// is cancelled or the transport closes. Notifications are accepted and dropped.
func (s *Session) Serve(ctx context.Context) error {
	for {
		req, err := s.read(ctx)
		if err != nil {
			return err
		}

		if req.IsNotification() {
			s.logger.Debug("notification received", "method", req.Method)
			continue
		}

		s.handlerMu.RLock()
		handler, ok := s.handlers[req.Method]
		s.handlerMu.RUnlock()

		if !ok {
			s.respondError(req.ID, JSONRPCMethodNotFound, "method not found", nil)
			continue
		}

		result, rpcErr := handler(ctx, req.Params)
		if rpcErr != nil {
			s.respondError(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			continue
		}
		if err := s.respond(req.ID, result); err != nil {
			return err
		}
	}
}

// Notify pushes a server-to-client notification. Best effort: a closed-peer
// failure is reported to the caller for connection cleanup.
func (s *Session) Notify(method string, params any) error {
	msg := struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
	return s.write(msg)
}

// Close terminates the session and closes the transport. Idempotent, and safe
// on a session that never completed its handshake.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Alive reports whether the session transport is still open.
func (s *Session) Alive() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// read pulls the next well-formed request off the wire. Malformed JSON gets a
// parse-error response and the read continues; transport errors surface to the
// caller as session-fatal.
func (s *Session) read(ctx context.Context) (*JSONRPCRequest, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !s.reader.Scan() {
			if err := s.reader.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}

		line := s.reader.Bytes()
		if len(line) == 0 {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.respondError(nil, JSONRPCParseError, "invalid JSON", nil)
			continue
		}
		if req.JSONRPC != "2.0" {
			s.respondError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
			continue
		}
		return &req, nil
	}
}

// respond sends a successful JSON-RPC response.
func (s *Session) respond(id json.RawMessage, result any) error {
	return s.write(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// respondError sends a JSON-RPC error response. Write failures are logged and
// dropped; the read loop notices a dead transport on its next read.
func (s *Session) respondError(id json.RawMessage, code int, message string, data any) {
	err := s.write(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
	if err != nil {
		s.logger.Warn("failed to send error response", "error", err)
	}
}

// write marshals a message and appends the newline frame delimiter.
func (s *Session) write(msg any) error {
	if !s.Alive() {
		return ErrSessionClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(data); err != nil {
		return err
	}
	return nil
}

// IsClosedError classifies transport errors that mean the peer is gone.
// Notify failures in this class trigger connection removal rather than being
// treated as fatal server errors.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
