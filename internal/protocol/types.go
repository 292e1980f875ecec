// ABOUTME: JSON-RPC 2.0 and MCP wire types for the TCP transport.
// ABOUTME: Newline-delimited JSON framing; requests, responses, notifications.

package protocol

import "encoding/json"

// ProtocolVersion is the MCP protocol version advertised in initialize responses.
const ProtocolVersion = "2025-03-26"

// MaxMessageSize is the maximum allowed size for a single framed message (1MB).
const MaxMessageSize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no ID.
func (r *JSONRPCRequest) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP method names
const (
	MethodInitialize    = "initialize"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodPromptsList   = "prompts/list"
	MethodResourcesList = "resources/list"

	NotificationInitialized     = "notifications/initialized"
	NotificationToolListChanged = "notifications/tools/list_changed"
)

// MCP-specific types

// ClientInfo identifies a connecting client during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams are the params of the initialize request.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      ClientInfo      `json:"clientInfo"`
}

// ServerInfo identifies this server in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of a successful initialize handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// ServerCapabilities advertises the protocol surfaces this server supports.
type ServerCapabilities struct {
	Tools     *ToolsCapability `json:"tools,omitempty"`
	Prompts   *struct{}        `json:"prompts,omitempty"`
	Resources *struct{}        `json:"resources,omitempty"`
}

// ToolsCapability advertises tool support and list-changed notifications.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolInfo represents an MCP tool definition on the wire.
type ToolInfo struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema json.RawMessage  `json:"inputSchema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}

// ToolAnnotations carry behavioral hints for a tool.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint bool   `json:"destructiveHint,omitempty"`
	OpenWorldHint   bool   `json:"openWorldHint,omitempty"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result: inline text or a base64 image
// payload tagged with its media type.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent builds a text content item.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// ImageContent builds a base64 image content item.
func ImageContent(mimeType, base64Data string) Content {
	return Content{Type: "image", MimeType: mimeType, Data: base64Data}
}

// ErrorResult builds a non-fatal tool-call error result with explanatory text.
// The protocol session stays alive; client-side agents read the message text.
func ErrorResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{TextContent(text)},
		IsError: true,
	}
}

// ListPromptsResult is the result for prompts/list. Always empty.
type ListPromptsResult struct {
	Prompts []any `json:"prompts"`
}

// ListResourcesResult is the result for resources/list. Always empty.
type ListResourcesResult struct {
	Resources []any `json:"resources"`
}
