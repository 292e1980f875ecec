// ABOUTME: Capability provider contract: tool descriptors, dispatch results, activation.
// ABOUTME: Providers expose one host capability domain each (reminders, notes, utilities).

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnknownTool is returned by a Provider's Call when the tool name is not one
// of its own. The dispatcher treats it as "probe the next provider" and never
// conflates it with a tool that was recognized but failed.
var ErrUnknownTool = errors.New("unknown tool")

// ErrToolNotFound is returned by Set.Dispatch when no enabled provider
// recognizes the tool name.
var ErrToolNotFound = errors.New("tool not found or service not enabled")

// Provider exposes one host capability domain as a set of remotely invocable tools.
//
// Implementations are constructed once at process start and live for the
// process lifetime. The enabled flag is owned externally (see Binding); a
// provider itself only reports OS-level activation state.
type Provider interface {
	// ID returns the stable identity of this provider, derived from its type.
	ID() string

	// Tools returns the provider's tool descriptors in declaration order.
	Tools() []ToolDescriptor

	// IsActivated reports whether OS-level authorization has been granted.
	// Queried lazily; results are not cached indefinitely.
	IsActivated(ctx context.Context) bool

	// Activate triggers the OS-level permission request if one is needed.
	Activate(ctx context.Context) error

	// Call dispatches a tool by exact name. Returns ErrUnknownTool when the
	// name is not one of this provider's tools, any other error when the tool
	// was recognized but failed, and a non-nil Result on success.
	Call(ctx context.Context, tool string, args map[string]any) (*Result, error)
}

// ToolDescriptor describes one remotely invocable tool. Immutable once constructed.
// Names are unique within a provider but not guaranteed globally unique; the
// first registered provider wins on dispatch.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Annotations Annotations
}

// Annotations carry behavioral hints for a tool.
type Annotations struct {
	Title           string
	ReadOnlyHint    bool
	DestructiveHint bool
	OpenWorldHint   bool
}

// Result is the outcome of a successful tool call: either a structured-text
// payload or a binary payload tagged with its media type.
type Result struct {
	Text     string
	MIMEType string
	Data     []byte
}

// IsBinary reports whether the result carries a binary payload.
func (r *Result) IsBinary() bool {
	return r.MIMEType != ""
}

// TextResult serializes a structured value into a text Result. encoding/json
// sorts map keys, so output ordering is deterministic for the same value.
func TextResult(v any) (*Result, error) {
	switch s := v.(type) {
	case string:
		return &Result{Text: s}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Result{Text: string(b)}, nil
}

// BinaryResult wraps binary data and its media type (e.g. "image/png").
func BinaryResult(mimeType string, data []byte) *Result {
	return &Result{MIMEType: mimeType, Data: data}
}

// Timestamp renders a time in the fixed wire timezone (UTC, RFC 3339).
// All timestamps embedded in tool results go through this so output does not
// depend on the host timezone.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
