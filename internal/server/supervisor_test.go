// ABOUTME: End-to-end supervisor tests over real loopback TCP connections.
// ABOUTME: Covers approval gating, enablement visibility, notifications, teardown.

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthlink/hearthd/internal/approval"
	"github.com/hearthlink/hearthd/internal/capability"
	"github.com/hearthlink/hearthd/internal/config"
	"github.com/hearthlink/hearthd/internal/discovery"
	"github.com/hearthlink/hearthd/internal/protocol"
)

// fakeProvider serves static tools under a fixed identity and counts every
// dispatch probe it receives.
type fakeProvider struct {
	id    string
	tools []string
	fail  bool
	image []byte

	calls atomic.Int64
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Tools() []capability.ToolDescriptor {
	out := make([]capability.ToolDescriptor, len(f.tools))
	for i, name := range f.tools {
		out[i] = capability.ToolDescriptor{
			Name:        name,
			Description: "test tool " + name,
			InputSchema: json.RawMessage(`{"type":"object"}`),
		}
	}
	return out
}

func (f *fakeProvider) IsActivated(context.Context) bool { return true }
func (f *fakeProvider) Activate(context.Context) error   { return nil }

func (f *fakeProvider) Call(_ context.Context, tool string, _ map[string]any) (*capability.Result, error) {
	f.calls.Add(1)
	for _, name := range f.tools {
		if name == tool {
			if f.fail {
				return nil, fmt.Errorf("provider broke")
			}
			if f.image != nil {
				return capability.BinaryResult("image/png", f.image), nil
			}
			return capability.TextResult("ran " + tool)
		}
	}
	return nil, capability.ErrUnknownTool
}

// gatedPrompter blocks every prompt until a token is sent on release.
type gatedPrompter struct {
	decision  bool
	release   chan struct{}
	presented chan string
}

func newGatedPrompter(decision bool) *gatedPrompter {
	return &gatedPrompter{
		decision:  decision,
		release:   make(chan struct{}),
		presented: make(chan string, 8),
	}
}

func (p *gatedPrompter) Prompt(identity string) bool {
	p.presented <- identity
	<-p.release
	return p.decision
}

// pngMagic is the PNG file signature.
var pngMagic = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

type testEnv struct {
	sup       *Supervisor
	port      int
	providers map[string]*fakeProvider
}

// totalCalls sums dispatch probes across every fake provider.
func (e *testEnv) totalCalls() int64 {
	var n int64
	for _, p := range e.providers {
		n += p.calls.Load()
	}
	return n
}

// newTestEnv starts a full supervisor on an ephemeral loopback port.
func newTestEnv(t *testing.T, prompter approval.Prompter, setupTimeout time.Duration) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Timeouts.Setup = setupTimeout
	cfg.Timeouts.HealthInterval = 50 * time.Millisecond
	cfg.Timeouts.RestartDelay = 50 * time.Millisecond

	listener := discovery.NewManager(discovery.Config{
		InstanceName: "test",
		ServiceType:  "_mcp._tcp",
		Domain:       "local.",
		Port:         0,
		RestartDelay: cfg.Timeouts.RestartDelay,
		Advertise:    false,
	}, nil)

	providers := map[string]*fakeProvider{
		"alpha":  {id: "alpha", tools: []string{"alpha_one", "alpha_two"}},
		"beta":   {id: "beta", tools: []string{"beta_one"}},
		"broken": {id: "broken", tools: []string{"broken_one"}, fail: true},
		"pixel":  {id: "pixel", tools: []string{"pixel_frame"}, image: pngMagic},
	}
	tools := capability.NewSet(nil,
		providers["alpha"], providers["beta"], providers["broken"], providers["pixel"])
	bindings := capability.BindingsFromDefaults(map[string]bool{
		"alpha":  true,
		"beta":   false,
		"broken": true,
		"pixel":  true,
	})

	sup := New(cfg, protocol.ServerInfo{Name: "hearthd", Version: "test"},
		tools, approval.New(prompter, nil), listener, bindings, nil)
	sup.Start()
	t.Cleanup(sup.Stop)

	deadline := time.Now().Add(3 * time.Second)
	for listener.State() != discovery.StateReady {
		if time.Now().After(deadline) {
			t.Fatal("listener never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}

	return &testEnv{sup: sup, port: listener.Port(), providers: providers}
}

type testClient struct {
	conn   net.Conn
	reader *bufio.Scanner
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", e.port))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), protocol.MaxMessageSize)
	return &testClient{conn: conn, reader: scanner}
}

func (c *testClient) send(t *testing.T, raw string) {
	t.Helper()
	if _, err := c.conn.Write([]byte(raw + "\n")); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
}

func (c *testClient) recv(t *testing.T) map[string]any {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if !c.reader.Scan() {
		t.Fatalf("client read failed: %v", c.reader.Err())
	}
	var msg map[string]any
	if err := json.Unmarshal(c.reader.Bytes(), &msg); err != nil {
		t.Fatalf("client decode failed: %v", err)
	}
	return msg
}

// initialize completes the handshake for a named client, releasing the prompt.
func (c *testClient) initialize(t *testing.T, name string, prompter *gatedPrompter) {
	t.Helper()
	c.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":%q,"version":"1.0"}}}`, name))
	select {
	case <-prompter.presented:
	case <-time.After(3 * time.Second):
		t.Fatal("approval prompt never presented")
	}
	prompter.release <- struct{}{}
	resp := c.recv(t)
	if resp["result"] == nil {
		t.Fatalf("initialize failed: %v", resp)
	}
}

func (c *testClient) listToolNames(t *testing.T, id int) []string {
	t.Helper()
	c.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/list"}`, id))
	resp := c.recv(t)
	result := resp["result"].(map[string]any)
	raw := result["tools"].([]any)
	names := make([]string, len(raw))
	for i, item := range raw {
		names[i] = item.(map[string]any)["name"].(string)
	}
	return names
}

func (c *testClient) callTool(t *testing.T, id int, name string) map[string]any {
	t.Helper()
	c.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":%q}}`, id, name))
	resp := c.recv(t)
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("tools/call got no result: %v", resp)
	}
	return result
}

func resultText(t *testing.T, result map[string]any) string {
	t.Helper()
	content := result["content"].([]any)
	return content[0].(map[string]any)["text"].(string)
}

func TestHandshakeApprovedAndToolsVisible(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	client := env.dial(t)
	client.initialize(t, "claude-desktop", prompter)

	names := client.listToolNames(t, 2)
	want := []string{"alpha_one", "alpha_two", "broken_one", "pixel_frame"}
	if len(names) != len(want) {
		t.Fatalf("tool names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tools[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	result := client.callTool(t, 3, "alpha_one")
	if got := resultText(t, result); got != "ran alpha_one" {
		t.Errorf("call result = %q, want %q", got, "ran alpha_one")
	}
}

func TestHandshakeDeniedClosesConnection(t *testing.T) {
	prompter := newGatedPrompter(false)
	env := newTestEnv(t, prompter, 5*time.Second)

	client := env.dial(t)
	client.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"stranger"}}}`)
	<-prompter.presented
	prompter.release <- struct{}{}

	resp := client.recv(t)
	if resp["error"] == nil {
		t.Fatal("denied client should receive an error response")
	}

	// The connection drains out of the table.
	deadline := time.Now().Add(3 * time.Second)
	for len(env.sup.Connections()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection table not drained: %v", env.sup.Connections())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSetupTimeout_ClosesSilentClient(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 100*time.Millisecond)

	client := env.dial(t)

	// Never send initialize; the watchdog should cut us off.
	_ = client.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	if _, err := client.conn.Read(buf); err == nil {
		t.Fatal("expected the server to close a silent connection")
	}
}

func TestSetupTimeout_SuspendedDuringApproval(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 150*time.Millisecond)

	client := env.dial(t)
	client.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"slow-human"}}}`)
	<-prompter.presented

	// Let several timeout periods pass while the dialog is up.
	time.Sleep(500 * time.Millisecond)
	prompter.release <- struct{}{}

	resp := client.recv(t)
	if resp["result"] == nil {
		t.Fatalf("handshake should survive a long approval wait, got %v", resp)
	}
}

func TestDisabledServer_EmptyListAndExplicitCallError(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	client := env.dial(t)
	client.initialize(t, "claude-desktop", prompter)

	env.sup.SetEnabled(false)

	// The flip fans out a list-changed notification first.
	note := client.recv(t)
	if note["method"] != protocol.NotificationToolListChanged {
		t.Fatalf("expected list-changed notification, got %v", note)
	}

	if names := client.listToolNames(t, 2); len(names) != 0 {
		t.Errorf("disabled server should list no tools, got %v", names)
	}

	result := client.callTool(t, 3, "alpha_one")
	if result["isError"] != true {
		t.Fatal("disabled call should be an error result")
	}
	if got := resultText(t, result); got != "server is disabled" {
		t.Errorf("disabled call text = %q, want %q", got, "server is disabled")
	}

	// The short-circuit must happen before any provider is probed.
	if got := env.totalCalls(); got != 0 {
		t.Errorf("providers were probed %d times while disabled, want 0", got)
	}
}

func TestUnknownToolDistinctFromDisabledAndFailure(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	client := env.dial(t)
	client.initialize(t, "claude-desktop", prompter)

	// Unknown tool.
	result := client.callTool(t, 2, "no_such_tool")
	if result["isError"] != true {
		t.Fatal("unknown tool should be an error result")
	}
	if got := resultText(t, result); !strings.Contains(got, "tool not found") {
		t.Errorf("unknown tool text = %q, want a not-found message", got)
	}

	// Disabled provider's tool is indistinguishable from unknown.
	result = client.callTool(t, 3, "beta_one")
	if got := resultText(t, result); !strings.Contains(got, "tool not found") {
		t.Errorf("disabled provider text = %q, want a not-found message", got)
	}

	// A recognized tool that fails reports the failure, not not-found.
	result = client.callTool(t, 4, "broken_one")
	if result["isError"] != true {
		t.Fatal("failed tool should be an error result")
	}
	if got := resultText(t, result); !strings.Contains(got, "provider broke") {
		t.Errorf("failure text = %q, want the provider error", got)
	}
}

func TestImageResultWireEncoding(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	client := env.dial(t)
	client.initialize(t, "claude-desktop", prompter)

	result := client.callTool(t, 2, "pixel_frame")
	if _, has := result["isError"]; has {
		t.Errorf("successful image call must not carry isError, got %v", result["isError"])
	}

	content := result["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("content has %d items, want 1", len(content))
	}
	item := content[0].(map[string]any)
	if item["type"] != "image" {
		t.Errorf("content type = %v, want image", item["type"])
	}
	if item["mimeType"] != "image/png" {
		t.Errorf("mimeType = %v, want image/png", item["mimeType"])
	}
	if _, has := item["text"]; has {
		t.Error("image content must not carry a text field")
	}

	decoded, err := base64.StdEncoding.DecodeString(item["data"].(string))
	if err != nil {
		t.Fatalf("data is not valid base64: %v", err)
	}
	if !bytes.Equal(decoded, pngMagic) {
		t.Errorf("decoded payload = %x, want %x", decoded, pngMagic)
	}
}

func TestSetEnabled_NoOpWhenUnchanged(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	client := env.dial(t)
	client.initialize(t, "claude-desktop", prompter)

	env.sup.SetEnabled(true) // already enabled

	// No notification should precede this response.
	client.send(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	msg := client.recv(t)
	if msg["method"] == protocol.NotificationToolListChanged {
		t.Fatal("unchanged SetEnabled must not notify")
	}
	if msg["result"] == nil {
		t.Fatalf("expected tools/list response, got %v", msg)
	}
}

func TestUpdateBindings_NotifiesAllClients(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	first := env.dial(t)
	first.initialize(t, "claude-desktop", prompter)

	second := env.dial(t)
	second.initialize(t, "other-agent", prompter)

	env.sup.UpdateBindings(capability.BindingsFromDefaults(map[string]bool{
		"beta": true,
	}))

	for _, client := range []*testClient{first, second} {
		note := client.recv(t)
		if note["method"] != protocol.NotificationToolListChanged {
			t.Fatalf("expected list-changed notification, got %v", note)
		}
	}

	names := first.listToolNames(t, 5)
	if len(names) != 1 || names[0] != "beta_one" {
		t.Errorf("tool names after rebind = %v, want [beta_one]", names)
	}
}

func TestEmptyPromptsAndResources(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	client := env.dial(t)
	client.initialize(t, "claude-desktop", prompter)

	client.send(t, `{"jsonrpc":"2.0","id":2,"method":"prompts/list"}`)
	resp := client.recv(t)
	prompts := resp["result"].(map[string]any)["prompts"].([]any)
	if len(prompts) != 0 {
		t.Errorf("prompts = %v, want empty", prompts)
	}

	client.send(t, `{"jsonrpc":"2.0","id":3,"method":"resources/list"}`)
	resp = client.recv(t)
	resources := resp["result"].(map[string]any)["resources"].([]any)
	if len(resources) != 0 {
		t.Errorf("resources = %v, want empty", resources)
	}
}

func TestRemoveConnection_UnknownIDIsSafe(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	env.sup.RemoveConnection("no-such-id")
	env.sup.RemoveConnection("no-such-id")
}

func TestStop_TearsDownConnectionsAndListener(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	client := env.dial(t)
	client.initialize(t, "claude-desktop", prompter)

	port := env.port
	env.sup.Stop()

	if got := len(env.sup.Connections()); got != 0 {
		t.Errorf("connection table has %d entries after Stop, want 0", got)
	}

	// The client observes its session closing.
	_ = client.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	if _, err := client.conn.Read(buf); err == nil {
		t.Error("client connection should be closed after Stop")
	}

	if _, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond); err == nil {
		t.Error("listener should be closed after Stop")
	}

	// Second Stop is a no-op, and enablement changes after Stop do not spawn
	// notification work.
	env.sup.Stop()
	env.sup.SetEnabled(false)
	env.sup.UpdateBindings(capability.BindingsFromDefaults(map[string]bool{"alpha": true}))
}

func TestStop_ConcurrentWithEnablementChanges(t *testing.T) {
	prompter := newGatedPrompter(true)
	env := newTestEnv(t, prompter, 5*time.Second)

	client := env.dial(t)
	client.initialize(t, "claude-desktop", prompter)

	// Hammer the notification fan-out while Stop races it; Stop must not
	// return with tracked goroutines still pending.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			env.sup.SetEnabled(i%2 == 0)
		}
	}()

	env.sup.Stop()
	<-done

	if got := len(env.sup.Connections()); got != 0 {
		t.Errorf("connection table has %d entries after Stop, want 0", got)
	}
}
