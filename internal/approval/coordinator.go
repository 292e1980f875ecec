// ABOUTME: Coordinates human approval prompts per client identity.
// ABOUTME: At most one active dialog per identity; queued requests replay its decision.

package approval

import (
	"context"
	"log/slog"
	"sync"
)

// Prompter presents a blocking yes/no prompt for a client identity and returns
// the decision. This is the single synchronous UI boundary in the system: the
// call may block its own goroutine for as long as the human takes, but it must
// never be invoked while holding coordinator state.
type Prompter interface {
	Prompt(identity string) bool
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(identity string) bool

// Prompt calls f.
func (f PrompterFunc) Prompt(identity string) bool { return f(identity) }

// inflight tracks one identity's active prompt and the requests waiting on it,
// in arrival order.
type inflight struct {
	waiters []chan bool
}

// Coordinator serializes approval prompts keyed by client identity. While a
// dialog for identity K is active, further requests for K are queued rather
// than presented; when the dialog resolves, every queued request receives the
// same decision in arrival order. Different identities are fully independent.
type Coordinator struct {
	mu       sync.Mutex
	active   map[string]*inflight
	prompter Prompter
	logger   *slog.Logger
}

// New creates a Coordinator. A nil prompter denies every request.
func New(prompter Prompter, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		active:   make(map[string]*inflight),
		prompter: prompter,
		logger:   logger.With("component", "approval"),
	}
}

// RequestApproval suspends until a decision for the identity is available.
// The first request for an idle identity triggers the prompt; concurrent
// requests for the same identity share its outcome. Context cancellation
// abandons this caller's wait without disturbing the prompt or other waiters.
func (c *Coordinator) RequestApproval(ctx context.Context, identity string) (bool, error) {
	ch := make(chan bool, 1)

	c.mu.Lock()
	if inf, ok := c.active[identity]; ok {
		inf.waiters = append(inf.waiters, ch)
		c.mu.Unlock()
		c.logger.Debug("approval request queued behind active dialog", "identity", identity)
	} else {
		c.active[identity] = &inflight{waiters: []chan bool{ch}}
		c.mu.Unlock()
		go c.present(identity)
	}

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// IsActive reports whether a dialog for the identity is currently presented.
// The connection setup timeout is suspended while this is true.
func (c *Coordinator) IsActive(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[identity]
	return ok
}

// present runs the blocking prompt on its own goroutine, then fans the
// decision out to every waiter collected while the dialog was up.
func (c *Coordinator) present(identity string) {
	decision := false
	if c.prompter != nil {
		decision = c.prompter.Prompt(identity)
	} else {
		c.logger.Warn("no approval prompter configured, denying", "identity", identity)
	}

	c.mu.Lock()
	inf := c.active[identity]
	delete(c.active, identity)
	c.mu.Unlock()

	c.logger.Info("approval resolved",
		"identity", identity,
		"approved", decision,
		"waiters", len(inf.waiters),
	)

	// Waiter channels are buffered, so abandoned waiters never block the rest.
	for _, ch := range inf.waiters {
		ch <- decision
	}
}
