// ABOUTME: Ordered provider set with enablement-filtered listing and first-match dispatch.
// ABOUTME: Registration order is the dispatch probe order; within a provider, declaration order.

package capability

import (
	"context"
	"errors"
	"log/slog"
)

// Set holds the ordered list of capability providers. Providers are registered
// once at startup; the set itself is immutable afterwards, so reads need no
// locking. Enablement is evaluated per call through the supplied filter.
type Set struct {
	providers []Provider
	logger    *slog.Logger
}

// NewSet creates a Set with the given providers in registration order.
func NewSet(logger *slog.Logger, providers ...Provider) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		providers: providers,
		logger:    logger.With("component", "capability"),
	}
}

// Providers returns the registered providers in registration order.
func (s *Set) Providers() []Provider {
	return s.providers
}

// ListTools returns the tool descriptors of every provider for which enabled
// returns true. Order across providers is registration order; within a
// provider, declaration order. Deterministic for the same enablement state.
func (s *Set) ListTools(enabled func(id string) bool) []ToolDescriptor {
	var tools []ToolDescriptor
	for _, p := range s.providers {
		if !enabled(p.ID()) {
			continue
		}
		tools = append(tools, p.Tools()...)
	}
	return tools
}

// Dispatch routes a tool call to the first enabled provider that recognizes
// the name. A provider signals "not mine" with ErrUnknownTool, which moves the
// probe to the next provider. Returns ErrToolNotFound when no enabled provider
// claims the name; any other error is the owning provider's failure.
func (s *Set) Dispatch(ctx context.Context, name string, args map[string]any, enabled func(id string) bool) (*Result, error) {
	for _, p := range s.providers {
		if !enabled(p.ID()) {
			continue
		}

		result, err := p.Call(ctx, name, args)
		if errors.Is(err, ErrUnknownTool) {
			continue
		}
		if err != nil {
			s.logger.Warn("tool call failed",
				"provider", p.ID(),
				"tool", name,
				"error", err,
			)
			return nil, err
		}

		s.logger.Debug("tool dispatched",
			"provider", p.ID(),
			"tool", name,
		)
		return result, nil
	}

	return nil, ErrToolNotFound
}
