// ABOUTME: Assembly of the built-in provider set and its default enablement.
// ABOUTME: Registration order here is the wire-visible dispatch order.

package builtins

import (
	"log/slog"

	"github.com/hearthlink/hearthd/internal/capability"
	"github.com/hearthlink/hearthd/internal/store"
)

// NewSet builds the capability set with every built-in provider in its fixed
// registration order. This order is observable on the wire: tools/list emits
// providers in this order and tools/call probes them in this order.
func NewSet(logger *slog.Logger, s store.ProviderStore) *capability.Set {
	return capability.NewSet(logger,
		NewUtilities(),
		NewReminders(s),
		NewNotes(s),
	)
}

// DefaultEnablement returns the built-in per-provider enabled flags.
// Utilities is on by default; store-backed providers start off and are
// switched on by user action.
func DefaultEnablement() map[string]bool {
	return map[string]bool{
		"utilities": true,
		"reminders": false,
		"notes":     false,
	}
}
