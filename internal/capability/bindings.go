// ABOUTME: Externally-owned read/write enablement bindings per provider identity.
// ABOUTME: The core reads current values at dispatch time and never persists them.

package capability

import "sync/atomic"

// Binding is a live read/write boolean for one provider identity, supplied by
// the preference/UI layer. The core reads the current value at list and
// dispatch time; it never caches or persists it.
type Binding struct {
	get func() bool
	set func(bool)
}

// NewBinding wraps externally-owned accessors into a Binding.
func NewBinding(get func() bool, set func(bool)) Binding {
	return Binding{get: get, set: set}
}

// NewStaticBinding returns a Binding backed by its own atomic flag, for
// callers that have no external preference store.
func NewStaticBinding(initial bool) Binding {
	var v atomic.Bool
	v.Store(initial)
	return Binding{
		get: v.Load,
		set: v.Store,
	}
}

// Enabled reads the current value. A zero-value Binding reads as disabled.
func (b Binding) Enabled() bool {
	if b.get == nil {
		return false
	}
	return b.get()
}

// SetEnabled writes a new value. No-op on a zero-value Binding.
func (b Binding) SetEnabled(v bool) {
	if b.set != nil {
		b.set(v)
	}
}

// Bindings maps provider identity to its enablement binding.
type Bindings map[string]Binding

// BindingsFromDefaults builds self-contained bindings from an initial
// enablement snapshot, one static binding per provider identity.
func BindingsFromDefaults(defaults map[string]bool) Bindings {
	b := make(Bindings, len(defaults))
	for id, enabled := range defaults {
		b[id] = NewStaticBinding(enabled)
	}
	return b
}
