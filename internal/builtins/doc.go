// Package builtins contains the capability providers that ship with hearthd.
//
// Each provider implements capability.Provider with a declarative tool list
// and a single Call entrypoint:
//
//   - utilities: clock, timezone conversion, UUIDs, color swatches (default on)
//   - reminders: reminder items backed by the SQLite store (default off)
//   - notes: key-value notes backed by the SQLite store (default off)
//
// DefaultEnablement returns the built-in enabled flags; the capabilities.toml
// defaults file and runtime toggles override them.
package builtins
