// Package capability defines the provider contract and the ordered tool registry.
//
// # Providers
//
// A Provider exposes one host capability domain (reminders, notes, utilities)
// as a declarative list of ToolDescriptors plus a single Call entrypoint.
// Providers are constructed once at startup and registered into a Set in a
// fixed order.
//
// # Dispatch
//
// Tool names are not namespaced by provider on the wire. Set.Dispatch probes
// enabled providers in registration order and the first provider that
// recognizes the name wins. A provider declines a name with ErrUnknownTool;
// any other error means the tool was recognized but failed, and dispatch
// stops there.
//
// # Enablement
//
// Whether a provider is enabled is owned by the preference/UI layer and
// exposed to the core as a Binding (live read/write boolean). The Set reads
// enablement through a filter function at each list/dispatch call, so toggles
// take effect on the next request without reconnecting clients.
package capability
