// ABOUTME: Notes provider backed by the SQLite store.
// ABOUTME: Key-value notes: set, get, list, delete.

package builtins

import (
	"context"
	"errors"
	"fmt"

	"github.com/hearthlink/hearthd/internal/capability"
	"github.com/hearthlink/hearthd/internal/store"
)

// NotesProvider exposes key-value note tools.
type NotesProvider struct {
	store store.ProviderStore
}

// NewNotes creates the notes provider on top of the given store.
func NewNotes(s store.ProviderStore) *NotesProvider {
	return &NotesProvider{store: s}
}

// ID returns the stable provider identity.
func (n *NotesProvider) ID() string { return "notes" }

// IsActivated reports whether the backing store is reachable.
func (n *NotesProvider) IsActivated(_ context.Context) bool { return n.store != nil }

// Activate is a no-op; the store is opened at process start.
func (n *NotesProvider) Activate(_ context.Context) error {
	if n.store == nil {
		return fmt.Errorf("note store not available")
	}
	return nil
}

// Tools returns the note tool descriptors in declaration order.
func (n *NotesProvider) Tools() []capability.ToolDescriptor {
	return []capability.ToolDescriptor{
		{
			Name:        "note_set",
			Description: "Store a note",
			InputSchema: []byte(`{"type":"object","properties":{"key":{"type":"string"},"value":{"type":"string"}},"required":["key","value"]}`),
			Annotations: capability.Annotations{Title: "Set Note"},
		},
		{
			Name:        "note_get",
			Description: "Retrieve a note",
			InputSchema: []byte(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
			Annotations: capability.Annotations{Title: "Get Note", ReadOnlyHint: true},
		},
		{
			Name:        "note_list",
			Description: "List all note keys",
			InputSchema: []byte(`{"type":"object","properties":{}}`),
			Annotations: capability.Annotations{Title: "List Notes", ReadOnlyHint: true},
		},
		{
			Name:        "note_delete",
			Description: "Delete a note",
			InputSchema: []byte(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
			Annotations: capability.Annotations{Title: "Delete Note", DestructiveHint: true},
		},
	}
}

// Call dispatches a notes tool by name.
func (n *NotesProvider) Call(ctx context.Context, tool string, args map[string]any) (*capability.Result, error) {
	switch tool {
	case "note_set":
		return n.set(ctx, args)
	case "note_get":
		return n.get(ctx, args)
	case "note_list":
		return n.list(ctx)
	case "note_delete":
		return n.delete(ctx, args)
	default:
		return nil, capability.ErrUnknownTool
	}
}

func (n *NotesProvider) set(ctx context.Context, args map[string]any) (*capability.Result, error) {
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if value == "" {
		return nil, fmt.Errorf("value is required")
	}

	if err := n.store.SetNote(ctx, &store.Note{Key: key, Value: value}); err != nil {
		return nil, fmt.Errorf("storing note: %w", err)
	}
	return capability.TextResult(map[string]any{"key": key, "status": "saved"})
}

func (n *NotesProvider) get(ctx context.Context, args map[string]any) (*capability.Result, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	note, err := n.store.GetNote(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no note with key %q", key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading note: %w", err)
	}

	return capability.TextResult(map[string]any{
		"key":     note.Key,
		"value":   note.Value,
		"updated": capability.Timestamp(note.UpdatedAt),
	})
}

func (n *NotesProvider) list(ctx context.Context) (*capability.Result, error) {
	keys, err := n.store.ListNoteKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return capability.TextResult(map[string]any{"keys": keys, "count": len(keys)})
}

func (n *NotesProvider) delete(ctx context.Context, args map[string]any) (*capability.Result, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	if err := n.store.DeleteNote(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no note with key %q", key)
		}
		return nil, fmt.Errorf("deleting note: %w", err)
	}
	return capability.TextResult(map[string]any{"key": key, "status": "deleted"})
}
