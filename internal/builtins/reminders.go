// ABOUTME: Reminders provider backed by the SQLite store.
// ABOUTME: Add, list, complete, and delete reminder items.

package builtins

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hearthlink/hearthd/internal/capability"
	"github.com/hearthlink/hearthd/internal/store"
)

// RemindersProvider exposes reminder management tools.
type RemindersProvider struct {
	store store.ProviderStore
}

// NewReminders creates the reminders provider on top of the given store.
func NewReminders(s store.ProviderStore) *RemindersProvider {
	return &RemindersProvider{store: s}
}

// ID returns the stable provider identity.
func (r *RemindersProvider) ID() string { return "reminders" }

// IsActivated reports whether the backing store is reachable.
func (r *RemindersProvider) IsActivated(_ context.Context) bool { return r.store != nil }

// Activate is a no-op; the store is opened at process start.
func (r *RemindersProvider) Activate(_ context.Context) error {
	if r.store == nil {
		return fmt.Errorf("reminder store not available")
	}
	return nil
}

// Tools returns the reminder tool descriptors in declaration order.
func (r *RemindersProvider) Tools() []capability.ToolDescriptor {
	return []capability.ToolDescriptor{
		{
			Name:        "reminder_add",
			Description: "Create a reminder",
			InputSchema: []byte(`{"type":"object","properties":{"title":{"type":"string"},"notes":{"type":"string"},"due":{"type":"string","format":"date-time"}},"required":["title"]}`),
			Annotations: capability.Annotations{Title: "Add Reminder"},
		},
		{
			Name:        "reminder_list",
			Description: "List reminders",
			InputSchema: []byte(`{"type":"object","properties":{"include_completed":{"type":"boolean"},"limit":{"type":"integer"}}}`),
			Annotations: capability.Annotations{Title: "List Reminders", ReadOnlyHint: true},
		},
		{
			Name:        "reminder_complete",
			Description: "Mark a reminder as completed",
			InputSchema: []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Annotations: capability.Annotations{Title: "Complete Reminder"},
		},
		{
			Name:        "reminder_delete",
			Description: "Delete a reminder",
			InputSchema: []byte(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Annotations: capability.Annotations{Title: "Delete Reminder", DestructiveHint: true},
		},
	}
}

// Call dispatches a reminders tool by name.
func (r *RemindersProvider) Call(ctx context.Context, tool string, args map[string]any) (*capability.Result, error) {
	switch tool {
	case "reminder_add":
		return r.add(ctx, args)
	case "reminder_list":
		return r.list(ctx, args)
	case "reminder_complete":
		return r.complete(ctx, args)
	case "reminder_delete":
		return r.delete(ctx, args)
	default:
		return nil, capability.ErrUnknownTool
	}
}

func (r *RemindersProvider) add(ctx context.Context, args map[string]any) (*capability.Result, error) {
	title, _ := args["title"].(string)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	rem := &store.Reminder{Title: title}
	if notes, ok := args["notes"].(string); ok {
		rem.Notes = notes
	}
	if due, ok := args["due"].(string); ok && due != "" {
		t, err := time.Parse(time.RFC3339, due)
		if err != nil {
			return nil, fmt.Errorf("parsing due: %w", err)
		}
		rem.DueAt = &t
	}

	if err := r.store.CreateReminder(ctx, rem); err != nil {
		return nil, fmt.Errorf("creating reminder: %w", err)
	}

	return capability.TextResult(map[string]any{
		"id":      rem.ID,
		"title":   rem.Title,
		"created": capability.Timestamp(rem.CreatedAt),
	})
}

func (r *RemindersProvider) list(ctx context.Context, args map[string]any) (*capability.Result, error) {
	includeCompleted, _ := args["include_completed"].(bool)
	limit := 0
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}

	reminders, err := r.store.ListReminders(ctx, includeCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}

	items := make([]map[string]any, 0, len(reminders))
	for _, rem := range reminders {
		item := map[string]any{
			"id":        rem.ID,
			"title":     rem.Title,
			"completed": rem.Completed,
			"created":   capability.Timestamp(rem.CreatedAt),
		}
		if rem.Notes != "" {
			item["notes"] = rem.Notes
		}
		if rem.DueAt != nil {
			item["due"] = capability.Timestamp(*rem.DueAt)
		}
		items = append(items, item)
	}

	return capability.TextResult(map[string]any{"reminders": items, "count": len(items)})
}

func (r *RemindersProvider) complete(ctx context.Context, args map[string]any) (*capability.Result, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}

	if err := r.store.CompleteReminder(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no pending reminder with id %s", id)
		}
		return nil, fmt.Errorf("completing reminder: %w", err)
	}

	return capability.TextResult(map[string]any{"id": id, "status": "completed"})
}

func (r *RemindersProvider) delete(ctx context.Context, args map[string]any) (*capability.Result, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}

	if err := r.store.DeleteReminder(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no reminder with id %s", id)
		}
		return nil, fmt.Errorf("deleting reminder: %w", err)
	}

	return capability.TextResult(map[string]any{"id": id, "status": "deleted"})
}
