// ABOUTME: Store interface and data types for built-in capability provider persistence.
// ABOUTME: Reminders and notes are the only persisted domains; the core itself persists nothing.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Reminder is a single reminder item.
type Reminder struct {
	ID          string
	Title       string
	Notes       string
	DueAt       *time.Time
	Completed   bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Note is a key-value note.
type Note struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// ProviderStore is the persistence interface consumed by the built-in
// capability providers.
type ProviderStore interface {
	// Reminders
	CreateReminder(ctx context.Context, r *Reminder) error
	ListReminders(ctx context.Context, includeCompleted bool, limit int) ([]*Reminder, error)
	CompleteReminder(ctx context.Context, id string) error
	DeleteReminder(ctx context.Context, id string) error

	// Notes
	SetNote(ctx context.Context, n *Note) error
	GetNote(ctx context.Context, key string) (*Note, error)
	ListNoteKeys(ctx context.Context) ([]string, error)
	DeleteNote(ctx context.Context, key string) error

	Close() error
}
