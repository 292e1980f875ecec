// ABOUTME: SQLite implementation of the ProviderStore interface using modernc.org/sqlite
// ABOUTME: Provides reminder/note persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the ProviderStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements ProviderStore.
var _ ProviderStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			due_at TEXT,
			completed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			completed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_reminders_completed
			ON reminders(completed, created_at);

		CREATE TABLE IF NOT EXISTS notes (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateReminder inserts a new reminder, assigning an ID and creation time
// when the caller left them unset.
func (s *SQLiteStore) CreateReminder(ctx context.Context, r *Reminder) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	var dueAt *string
	if r.DueAt != nil {
		str := r.DueAt.UTC().Format(time.RFC3339)
		dueAt = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, title, notes, due_at, completed, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, r.ID, r.Title, r.Notes, dueAt, r.CreatedAt.UTC().Format(time.RFC3339))

	return err
}

// ListReminders returns reminders ordered by creation time, newest first.
// Completed reminders are excluded unless includeCompleted is set.
func (s *SQLiteStore) ListReminders(ctx context.Context, includeCompleted bool, limit int) ([]*Reminder, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, title, notes, due_at, completed, created_at, completed_at FROM reminders`
	if !includeCompleted {
		query += ` WHERE completed = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reminders []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// CompleteReminder marks a reminder as completed.
// Returns ErrNotFound if no pending reminder has the given ID.
func (s *SQLiteStore) CompleteReminder(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET completed = 1, completed_at = ? WHERE id = ? AND completed = 0
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReminder removes a reminder. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteReminder(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNote stores or replaces a note by key.
func (s *SQLiteStore) SetNote(ctx context.Context, n *Note) error {
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, n.Key, n.Value, n.UpdatedAt.UTC().Format(time.RFC3339))

	return err
}

// GetNote retrieves a note by key. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetNote(ctx context.Context, key string) (*Note, error) {
	var n Note
	var updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT key, value, updated_at FROM notes WHERE key = ?
	`, key).Scan(&n.Key, &n.Value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	n.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &n, nil
}

// ListNoteKeys returns all note keys in lexical order.
func (s *SQLiteStore) ListNoteKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM notes ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteNote removes a note by key. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteNote(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE key = ?`, key)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanReminder reads one reminder row, parsing the stored RFC 3339 timestamps.
func scanReminder(rows *sql.Rows) (*Reminder, error) {
	var r Reminder
	var dueAt, completedAt sql.NullString
	var createdAt string
	var completed int

	if err := rows.Scan(&r.ID, &r.Title, &r.Notes, &dueAt, &completed, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	r.Completed = completed != 0

	var err error
	r.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if dueAt.Valid {
		t, err := time.Parse(time.RFC3339, dueAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing due_at: %w", err)
		}
		r.DueAt = &t
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		r.CompletedAt = &t
	}

	return &r, nil
}
