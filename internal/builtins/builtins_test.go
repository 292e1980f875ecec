// ABOUTME: Tests for the built-in providers: utilities, reminders, and notes.
// ABOUTME: Store-backed providers run against a temp SQLite database.

package builtins

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthlink/hearthd/internal/capability"
	"github.com/hearthlink/hearthd/internal/store"
)

func newTestStore(t *testing.T) store.ProviderStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func decodeText(t *testing.T, r *capability.Result) map[string]any {
	t.Helper()
	require.NotNil(t, r)
	require.False(t, r.IsBinary())
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.Text), &m))
	return m
}

func TestUtilities_TimeNow(t *testing.T) {
	u := NewUtilities()
	ctx := context.Background()

	result, err := u.Call(ctx, "time_now", map[string]any{})
	require.NoError(t, err)
	m := decodeText(t, result)
	assert.Equal(t, "UTC", m["timezone"])

	parsed, err := time.Parse(time.RFC3339, m["utc"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, time.Minute)
}

func TestUtilities_TimeNow_BadTimezone(t *testing.T) {
	u := NewUtilities()

	_, err := u.Call(context.Background(), "time_now", map[string]any{"timezone": "Mars/Olympus"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, capability.ErrUnknownTool)
}

func TestUtilities_TimeConvert(t *testing.T) {
	u := NewUtilities()

	result, err := u.Call(context.Background(), "time_convert", map[string]any{
		"time": "2026-08-23T12:00:00Z",
		"to":   "America/New_York",
	})
	require.NoError(t, err)
	m := decodeText(t, result)
	assert.Equal(t, "2026-08-23T08:00:00-04:00", m["time"])
	assert.Equal(t, "America/New_York", m["timezone"])
}

func TestUtilities_GenerateUUID(t *testing.T) {
	u := NewUtilities()

	result, err := u.Call(context.Background(), "generate_uuid", nil)
	require.NoError(t, err)
	m := decodeText(t, result)
	assert.Len(t, m["uuid"].(string), 36)
}

func TestUtilities_ColorSwatch(t *testing.T) {
	u := NewUtilities()

	result, err := u.Call(context.Background(), "color_swatch", map[string]any{"color": "#336699"})
	require.NoError(t, err)
	require.True(t, result.IsBinary())
	assert.Equal(t, "image/png", result.MIMEType)
	// PNG magic bytes
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, result.Data[:4])

	_, err = u.Call(context.Background(), "color_swatch", map[string]any{"color": "blue"})
	assert.Error(t, err)
}

func TestUtilities_UnknownTool(t *testing.T) {
	u := NewUtilities()

	_, err := u.Call(context.Background(), "reminder_add", nil)
	assert.ErrorIs(t, err, capability.ErrUnknownTool)
}

func TestReminders_Lifecycle(t *testing.T) {
	p := NewReminders(newTestStore(t))
	ctx := context.Background()

	result, err := p.Call(ctx, "reminder_add", map[string]any{
		"title": "buy milk",
		"due":   "2026-09-01T09:00:00Z",
	})
	require.NoError(t, err)
	id := decodeText(t, result)["id"].(string)
	require.NotEmpty(t, id)

	result, err = p.Call(ctx, "reminder_list", map[string]any{})
	require.NoError(t, err)
	m := decodeText(t, result)
	assert.EqualValues(t, 1, m["count"])

	_, err = p.Call(ctx, "reminder_complete", map[string]any{"id": id})
	require.NoError(t, err)

	result, err = p.Call(ctx, "reminder_list", map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, decodeText(t, result)["count"])

	result, err = p.Call(ctx, "reminder_list", map[string]any{"include_completed": true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, decodeText(t, result)["count"])

	_, err = p.Call(ctx, "reminder_delete", map[string]any{"id": id})
	require.NoError(t, err)

	_, err = p.Call(ctx, "reminder_delete", map[string]any{"id": id})
	assert.Error(t, err)
}

func TestReminders_ValidatesInput(t *testing.T) {
	p := NewReminders(newTestStore(t))
	ctx := context.Background()

	_, err := p.Call(ctx, "reminder_add", map[string]any{})
	assert.Error(t, err)

	_, err = p.Call(ctx, "reminder_add", map[string]any{"title": "x", "due": "tomorrow"})
	assert.Error(t, err)

	_, err = p.Call(ctx, "reminder_complete", map[string]any{})
	assert.Error(t, err)
}

func TestNotes_Lifecycle(t *testing.T) {
	p := NewNotes(newTestStore(t))
	ctx := context.Background()

	_, err := p.Call(ctx, "note_set", map[string]any{"key": "wifi", "value": "hunter2"})
	require.NoError(t, err)

	result, err := p.Call(ctx, "note_get", map[string]any{"key": "wifi"})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", decodeText(t, result)["value"])

	result, err = p.Call(ctx, "note_list", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, decodeText(t, result)["count"])

	_, err = p.Call(ctx, "note_delete", map[string]any{"key": "wifi"})
	require.NoError(t, err)

	_, err = p.Call(ctx, "note_get", map[string]any{"key": "wifi"})
	assert.Error(t, err)
}

func TestNewSet_RegistrationOrder(t *testing.T) {
	set := NewSet(slog.Default(), newTestStore(t))

	providers := set.Providers()
	require.Len(t, providers, 3)
	assert.Equal(t, "utilities", providers[0].ID())
	assert.Equal(t, "reminders", providers[1].ID())
	assert.Equal(t, "notes", providers[2].ID())
}

func TestDefaultEnablement(t *testing.T) {
	defaults := DefaultEnablement()
	assert.True(t, defaults["utilities"])
	assert.False(t, defaults["reminders"])
	assert.False(t, defaults["notes"])
}
