package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ghostline/db"
	"github.com/teranos/ghostline/db/dbtest"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/settings"
)

func newHistory(t *testing.T) *History {
	t.Helper()
	return NewHistory(dbtest.New(t))
}

func TestHistoryConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)

	conv, err := h.Create(ctx, "Markdown tables", "gpt-4o")
	require.NoError(t, err)
	assert.Len(t, conv.ID, 36)

	require.NoError(t, h.Append(ctx, conv.ID,
		Message{Role: "user", Content: "how do I align columns?"},
		Message{Role: "assistant", Content: "use colons in the separator row"},
	))

	msgs, err := h.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "use colons in the separator row", msgs[1].Content)

	got, err := h.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Markdown tables", got.Title)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	require.NoError(t, h.Delete(ctx, conv.ID))
	_, err = h.Get(ctx, conv.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	msgs, err = h.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHistoryListOrdersByActivity(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	a, err := h.Create(ctx, "a", "m")
	require.NoError(t, err)
	b, err := h.Create(ctx, "b", "m")
	require.NoError(t, err)
	c, err := h.Create(ctx, "c", "m")
	require.NoError(t, err)

	// touching a makes it the most recent
	require.NoError(t, h.Append(ctx, a.ID, Message{Role: "user", Content: "again"}))

	all, err := h.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	two, err := h.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestHistoryMissingConversation(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t)

	err := h.Append(ctx, "nope", Message{Role: "user", Content: "x"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.True(t, errors.Is(h.Delete(ctx, "nope"), errors.ErrNotFound))
}

func TestHistoryAppendRollsBack(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations SET updated_at").
		WithArgs(sqlmock.AnyArg(), "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = NewHistory(conn).Append(context.Background(), "c1", Message{Role: "user", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store message")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryCreateError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("INSERT INTO conversations").
		WillReturnError(errors.New("database is locked"))

	_, err = NewHistory(conn).Create(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create conversation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryListScanError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	rows := sqlmock.NewRows([]string{"id", "title", "model", "created_at", "updated_at"}).
		AddRow("c1", "t", "m", "not a time", "not a time")
	mock.ExpectQuery("SELECT id, title, model, created_at, updated_at FROM conversations").
		WillReturnRows(rows)

	_, err = NewHistory(conn).List(context.Background(), 10)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryClosedDatabase(t *testing.T) {
	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "chat.db"), nil)
	require.NoError(t, err)
	h := NewHistory(conn)
	conn.Close()

	_, err = h.List(context.Background(), 0)
	assert.True(t, errors.Is(err, db.ErrDatabaseClosed))
}

func TestHistoryPath(t *testing.T) {
	assert.Equal(t, "/tmp/x/chat.db", HistoryPath(settings.ChatSettings{HistoryPath: "/tmp/x/chat.db"}))
	assert.Equal(t, filepath.Join(settings.Dir(), "chat.db"), HistoryPath(settings.ChatSettings{}))
}

func TestOpenHistory(t *testing.T) {
	h, closeFn, err := OpenHistory(filepath.Join(t.TempDir(), "sub", "chat.db"), nil)
	require.NoError(t, err)
	defer closeFn()

	_, err = h.Create(context.Background(), "t", "m")
	assert.NoError(t, err)
}
