package chat

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/ghostline/db"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/settings"
)

// Conversation is one chat thread.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// History stores conversations in SQLite.
type History struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistory returns a history over a migrated database.
func NewHistory(conn *sql.DB) *History {
	return &History{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

// Create starts a conversation with a fresh id.
func (h *History) Create(ctx context.Context, title, model string) (Conversation, error) {
	now := h.now()
	c := Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Model, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Conversation{}, wrapDB(err, "failed to create conversation")
	}
	return c, nil
}

// Get returns the conversation with id, or errors.ErrNotFound.
func (h *History) Get(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := h.db.QueryRowContext(ctx,
		`SELECT id, title, model, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.Model, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, errors.Wrapf(errors.ErrNotFound, "conversation %s", id)
	}
	if err != nil {
		return Conversation{}, wrapDB(err, "failed to load conversation")
	}
	return c, nil
}

// List returns up to limit conversations, most recently updated first.
// A limit of zero or less means all.
func (h *History) List(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, title, model, created_at, updated_at FROM conversations
		 ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, wrapDB(err, "failed to list conversations")
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, wrapDB(err, "failed to scan conversation")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "failed to list conversations")
	}
	return out, nil
}

// Messages returns the turns of conversation id in order.
func (h *History) Messages(ctx context.Context, id string) ([]Message, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, wrapDB(err, "failed to load messages")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, wrapDB(err, "failed to scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "failed to load messages")
	}
	return out, nil
}

// Append adds msgs to conversation id in one transaction and bumps its
// updated_at.
func (h *History) Append(ctx context.Context, id string, msgs ...Message) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	now := h.now()
	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return wrapDB(err, "failed to touch conversation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "conversation %s", id)
	}

	for _, m := range msgs {
		at := m.CreatedAt
		if at.IsZero() {
			at = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			id, m.Role, m.Content, at); err != nil {
			return wrapDB(err, "failed to store message")
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapDB(err, "failed to commit messages")
	}
	return nil
}

// Delete removes conversation id and its messages.
func (h *History) Delete(ctx context.Context, id string) error {
	res, err := h.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return wrapDB(err, "failed to delete conversation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "conversation %s", id)
	}
	return nil
}

func wrapDB(err error, msg string) error {
	if db.IsDatabaseClosed(err) {
		return errors.Wrap(db.ErrDatabaseClosed, msg)
	}
	return errors.Wrap(err, msg)
}

// HistoryPath is where the history database lives for cfg.
func HistoryPath(cfg settings.ChatSettings) string {
	if cfg.HistoryPath != "" {
		return settings.ExpandPath(cfg.HistoryPath)
	}
	return filepath.Join(settings.Dir(), "chat.db")
}

// OpenHistory opens and migrates the database at path.
func OpenHistory(path string, log *zap.SugaredLogger) (*History, func() error, error) {
	conn, err := db.OpenWithMigrations(path, log)
	if err != nil {
		return nil, nil, err
	}
	return NewHistory(conn), conn.Close, nil
}
