package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/internal/sqldb"
)

// Schema creates the checkpoint tables. The statements are valid for both
// sqlite and postgres.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS thread_messages (
		thread_id    TEXT    NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		role         TEXT    NOT NULL,
		name         TEXT    NOT NULL DEFAULT '',
		content      TEXT    NOT NULL DEFAULT '',
		tool_calls   TEXT    NOT NULL DEFAULT '',
		tool_call_id TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (thread_id, seq)
	)`,
}

// SQLStore persists threads through database/sql. Each Append runs in one
// transaction, so a batch is committed entirely or not at all.
type SQLStore struct {
	db      *sql.DB
	dialect sqldb.Dialect

	// appendMu serializes appends issued by this process.
	appendMu sync.Mutex

	*ThreadLocker
}

// NewSQLStore wraps an open handle. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect sqldb.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, ThreadLocker: NewThreadLocker()}
}

// Migrate creates the checkpoint tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate checkpoint schema: %w", err)
		}
	}
	return nil
}

// Create inserts an empty thread with a fresh id.
func (s *SQLStore) Create(ctx context.Context) (*core.Thread, error) {
	t := core.NewThread(core.NewID())
	now := sqldb.FormatTime(t.CreatedAt)

	q := s.dialect.Rebind(`INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, t.ID, now, now); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	return t, nil
}

// Load reads the thread and its messages in sequence order.
func (s *SQLStore) Load(ctx context.Context, id string) (*core.Thread, error) {
	var created, updated string

	q := s.dialect.Rebind(`SELECT created_at, updated_at FROM threads WHERE id = ?`)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	t := &core.Thread{ID: id, Messages: []core.Message{}}

	var err error
	if t.CreatedAt, err = sqldb.ParseTime(created); err != nil {
		return nil, fmt.Errorf("invalid created_at for thread %s: %w", id, err)
	}
	if t.UpdatedAt, err = sqldb.ParseTime(updated); err != nil {
		return nil, fmt.Errorf("invalid updated_at for thread %s: %w", id, err)
	}

	q = s.dialect.Rebind(`SELECT role, name, content, tool_calls, tool_call_id
		FROM thread_messages WHERE thread_id = ? ORDER BY seq ASC`)

	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         core.Message
			role      string
			toolCalls string
		)
		if err := rows.Scan(&role, &m.Name, &m.Content, &toolCalls, &m.ToolCallID); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = core.Role(role)
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("invalid tool calls in thread %s: %w", id, err)
			}
		}
		t.Messages = append(t.Messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return t, nil
}

// Append writes msgs after the thread's current last sequence number.
func (s *SQLStore) Append(ctx context.Context, id string, msgs ...core.Message) (err error) {
	if len(msgs) == 0 {
		return nil
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.dialect.Rebind(`UPDATE threads SET updated_at = ? WHERE id = ?`),
		sqldb.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to touch thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrThreadNotFound
	}

	var next int64
	if err = tx.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM thread_messages WHERE thread_id = ?`), id).Scan(&next); err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}

	insert := s.dialect.Rebind(`INSERT INTO thread_messages
		(thread_id, seq, role, name, content, tool_calls, tool_call_id) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	for i, m := range msgs {
		toolCalls := ""
		if len(m.ToolCalls) > 0 {
			b, mErr := json.Marshal(m.ToolCalls)
			if mErr != nil {
				err = fmt.Errorf("failed to encode tool calls: %w", mErr)
				return err
			}
			toolCalls = string(b)
		}

		if _, err = tx.ExecContext(ctx, insert, id, next+int64(i), string(m.Role), m.Name, m.Content, toolCalls, m.ToolCallID); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}

	return nil
}
