package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/internal/sqldb"
)

// Schema creates the task tables. The statements are valid for both sqlite and postgres.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS task_groups (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'pending',
		group_id    TEXT NULL REFERENCES task_groups(id) ON DELETE CASCADE,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_group_id ON tasks(group_id)`,
}

const taskColumns = `id, title, description, status, group_id, created_at, updated_at`

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect sqldb.Dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open handle. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect sqldb.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Migrate creates the task tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate task schema: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                Task
		status           string
		groupID          sql.NullString
		created, updated string
	)

	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &groupID, &created, &updated); err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.GroupID = groupID.String

	var err error
	if t.CreatedAt, err = sqldb.ParseTime(created); err != nil {
		return nil, fmt.Errorf("invalid created_at for task %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = sqldb.ParseTime(updated); err != nil {
		return nil, fmt.Errorf("invalid updated_at for task %s: %w", t.ID, err)
	}

	return &t, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLStore) groupExists(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) error {
	var one int
	err := q.QueryRowContext(ctx, s.dialect.Rebind(`SELECT 1 FROM task_groups WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up task group: %w", err)
	}
	return nil
}

// CreateTask inserts a task with a fresh id.
func (s *SQLStore) CreateTask(ctx context.Context, in TaskCreate) (*Task, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	if in.GroupID != "" {
		if err := s.groupExists(ctx, s.db, in.GroupID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	t := &Task{
		ID:          core.NewID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		GroupID:     in.GroupID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q := s.dialect.Rebind(`INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, t.ID, t.Title, t.Description, string(t.Status),
		nullable(t.GroupID), sqldb.FormatTime(now), sqldb.FormatTime(now)); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	return t, nil
}

// GetTask loads one task.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*Task, error) {
	q := s.dialect.Rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`)

	t, err := scanTask(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return t, nil
}

// UpdateTask applies the non-nil fields of in.
func (s *SQLStore) UpdateTask(ctx context.Context, id string, in TaskUpdate) (_ *Task, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := s.dialect.Rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`)

	t, err := scanTask(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if err = in.apply(t); err != nil {
		return nil, err
	}

	if in.GroupID != nil && t.GroupID != "" {
		if err = s.groupExists(ctx, tx, t.GroupID); err != nil {
			return nil, err
		}
	}

	t.UpdatedAt = s.now().UTC()

	q = s.dialect.Rebind(`UPDATE tasks SET title = ?, description = ?, status = ?, group_id = ?, updated_at = ? WHERE id = ?`)
	if _, err = tx.ExecContext(ctx, q, t.Title, t.Description, string(t.Status), nullable(t.GroupID),
		sqldb.FormatTime(t.UpdatedAt), id); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task update: %w", err)
	}

	return t, nil
}

// DeleteTask removes a task.
func (s *SQLStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListTasks returns tasks ordered by creation time.
func (s *SQLStore) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	if opts.Status != "" {
		status, err := ParseStatus(string(opts.Status))
		if err != nil {
			return nil, err
		}
		opts.Status = status
	}

	if opts.GroupID != "" {
		if err := s.groupExists(ctx, s.db, opts.GroupID); err != nil {
			return nil, err
		}
	}

	return s.listTasks(ctx, opts)
}

func (s *SQLStore) listTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`
	args := []any{}

	if opts.GroupID != "" {
		query += ` AND group_id = ?`
		args = append(args, opts.GroupID)
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, nil
}

// CreateGroup inserts a group with a fresh id.
func (s *SQLStore) CreateGroup(ctx context.Context, in GroupCreate) (*Group, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	g := &Group{ID: core.NewID(), Name: in.Name, Description: in.Description}

	q := s.dialect.Rebind(`INSERT INTO task_groups (id, name, description) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, g.ID, g.Name, g.Description); err != nil {
		return nil, fmt.Errorf("failed to create task group: %w", err)
	}

	return g, nil
}

// GetGroup loads one group, optionally with its tasks.
func (s *SQLStore) GetGroup(ctx context.Context, id string, withTasks bool) (*Group, error) {
	var g Group

	q := s.dialect.Rebind(`SELECT id, name, description FROM task_groups WHERE id = ?`)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&g.ID, &g.Name, &g.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get task group: %w", err)
	}

	if withTasks {
		tasks, err := s.listTasks(ctx, ListOptions{GroupID: id})
		if err != nil {
			return nil, err
		}
		g.Tasks = tasks
	}

	return &g, nil
}

// UpdateGroup applies the non-nil fields of in.
func (s *SQLStore) UpdateGroup(ctx context.Context, id string, in GroupUpdate) (*Group, error) {
	g, err := s.GetGroup(ctx, id, false)
	if err != nil {
		return nil, err
	}

	if err := in.apply(g); err != nil {
		return nil, err
	}

	q := s.dialect.Rebind(`UPDATE task_groups SET name = ?, description = ? WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, q, g.Name, g.Description, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update task group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrGroupNotFound
	}

	return g, nil
}

// DeleteGroup removes a group and all of its tasks in one transaction.
func (s *SQLStore) DeleteGroup(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM tasks WHERE group_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete group tasks: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM task_groups WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete task group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrGroupNotFound
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group delete: %w", err)
	}

	return nil
}

// ListGroups returns all groups ordered by name, optionally with their tasks.
func (s *SQLStore) ListGroups(ctx context.Context, withTasks bool) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description FROM task_groups ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list task groups: %w", err)
	}

	groups := []Group{}
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task group: %w", err)
		}
		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate task groups: %w", err)
	}
	rows.Close()

	if withTasks {
		for i := range groups {
			tasks, err := s.listTasks(ctx, ListOptions{GroupID: groups[i].ID})
			if err != nil {
				return nil, err
			}
			groups[i].Tasks = tasks
		}
	}

	return groups, nil
}
