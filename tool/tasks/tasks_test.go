package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/internal/sqldb"
	"github.com/hupe1980/vaagent/taskstore"
	"github.com/hupe1980/vaagent/tool"
)

func newRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	db, dialect, err := sqldb.Open(context.Background(), sqldb.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := taskstore.NewSQLStore(db, dialect)
	require.NoError(t, store.Migrate(context.Background()))

	return tool.NewRegistry(NewTools(store)...)
}

func invoke(t *testing.T, reg *tool.Registry, name string, args map[string]any) (any, error) {
	t.Helper()
	return reg.Invoke(context.Background(), core.ToolCall{ID: "call-" + name, Name: name, Arguments: args})
}

func TestNames_MatchRegisteredTools(t *testing.T) {
	reg := newRegistry(t)
	assert.Equal(t, Names(), reg.Names())
}

func TestTaskTools_Lifecycle(t *testing.T) {
	reg := newRegistry(t)

	out, err := invoke(t, reg, CreateTaskGroup, map[string]any{"name": "groceries"})
	require.NoError(t, err)
	group := out.(*taskstore.Group)

	out, err = invoke(t, reg, CreateTask, map[string]any{"title": "milk", "group_id": group.ID, "description": ""})
	require.NoError(t, err)
	task := out.(*taskstore.Task)
	assert.Equal(t, taskstore.StatusPending, task.Status)
	assert.Equal(t, group.ID, task.GroupID)

	// empty strings leave fields unchanged
	out, err = invoke(t, reg, UpdateTask, map[string]any{"task_id": task.ID, "title": "", "status": "completed"})
	require.NoError(t, err)
	updated := out.(*taskstore.Task)
	assert.Equal(t, "milk", updated.Title)
	assert.Equal(t, taskstore.StatusCompleted, updated.Status)

	out, err = invoke(t, reg, GetTask, map[string]any{"task_id": task.ID})
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusCompleted, out.(*taskstore.Task).Status)

	out, err = invoke(t, reg, ListTasks, map[string]any{"group_id": group.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["count"])

	out, err = invoke(t, reg, UpdateTaskGroup, map[string]any{"group_id": group.ID, "description": "weekly"})
	require.NoError(t, err)
	assert.Equal(t, "groceries", out.(*taskstore.Group).Name)

	out, err = invoke(t, reg, ListTaskGroups, map[string]any{"include_tasks": true})
	require.NoError(t, err)
	groups := out.(map[string]any)["groups"].([]taskstore.Group)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Tasks, 1)

	_, err = invoke(t, reg, DeleteTaskGroup, map[string]any{"group_id": group.ID})
	require.NoError(t, err)

	_, err = invoke(t, reg, GetTask, map[string]any{"task_id": task.ID})
	var te *tool.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tool.CodeNotFound, te.Code)
}

func TestTaskTools_Errors(t *testing.T) {
	reg := newRegistry(t)

	_, err := invoke(t, reg, CreateTask, map[string]any{})
	var te *tool.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tool.CodeValidation, te.Code)

	_, err = invoke(t, reg, CreateTask, map[string]any{"title": "x", "status": "someday"})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tool.CodeValidation, te.Code)

	_, err = invoke(t, reg, DeleteTask, map[string]any{"task_id": "missing"})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tool.CodeNotFound, te.Code)

	_, err = invoke(t, reg, ListTasks, map[string]any{"status": "done"})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tool.CodeValidation, te.Code)
}
