// Package tasks exposes taskstore operations as tools for the task agent.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/vaagent/taskstore"
	"github.com/hupe1980/vaagent/tool"
)

// Tool names.
const (
	CreateTask      = "create_task"
	UpdateTask      = "update_task"
	GetTask         = "get_task"
	DeleteTask      = "delete_task"
	ListTasks       = "list_tasks"
	CreateTaskGroup = "create_task_group"
	UpdateTaskGroup = "update_task_group"
	DeleteTaskGroup = "delete_task_group"
	ListTaskGroups  = "list_task_groups"
)

type createTaskArgs struct {
	Title       string `json:"title" description:"Short title of the task"`
	Description string `json:"description,omitempty" description:"Optional longer description"`
	Status      string `json:"status,omitempty" description:"Initial status: pending, completed or archived. Defaults to pending"`
	GroupID     string `json:"group_id,omitempty" description:"Id of the task group the task belongs to"`
}

type updateTaskArgs struct {
	TaskID      string `json:"task_id" description:"Id of the task to update"`
	Title       string `json:"title,omitempty" description:"New title; empty keeps the current value"`
	Description string `json:"description,omitempty" description:"New description; empty keeps the current value"`
	Status      string `json:"status,omitempty" description:"New status (pending, completed or archived); empty keeps the current value"`
	GroupID     string `json:"group_id,omitempty" description:"New task group id; empty keeps the current value"`
}

type taskIDArgs struct {
	TaskID string `json:"task_id" description:"Id of the task"`
}

type listTasksArgs struct {
	GroupID string `json:"group_id,omitempty" description:"Only list tasks of this task group"`
	Status  string `json:"status,omitempty" description:"Only list tasks with this status (pending, completed or archived)"`
}

type createGroupArgs struct {
	Name        string `json:"name" description:"Name of the task group"`
	Description string `json:"description,omitempty" description:"Optional description"`
}

type updateGroupArgs struct {
	GroupID     string `json:"group_id" description:"Id of the task group to update"`
	Name        string `json:"name,omitempty" description:"New name; empty keeps the current value"`
	Description string `json:"description,omitempty" description:"New description; empty keeps the current value"`
}

type groupIDArgs struct {
	GroupID string `json:"group_id" description:"Id of the task group"`
}

type listGroupsArgs struct {
	IncludeTasks bool `json:"include_tasks,omitempty" description:"Include the tasks of each group"`
}

// NewTools returns all task tools bound to store.
func NewTools(store taskstore.Store) []tool.Tool {
	return []tool.Tool{
		tool.NewFunctionToolFromStruct(CreateTask, "Create a new task, optionally inside a task group.", createTaskArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				return wrap[taskstore.Task](CreateTask)(store.CreateTask(ctx, taskstore.TaskCreate{
					Title:       str(args, "title"),
					Description: str(args, "description"),
					Status:      taskstore.Status(str(args, "status")),
					GroupID:     str(args, "group_id"),
				}))
			}),
		tool.NewFunctionToolFromStruct(UpdateTask, "Update a task by id. Only non-empty fields are changed.", updateTaskArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				in := taskstore.TaskUpdate{
					Title:       optional(args, "title"),
					Description: optional(args, "description"),
					GroupID:     optional(args, "group_id"),
				}
				if s := optional(args, "status"); s != nil {
					st := taskstore.Status(*s)
					in.Status = &st
				}
				return wrap[taskstore.Task](UpdateTask)(store.UpdateTask(ctx, str(args, "task_id"), in))
			}),
		tool.NewFunctionToolFromStruct(GetTask, "Get a single task by id.", taskIDArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				return wrap[taskstore.Task](GetTask)(store.GetTask(ctx, str(args, "task_id")))
			}),
		tool.NewFunctionToolFromStruct(DeleteTask, "Delete a task by id.", taskIDArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				id := str(args, "task_id")
				if err := store.DeleteTask(ctx, id); err != nil {
					return nil, toolError(DeleteTask, err)
				}
				return map[string]any{"deleted": true, "task_id": id}, nil
			}),
		tool.NewFunctionToolFromStruct(ListTasks, "List tasks, optionally filtered by task group or status.", listTasksArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				tasks, err := store.ListTasks(ctx, taskstore.ListOptions{
					GroupID: str(args, "group_id"),
					Status:  taskstore.Status(str(args, "status")),
				})
				if err != nil {
					return nil, toolError(ListTasks, err)
				}
				return map[string]any{"tasks": tasks, "count": len(tasks)}, nil
			}),
		tool.NewFunctionToolFromStruct(CreateTaskGroup, "Create a new task group.", createGroupArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				return wrap[taskstore.Group](CreateTaskGroup)(store.CreateGroup(ctx, taskstore.GroupCreate{
					Name:        str(args, "name"),
					Description: str(args, "description"),
				}))
			}),
		tool.NewFunctionToolFromStruct(UpdateTaskGroup, "Update a task group by id. Only non-empty fields are changed.", updateGroupArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				return wrap[taskstore.Group](UpdateTaskGroup)(store.UpdateGroup(ctx, str(args, "group_id"), taskstore.GroupUpdate{
					Name:        optional(args, "name"),
					Description: optional(args, "description"),
				}))
			}),
		tool.NewFunctionToolFromStruct(DeleteTaskGroup, "Delete a task group and all of its tasks.", groupIDArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				id := str(args, "group_id")
				if err := store.DeleteGroup(ctx, id); err != nil {
					return nil, toolError(DeleteTaskGroup, err)
				}
				return map[string]any{"deleted": true, "group_id": id}, nil
			}),
		tool.NewFunctionToolFromStruct(ListTaskGroups, "List all task groups.", listGroupsArgs{},
			func(ctx context.Context, args map[string]any) (any, error) {
				withTasks, _ := args["include_tasks"].(bool)
				groups, err := store.ListGroups(ctx, withTasks)
				if err != nil {
					return nil, toolError(ListTaskGroups, err)
				}
				return map[string]any{"groups": groups, "count": len(groups)}, nil
			}),
	}
}

// Names returns the names of the task tools in registration order.
func Names() []string {
	return []string{
		CreateTask, UpdateTask, GetTask, DeleteTask, ListTasks,
		CreateTaskGroup, UpdateTaskGroup, DeleteTaskGroup, ListTaskGroups,
	}
}

func wrap[T any](name string) func(*T, error) (any, error) {
	return func(v *T, err error) (any, error) {
		if err != nil {
			return nil, toolError(name, err)
		}
		return v, nil
	}
}

func toolError(name string, err error) error {
	switch {
	case taskstore.IsNotFound(err):
		return &tool.ToolError{Tool: name, Message: err.Error(), Code: tool.CodeNotFound}
	case errors.Is(err, taskstore.ErrInvalidInput):
		return &tool.ToolError{Tool: name, Message: err.Error(), Code: tool.CodeValidation}
	default:
		return fmt.Errorf("%s: %w", name, err)
	}
}

func str(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// optional treats an absent or empty string argument as "unchanged".
func optional(args map[string]any, key string) *string {
	s := str(args, key)
	if s == "" {
		return nil
	}
	return &s
}
