// Package taskstore is the task management backend used by the task tools and
// the HTTP task API. Tasks optionally belong to one task group; deleting a
// group deletes its tasks.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTaskNotFound is returned when a task id is unknown.
	ErrTaskNotFound = errors.New("task not found")
	// ErrGroupNotFound is returned when a task group id is unknown.
	ErrGroupNotFound = errors.New("task group not found")
	// ErrInvalidInput is returned for missing required fields or bad values.
	ErrInvalidInput = errors.New("invalid input")
)

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrGroupNotFound)
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// ParseStatus validates a status string. The empty string maps to pending.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusPending:
		return StatusPending, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusArchived:
		return StatusArchived, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
}

// Task is a single to-do item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	GroupID     string    `json:"group_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Group is a named collection of tasks.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tasks       []Task `json:"tasks,omitempty"`
}

// TaskCreate holds the fields of a new task.
type TaskCreate struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	GroupID     string `json:"group_id"`
}

// TaskUpdate holds optional task changes; nil fields stay unchanged.
type TaskUpdate struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *Status `json:"status"`
	GroupID     *string `json:"group_id"`
}

// GroupCreate holds the fields of a new group.
type GroupCreate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GroupUpdate holds optional group changes; nil fields stay unchanged.
type GroupUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// ListOptions filters ListTasks.
type ListOptions struct {
	GroupID string
	Status  Status
}

// Store is the task persistence contract.
type Store interface {
	CreateTask(ctx context.Context, in TaskCreate) (*Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, id string, in TaskUpdate) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, opts ListOptions) ([]Task, error)

	CreateGroup(ctx context.Context, in GroupCreate) (*Group, error)
	GetGroup(ctx context.Context, id string, withTasks bool) (*Group, error)
	UpdateGroup(ctx context.Context, id string, in GroupUpdate) (*Group, error)
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context, withTasks bool) ([]Group, error)
}

func (in *TaskCreate) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	status, err := ParseStatus(string(in.Status))
	if err != nil {
		return err
	}
	in.Status = status

	return nil
}

func (in *GroupCreate) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	return nil
}

func (in TaskUpdate) apply(t *Task) error {
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
		}
		t.Title = title
	}

	if in.Description != nil {
		t.Description = *in.Description
	}

	if in.Status != nil {
		status, err := ParseStatus(string(*in.Status))
		if err != nil {
			return err
		}
		t.Status = status
	}

	if in.GroupID != nil {
		t.GroupID = *in.GroupID
	}

	return nil
}

func (in GroupUpdate) apply(g *Group) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		g.Name = name
	}

	if in.Description != nil {
		g.Description = *in.Description
	}

	return nil
}
