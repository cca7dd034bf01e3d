package core

import (
	"errors"
	"fmt"
)

var (
	// ErrThreadNotFound is returned by CheckpointStore.Load for unknown ids.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadBusy is returned when a turn is already running on the thread.
	ErrThreadBusy = errors.New("thread busy: a turn is already in progress")

	// ErrToolLoopExceeded terminates a turn whose tool loop hit its cycle cap.
	ErrToolLoopExceeded = errors.New("tool loop exceeded maximum cycles")

	// ErrStepLimitExceeded terminates a turn that routed between agents too often.
	ErrStepLimitExceeded = errors.New("agent step limit exceeded")

	// ErrInvalidDecision reports a supervisor output that names no known route.
	ErrInvalidDecision = errors.New("invalid routing decision")
)

// ModelError wraps a failed or timed-out model call. It is fatal for the turn.
type ModelError struct {
	Agent string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model invocation failed for %s: %v", e.Agent, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// NewModelError wraps err for the given agent.
func NewModelError(agent string, err error) *ModelError {
	return &ModelError{Agent: agent, Err: err}
}
