package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/vaagent/logging"
)

// RunContext carries the execution scope of one turn. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (ThreadID, TurnID, the current Agent name)
//   - The checkpoint store and a working snapshot of the thread
//   - The channel raw events are pushed to
//
// Derived contexts (ForAgent, WithContext) share the thread snapshot so a
// message committed by one agent is visible to the next.
type RunContext struct {
	Context  context.Context
	ThreadID string
	TurnID   string
	Agent    string
	Store    CheckpointStore
	Emit     chan<- Event

	thread *sharedThread
	*loggerAdapter
}

type sharedThread struct {
	mu     sync.RWMutex
	thread *Thread
}

// NewRunContext constructs a RunContext over a loaded thread snapshot.
func NewRunContext(
	ctx context.Context,
	thread *Thread,
	turnID string,
	store CheckpointStore,
	emit chan<- Event,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:       ctx,
		ThreadID:      thread.ID,
		TurnID:        turnID,
		Store:         store,
		Emit:          emit,
		thread:        &sharedThread{thread: thread},
		loggerAdapter: newLoggerAdapter(logger, "thread_id", thread.ID, "turn_id", turnID),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// ForAgent derives a context attributed to the named agent.
func (rc *RunContext) ForAgent(name string) *RunContext {
	c := *rc
	c.Agent = name
	c.loggerAdapter = rc.loggerAdapter.with("agent", name)
	return &c
}

// WithContext derives a context using ctx for cancellation.
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	c := *rc
	c.Context = ctx
	return &c
}

// Messages returns a copy of the thread history including messages committed
// during this turn.
func (rc *RunContext) Messages() []Message {
	rc.thread.mu.RLock()
	defer rc.thread.mu.RUnlock()

	out := make([]Message, len(rc.thread.thread.Messages))
	for i, m := range rc.thread.thread.Messages {
		out[i] = m.Clone()
	}
	return out
}

// Commit appends msgs to the checkpoint as one atomic batch and then to the
// working snapshot. Nothing is recorded locally if the store rejects the batch.
func (rc *RunContext) Commit(msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	if rc.Store == nil {
		return fmt.Errorf("checkpoint store not configured")
	}

	rc.thread.mu.Lock()
	defer rc.thread.mu.Unlock()

	if err := rc.Store.Append(rc.Context, rc.ThreadID, msgs...); err != nil {
		return fmt.Errorf("append to thread %s: %w", rc.ThreadID, err)
	}

	for _, m := range msgs {
		rc.thread.thread.Messages = append(rc.thread.thread.Messages, m.Clone())
	}

	return nil
}

// EmitEvent stamps ev with the turn identifiers and pushes it to the event
// channel. It blocks until the consumer accepts the event or the context ends.
func (rc *RunContext) EmitEvent(ev Event) error {
	ev.ThreadID = rc.ThreadID
	ev.TurnID = rc.TurnID
	if ev.Agent == "" {
		ev.Agent = rc.Agent
	}

	if rc.Emit == nil {
		return nil
	}

	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
	}

	return nil
}
