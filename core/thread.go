package core

import (
	"context"
	"time"
)

// Thread is the message history of one conversation, identified by the
// checkpoint id handed to clients.
type Thread struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewThread creates an empty thread with the given id.
func NewThread(id string) *Thread {
	now := time.Now().UTC()
	return &Thread{ID: id, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}
}

// Clone performs a deep copy so callers can diverge from the stored snapshot.
func (t *Thread) Clone() *Thread {
	c := &Thread{ID: t.ID, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt, Messages: make([]Message, len(t.Messages))}
	for i, m := range t.Messages {
		c.Messages[i] = m.Clone()
	}
	return c
}

// Last returns the final message, if any.
func (t *Thread) Last() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// CheckpointStore persists threads.
//
// Contract:
//   - Create allocates a fresh id and stores an empty thread
//   - Load returns ErrThreadNotFound for unknown ids and a copy otherwise
//   - Append adds all messages atomically; appends to one id are serialized
//   - Acquire grants a single writer per thread; a concurrent second caller
//     receives ErrThreadBusy. Different ids never contend.
type CheckpointStore interface {
	Create(ctx context.Context) (*Thread, error)
	Load(ctx context.Context, id string) (*Thread, error)
	Append(ctx context.Context, id string, msgs ...Message) error
	Acquire(id string) (func(), error)
}
