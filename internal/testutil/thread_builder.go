package testutil

import (
	"context"

	"github.com/hupe1980/vaagent/core"
)

// ThreadBuilder helps construct conversation histories with fluent chaining.
// Example:
//
//	th := NewThreadBuilder("t-1").User("hi").Assistant("enhancer", "hello").Build()
type ThreadBuilder struct {
	id   string
	msgs []core.Message
}

// NewThreadBuilder creates a new builder for a thread with the given id.
func NewThreadBuilder(id string) *ThreadBuilder {
	return &ThreadBuilder{id: id}
}

// User appends a user message (chainable).
func (b *ThreadBuilder) User(text string) *ThreadBuilder {
	b.msgs = append(b.msgs, core.NewUserMessage(text))
	return b
}

// Assistant appends an assistant message authored by agent (chainable).
func (b *ThreadBuilder) Assistant(agent, text string) *ThreadBuilder {
	b.msgs = append(b.msgs, core.NewAssistantMessage(agent, text))
	return b
}

// ToolRound appends an assistant message requesting call and the tool
// message answering it (chainable).
func (b *ThreadBuilder) ToolRound(agent string, call core.ToolCall, content string) *ThreadBuilder {
	msg := core.NewAssistantMessage(agent, "")
	msg.ToolCalls = []core.ToolCall{call}

	b.msgs = append(b.msgs, msg, core.NewToolMessage(call, content))

	return b
}

// Messages returns a copy of the recorded messages.
func (b *ThreadBuilder) Messages() []core.Message {
	out := make([]core.Message, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Build returns a *core.Thread holding the recorded messages.
func (b *ThreadBuilder) Build() *core.Thread {
	t := core.NewThread(b.id)
	t.Messages = b.Messages()

	return t
}

// Seed creates a thread in store, appends the recorded messages and returns
// the id the store assigned.
func (b *ThreadBuilder) Seed(ctx context.Context, store core.CheckpointStore) (string, error) {
	t, err := store.Create(ctx)
	if err != nil {
		return "", err
	}

	if len(b.msgs) > 0 {
		if err := store.Append(ctx, t.ID, b.Messages()...); err != nil {
			return "", err
		}
	}

	return t.ID, nil
}
