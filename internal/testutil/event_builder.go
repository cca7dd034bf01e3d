package testutil

import (
	"time"

	"github.com/hupe1980/vaagent/core"
)

// EventBuilder records the raw events of one turn in emission order.
// Example:
//
//	evs := NewEventBuilder("thread-1").Created().Delta("enhancer", "Hi").TurnEnd().Events()
//
// Every event is stamped with the builder's thread and turn ids.
type EventBuilder struct {
	threadID string
	turnID   string
	events   []core.Event
}

// NewEventBuilder creates a builder for a turn on threadID.
func NewEventBuilder(threadID string) *EventBuilder {
	return &EventBuilder{threadID: threadID, turnID: "turn-1"}
}

// Turn overrides the turn id (chainable).
func (b *EventBuilder) Turn(id string) *EventBuilder { b.turnID = id; return b }

// Add appends arbitrary events (chainable).
func (b *EventBuilder) Add(evs ...core.Event) *EventBuilder {
	for _, ev := range evs {
		ev.ThreadID = b.threadID
		ev.TurnID = b.turnID
		b.events = append(b.events, ev)
	}
	return b
}

// Created appends thread_created (chainable).
func (b *EventBuilder) Created() *EventBuilder {
	return b.Add(core.NewEvent(core.EventThreadCreated, ""))
}

// Routed appends a supervisor decision (chainable).
func (b *EventBuilder) Routed(route, reason string) *EventBuilder {
	return b.Add(core.NewRoutedEvent("supervisor", route, reason))
}

// Delta appends a streamed text fragment (chainable).
func (b *EventBuilder) Delta(agent, text string) *EventBuilder {
	return b.Add(core.NewDeltaEvent(agent, text))
}

// Answer appends the model_start, delta and model_end events of a plain
// text answer (chainable).
func (b *EventBuilder) Answer(agent, text string) *EventBuilder {
	return b.Add(
		core.NewEvent(core.EventModelStart, agent),
		core.NewDeltaEvent(agent, text),
		core.NewModelEndEvent(agent, core.NewAssistantMessage(agent, text), time.Millisecond),
	)
}

// ToolRound appends a model_end requesting call followed by its tool_start
// and tool_end events (chainable).
func (b *EventBuilder) ToolRound(agent string, call core.ToolCall, result any, err error) *EventBuilder {
	msg := core.NewAssistantMessage(agent, "")
	msg.ToolCalls = []core.ToolCall{call}

	return b.Add(
		core.NewModelEndEvent(agent, msg, time.Millisecond),
		core.NewToolStartEvent(agent, call),
		core.NewToolEndEvent(agent, call, result, err, time.Millisecond),
	)
}

// Error appends a fatal error event (chainable).
func (b *EventBuilder) Error(agent string, err error) *EventBuilder {
	return b.Add(core.NewErrorEvent(agent, err))
}

// TurnEnd appends turn_end (chainable).
func (b *EventBuilder) TurnEnd() *EventBuilder {
	return b.Add(core.NewEvent(core.EventTurnEnd, ""))
}

// Events returns a copy of the recorded events.
func (b *EventBuilder) Events() []core.Event {
	return append([]core.Event(nil), b.events...)
}

// Channel returns a closed, buffered channel holding the recorded events,
// shaped like the stream returned by the engine.
func (b *EventBuilder) Channel() <-chan core.Event {
	ch := make(chan core.Event, len(b.events))
	for _, ev := range b.events {
		ch <- ev
	}
	close(ch)

	return ch
}
