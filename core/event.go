package core

import (
	"time"
)

// EventKind classifies raw execution events emitted by the engine.
type EventKind string

const (
	// EventThreadCreated is emitted first when a turn starts a new conversation.
	EventThreadCreated EventKind = "thread_created"
	// EventRouted records a supervisor decision.
	EventRouted EventKind = "routed"
	// EventModelStart marks the beginning of a model call.
	EventModelStart EventKind = "model_start"
	// EventModelDelta carries an incremental fragment of assistant text.
	EventModelDelta EventKind = "model_delta"
	// EventModelEnd carries the complete assistant message of a model call.
	EventModelEnd EventKind = "model_end"
	// EventToolStart marks the dispatch of one tool call.
	EventToolStart EventKind = "tool_start"
	// EventToolEnd carries the raw result (or error) of one tool call.
	EventToolEnd EventKind = "tool_end"
	// EventError reports the fatal error that ends the turn.
	EventError EventKind = "error"
	// EventTurnEnd is the last event of every turn.
	EventTurnEnd EventKind = "turn_end"
)

// Event is one raw lifecycle notification of a running turn. Events are
// immutable after emission; only the fields relevant to Kind are set.
type Event struct {
	ID        string        `json:"id"`
	Kind      EventKind     `json:"kind"`
	ThreadID  string        `json:"thread_id"`
	TurnID    string        `json:"turn_id"`
	Agent     string        `json:"agent,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Delta     string        `json:"delta,omitempty"`
	Message   *Message      `json:"message,omitempty"`
	Call      *ToolCall     `json:"call,omitempty"`
	Result    any           `json:"result,omitempty"`
	Err       error         `json:"-"`
	Route     string        `json:"route,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a bare event of the given kind authored by agent.
func NewEvent(kind EventKind, agent string) Event {
	return Event{
		ID:        NewID(),
		Kind:      kind,
		Agent:     agent,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeltaEvent creates a model_delta event.
func NewDeltaEvent(agent, delta string) Event {
	ev := NewEvent(EventModelDelta, agent)
	ev.Delta = delta
	return ev
}

// NewModelEndEvent creates a model_end event for a completed assistant message.
func NewModelEndEvent(agent string, msg Message, dur time.Duration) Event {
	ev := NewEvent(EventModelEnd, agent)
	m := msg.Clone()
	ev.Message = &m
	ev.Duration = dur
	return ev
}

// NewToolStartEvent creates a tool_start event.
func NewToolStartEvent(agent string, call ToolCall) Event {
	ev := NewEvent(EventToolStart, agent)
	c := call
	ev.Call = &c
	return ev
}

// NewToolEndEvent creates a tool_end event. Exactly one of result and err is meaningful.
func NewToolEndEvent(agent string, call ToolCall, result any, err error, dur time.Duration) Event {
	ev := NewEvent(EventToolEnd, agent)
	c := call
	ev.Call = &c
	ev.Result = result
	ev.Err = err
	ev.Duration = dur
	return ev
}

// NewErrorEvent creates the error event that precedes turn_end on fatal failures.
func NewErrorEvent(agent string, err error) Event {
	ev := NewEvent(EventError, agent)
	ev.Err = err
	return ev
}

// NewRoutedEvent records a routing decision from agent to route.
func NewRoutedEvent(agent, route, reason string) Event {
	ev := NewEvent(EventRouted, agent)
	ev.Route = route
	ev.Reason = reason
	return ev
}

// Failed reports whether a tool_end event carries an error.
func (e Event) Failed() bool { return e.Err != nil }
