package core

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role identifies the author category of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to run a named tool. The tool-role Message
// answering it carries the same ID in ToolCallID.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ArgumentsJSON returns the arguments encoded as a JSON object.
func (c ToolCall) ArgumentsJSON() string {
	if len(c.Arguments) == 0 {
		return "{}"
	}

	b, err := json.Marshal(c.Arguments)
	if err != nil {
		return "{}"
	}

	return string(b)
}

// StringArg returns a string argument or "" when absent or not a string.
func (c ToolCall) StringArg(key string) string {
	if v, ok := c.Arguments[key].(string); ok {
		return v
	}
	return ""
}

// Message is one entry of a thread. Once appended it is never mutated.
//
// Name attributes assistant messages to the agent that produced them
// (supervisor, enhancer, researcher, task_agent). Tool-role messages set
// ToolCallID and Name to the answered call's id and tool name.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message attributed to author.
func NewAssistantMessage(author, content string) Message {
	return Message{Role: RoleAssistant, Name: author, Content: content}
}

// NewToolMessage creates the result message for call.
func NewToolMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Name: call.Name, ToolCallID: call.ID, Content: content}
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c.ToolCalls[i] = tc
			if tc.Arguments != nil {
				args := make(map[string]any, len(tc.Arguments))
				for k, v := range tc.Arguments {
					args[k] = v
				}
				c.ToolCalls[i].Arguments = args
			}
		}
	}
	return c
}

// NewID returns a random identifier used for threads, calls and turns.
func NewID() string { return uuid.NewString() }
