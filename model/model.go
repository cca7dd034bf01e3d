package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/vaagent/core"
)

// ToolDefinition describes a callable tool exposed to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition is the name, description and JSON schema of a tool.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// NewToolDefinition builds a function tool definition.
func NewToolDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type:     "function",
		Function: FunctionDefinition{Name: name, Description: description, Parameters: parameters},
	}
}

// Request is a provider-agnostic generation request.
//
// ToolChoice names a tool the model must call ("" lets the model decide).
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	ToolChoice   string           `json:"tool_choice,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage reports token consumption of one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one item of a generation stream. Partial responses carry a text
// Delta; the single final response carries the complete assistant Message.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Delta        string       `json:"delta,omitempty"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info describes a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model generates assistant messages. Generate returns a response channel and
// an error channel; both are closed when generation ends. Implementations
// must stop promptly when ctx is cancelled.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	Info() Info
}

// Collect drains a generation, invoking onDelta for each partial text
// fragment, and returns the final message.
func Collect(ctx context.Context, m Model, req Request, onDelta func(string) error) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				if r.Delta != "" && onDelta != nil {
					if err := onDelta(r.Delta); err != nil {
						return Response{}, err
					}
				}
				continue
			}
			rr := r
			final = &rr
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if final == nil {
		return Response{}, fmt.Errorf("model %s returned no final response", m.Info().Name)
	}

	final.Message.Role = core.RoleAssistant

	return *final, nil
}

// MockTurn scripts one MockModel reply.
type MockTurn struct {
	Message core.Message
	Err     error
	Delay   time.Duration
}

// MockModel replays scripted turns in order and records every request. When
// the script is exhausted it echoes the last user message.
type MockModel struct {
	info Info

	mu       sync.Mutex
	script   []MockTurn
	requests []Request
}

// NewMockModel creates an empty scripted model.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
	}
}

// Enqueue appends scripted turns.
func (m *MockModel) Enqueue(turns ...MockTurn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, turns...)
	return m
}

// Reply scripts a plain text answer.
func (m *MockModel) Reply(text string) *MockModel {
	return m.Enqueue(MockTurn{Message: core.Message{Role: core.RoleAssistant, Content: text}})
}

// ReplyToolCalls scripts an assistant message requesting the given calls.
func (m *MockModel) ReplyToolCalls(calls ...core.ToolCall) *MockModel {
	return m.Enqueue(MockTurn{Message: core.Message{Role: core.RoleAssistant, ToolCalls: calls}})
}

// Fail scripts a failed call.
func (m *MockModel) Fail(err error) *MockModel {
	return m.Enqueue(MockTurn{Err: err})
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Remaining returns the number of unconsumed scripted turns.
func (m *MockModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.script)
}

func (m *MockModel) next(req Request) MockTurn {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.script) > 0 {
		t := m.script[0]
		m.script = m.script[1:]
		return t
	}

	var input string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			input = req.Messages[i].Content
			break
		}
	}

	return MockTurn{Message: core.Message{Role: core.RoleAssistant, Content: fmt.Sprintf("Mock response to: %s", input)}}
}

// Generate implements Model. Streaming requests receive the text split at
// word boundaries before the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	turn := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if turn.Delay > 0 {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(turn.Delay):
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		msg := turn.Message
		msg.Role = core.RoleAssistant

		if req.Stream && msg.Content != "" {
			for _, chunk := range strings.SplitAfter(msg.Content, " ") {
				if chunk == "" {
					continue
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Delta: chunk}:
				}
			}
		}

		finish := "stop"
		if msg.HasToolCalls() {
			finish = "tool_calls"
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Message: msg, FinishReason: finish}:
		}
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
