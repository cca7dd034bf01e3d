// Package tool implements the tool gateway that lets agents invoke structured
// capabilities (web search, task management) with schema validated arguments
// and a uniform error taxonomy that can be fed back to the model.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/vaagent/internal/util"
)

// Tool is a named, externally-implemented capability callable by an agent.
//
// Implementations must be safe for concurrent use: a single tool step may
// invoke the same tool several times in parallel.
type Tool interface {
	// Name returns the unique identifier the model uses to call the tool.
	Name() string

	// Description returns the natural language description shown to the model.
	Description() string

	// Parameters returns the JSON schema of the accepted arguments.
	Parameters() map[string]any

	// Call executes the tool. Arguments have been decoded from the model's JSON.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Error codes carried by ToolError.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeTimeout    = "TIMEOUT"
	CodeCancelled  = "CANCELLED"
	CodePanic      = "PANIC"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	cause   error
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}

	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ToolError) Unwrap() error { return e.cause }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// WrapError converts err into a *ToolError for the named tool. Existing tool
// errors pass through; context errors map to TIMEOUT or CANCELLED.
func WrapError(toolName string, err error) *ToolError {
	if err == nil {
		return nil
	}

	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	code := CodeExecution

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.Is(err, context.Canceled):
		code = CodeCancelled
	}

	return &ToolError{Tool: toolName, Message: err.Error(), Code: code, cause: err}
}

// EncodeResult renders a tool outcome as the content of a tool message.
// Failures become {"error": ..., "code": ...} so the model can react to them.
func EncodeResult(toolName string, result any, err error) string {
	if err != nil {
		te := WrapError(toolName, err)

		b, _ := json.Marshal(map[string]string{"error": te.Message, "code": te.Code})

		return string(b)
	}

	switch v := result.(type) {
	case nil:
		return "null"
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	}

	b, mErr := json.Marshal(result)
	if mErr != nil {
		b, _ = json.Marshal(map[string]string{"error": fmt.Sprintf("encode result: %v", mErr), "code": CodeExecution})
	}

	return string(b)
}
