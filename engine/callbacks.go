package engine

import (
	"context"
	"time"

	"github.com/hupe1980/vaagent/agent"
	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/logging"
)

// CallbackType defines the lifecycle points of a turn where callbacks run.
//
// Callbacks hook into the engine without modifying it. They run synchronously
// on the turn goroutine, so they should be fast.
type CallbackType string

const (
	// CallbackTurnStart is triggered after the user message was persisted.
	CallbackTurnStart CallbackType = "turn_start"

	// CallbackBeforeAgent is triggered before a worker runs. An error aborts
	// the turn.
	CallbackBeforeAgent CallbackType = "before_agent"

	// CallbackAfterAgent is triggered after a worker returned, successfully
	// or not. Duration and Err are set.
	CallbackAfterAgent CallbackType = "after_agent"

	// CallbackOnError is triggered once when the turn fails.
	CallbackOnError CallbackType = "on_error"

	// CallbackTurnEnd is triggered last, for every turn.
	CallbackTurnEnd CallbackType = "turn_end"
)

// CallbackContext carries what a callback may inspect.
type CallbackContext struct {
	// RunContext is the scope of the running turn.
	RunContext *core.RunContext

	// Agent names the worker for agent callbacks.
	Agent string

	// Result is the worker output for successful after_agent callbacks.
	Result *agent.Result

	// Err is the failure for after_agent, on_error and turn_end callbacks.
	Err error

	// Duration of the agent step or of the whole turn.
	Duration time.Duration

	// NewThread reports whether the turn started a conversation.
	NewThread bool

	CallbackType CallbackType
}

// Callback is a turn lifecycle hook.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic. Only before_agent errors change
	// the outcome of a turn; other errors are logged.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(CallbackAfterAgent, func(ctx context.Context, c *CallbackContext) error {
//	    log.Printf("%s took %s", c.Agent, c.Duration)
//	    return nil
//	})
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks grouped by type.
//
// Registration is not synchronized: register everything before the first
// turn. Execution is safe for concurrent use afterwards.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback. Callbacks of one type run in
// registration order.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs all callbacks of callbackType and stops at the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	callbacks, exists := cm.callbacks[callbackType]
	if !exists {
		return nil
	}

	callbackCtx.CallbackType = callbackType

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback writes one structured line per lifecycle point.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle point with the turn identifiers.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}

	args := []any{"callback", string(c.callbackType)}

	if rc := callbackCtx.RunContext; rc != nil {
		args = append(args, "thread_id", rc.ThreadID, "turn_id", rc.TurnID)
	}

	if callbackCtx.Agent != "" {
		args = append(args, "agent", callbackCtx.Agent)
	}

	if callbackCtx.Duration > 0 {
		args = append(args, "duration_ms", callbackCtx.Duration.Milliseconds())
	}

	if callbackCtx.Err != nil {
		args = append(args, "error", callbackCtx.Err.Error())
		c.logger.Warn("engine.callback", args...)

		return nil
	}

	c.logger.Info("engine.callback", args...)

	return nil
}
