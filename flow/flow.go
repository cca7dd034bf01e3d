// Package flow implements the bounded tool-invocation loop used by
// tool-capable agents.
//
// The loop alternates between a model step, which streams one assistant
// message, and a tool step, which executes every call that message requests.
// It ends when the model answers without tool calls. Each assistant message is
// committed to the checkpoint together with the results of its calls in a
// single atomic append, so a thread never holds a call without its result.
package flow

import (
	"fmt"
	"time"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/model"
	"github.com/hupe1980/vaagent/tool"
)

// Options configures a ToolLoop.
type Options struct {
	// Instruction resolves the system instruction for each model step.
	Instruction InstructionFunc

	// MaxCycles bounds the number of tool steps per run (0 = unlimited).
	MaxCycles int

	// ModelTimeout bounds each model call (0 = no timeout).
	ModelTimeout time.Duration

	// ToolTimeout bounds each tool call (0 = no timeout).
	ToolTimeout time.Duration

	// MaxParallel bounds concurrent tool calls within one step (0 = all).
	MaxParallel int

	// MaxHistoryMessages limits the history sent to the model (0 = all).
	MaxHistoryMessages int

	// Stream requests incremental deltas from the model.
	Stream bool

	// Executor overrides the default parallel executor.
	Executor FunctionExecutor
}

// DefaultOptions returns the defaults used by NewToolLoop.
func DefaultOptions() Options {
	return Options{
		MaxCycles:    10,
		ModelTimeout: 60 * time.Second,
		ToolTimeout:  30 * time.Second,
		Stream:       true,
	}
}

// ToolLoop drives model and tool steps for one agent.
type ToolLoop struct {
	model      model.Model
	tools      *tool.Registry
	executor   FunctionExecutor
	processors []RequestProcessor
	opts       Options
}

// NewToolLoop creates a loop over m that may call the tools in tools.
func NewToolLoop(m model.Model, tools *tool.Registry, optFns ...func(o *Options)) *ToolLoop {
	opts := DefaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	if tools == nil {
		tools = tool.NewRegistry()
	}

	executor := opts.Executor
	if executor == nil {
		executor = NewParallelFunctionExecutor(tools, FunctionExecutorConfig{
			MaxParallel: opts.MaxParallel,
			Timeout:     opts.ToolTimeout,
		})
	}

	return &ToolLoop{
		model:    m,
		tools:    tools,
		executor: executor,
		processors: []RequestProcessor{
			NewInstructionsProcessor(opts.Instruction),
			NewContentsProcessor(opts.MaxHistoryMessages),
		},
		opts: opts,
	}
}

// Tools returns the registry the loop dispatches to.
func (l *ToolLoop) Tools() *tool.Registry { return l.tools }

// Run executes the loop for runCtx.Agent and returns the final assistant
// message, which has already been committed.
//
// Errors: *core.ModelError for failed model calls, core.ErrToolLoopExceeded
// when MaxCycles tool steps did not settle the answer, the context error on
// cancellation, or a commit error from the store.
func (l *ToolLoop) Run(runCtx *core.RunContext) (core.Message, error) {
	limiter := core.NewLimiter(l.opts.MaxCycles, core.ErrToolLoopExceeded)

	for {
		msg, err := l.modelStep(runCtx)
		if err != nil {
			return core.Message{}, err
		}

		if !msg.HasToolCalls() {
			if err := runCtx.Commit(msg); err != nil {
				return core.Message{}, err
			}

			return msg, nil
		}

		if err := limiter.Increment(); err != nil {
			runCtx.LogWarn("flow.loop.exceeded", "cycles", limiter.Count()-1, "max", l.opts.MaxCycles)
			return core.Message{}, err
		}

		results, err := l.toolStep(runCtx, msg.ToolCalls)
		if err != nil {
			return core.Message{}, err
		}

		batch := make([]core.Message, 0, len(results)+1)
		batch = append(batch, msg)
		batch = append(batch, results...)

		if err := runCtx.Commit(batch...); err != nil {
			return core.Message{}, err
		}
	}
}

func (l *ToolLoop) modelStep(runCtx *core.RunContext) (core.Message, error) {
	req, err := BuildRequest(runCtx, l.processors...)
	if err != nil {
		return core.Message{}, err
	}

	if l.tools.Len() > 0 {
		req.Tools = l.tools.Definitions()
	}

	req.Stream = l.opts.Stream

	return Generate(runCtx, l.model, req, l.opts.ModelTimeout)
}

// toolStep executes calls and returns one tool message per call in
// declaration order. A cancelled turn yields its context error and no results.
func (l *ToolLoop) toolStep(runCtx *core.RunContext, calls []core.ToolCall) ([]core.Message, error) {
	outcomes := l.executor.Execute(runCtx, calls)

	if err := runCtx.Err(); err != nil {
		return nil, err
	}

	if len(outcomes) != len(calls) {
		return nil, fmt.Errorf("executor returned %d outcomes for %d calls", len(outcomes), len(calls))
	}

	results := make([]core.Message, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.Message()
	}

	return results, nil
}
