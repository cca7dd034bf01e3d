package flow

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/tool"
)

// Outcome is the result of one tool call.
type Outcome struct {
	Call     core.ToolCall
	Result   any
	Err      error
	Duration time.Duration
}

// Message renders the outcome as the tool message answering its call.
func (o Outcome) Message() core.Message {
	return core.NewToolMessage(o.Call, tool.EncodeResult(o.Call.Name, o.Result, o.Err))
}

// FunctionExecutor executes the tool calls of one tool step. Implementations must:
//   - Respect runCtx.Context cancellation
//   - Never panic (recover internally and report a PANIC tool error)
//   - Return exactly one Outcome per call, in declaration order
//   - Emit tool_start and tool_end raw events for every dispatched call
type FunctionExecutor interface {
	Execute(runCtx *core.RunContext, calls []core.ToolCall) []Outcome
}

// FunctionExecutorConfig configures the default parallel executor.
type FunctionExecutorConfig struct {
	MaxParallel    int           // 0 or <1 => no explicit limit (len(calls))
	Timeout        time.Duration // per call; 0 disables
	LogStartEvents bool          // log a start line per call
}

// parallelFunctionExecutor is the default implementation.
type parallelFunctionExecutor struct {
	tools  *tool.Registry
	cfg    FunctionExecutorConfig
	tracer trace.Tracer
}

// NewParallelFunctionExecutor constructs a new executor dispatching through tools.
func NewParallelFunctionExecutor(tools *tool.Registry, cfg FunctionExecutorConfig) FunctionExecutor {
	return &parallelFunctionExecutor{tools: tools, cfg: cfg, tracer: tracer()}
}

func (e *parallelFunctionExecutor) Execute(runCtx *core.RunContext, calls []core.ToolCall) []Outcome {
	n := len(calls)
	if n == 0 {
		return nil
	}

	outcomes := make([]Outcome, n)

	// Fast path: single call, execute inline.
	if n == 1 {
		outcomes[0] = e.executeOne(runCtx, calls[0])
		return outcomes
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var wg sync.WaitGroup

	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()

	for i := range calls {
		outcomes[i] = Outcome{Call: calls[i]}

		if runCtx.Err() != nil { // pre-check cancellation
			outcomes[i].Err = tool.WrapError(calls[i].Name, runCtx.Err())
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			outcomes[i].Err = tool.WrapError(calls[i].Name, runCtx.Err())
			continue
		}

		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			outcomes[idx] = e.executeOne(runCtx, calls[idx])
		}(i)
	}

	wg.Wait()

	runCtx.LogDebug(
		"flow.tools.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return outcomes
}

func (e *parallelFunctionExecutor) executeOne(runCtx *core.RunContext, call core.ToolCall) Outcome {
	if e.cfg.LogStartEvents {
		runCtx.LogInfo("flow.tool.start", "tool", call.Name, "tool_call_id", call.ID)
	}

	_ = runCtx.EmitEvent(core.NewToolStartEvent(runCtx.Agent, call))

	ctx, span := e.tracer.Start(runCtx.Context, "flow.tool",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
			attribute.String("agent.name", runCtx.Agent),
		))
	defer span.End()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.invoke(ctx, runCtx, call)
	dur := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	runCtx.LogInfo(
		"flow.tool.executed",
		"tool", call.Name,
		"tool_call_id", call.ID,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	// tool_end is reported even when the turn is being cancelled; EmitEvent
	// drops it if the consumer is gone.
	_ = runCtx.EmitEvent(core.NewToolEndEvent(runCtx.Agent, call, result, err, dur))

	return Outcome{Call: call, Result: result, Err: err, Duration: dur}
}

// invoke runs the call on its own goroutine so a tool ignoring its context
// cannot hold the step past its deadline.
func (e *parallelFunctionExecutor) invoke(ctx context.Context, runCtx *core.RunContext, call core.ToolCall) (any, error) {
	type res struct {
		val any
		err error
	}

	done := make(chan res, 1)

	go func() {
		var r res

		defer func() {
			if rec := recover(); rec != nil {
				runCtx.LogError("flow.tool.panic", "tool", call.Name, "recover", fmt.Sprint(rec))
				r = res{err: panicError(call.Name, rec)}
			}
			done <- r
		}()

		r.val, r.err = e.tools.Invoke(ctx, call)
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, tool.WrapError(call.Name, ctx.Err())
	}
}

// panicError converts a recovered panic value into a PANIC tool error.
func panicError(toolName string, r any) error {
	return &tool.ToolError{
		Tool:    toolName,
		Message: fmt.Sprintf("panic recovered: %v", r),
		Code:    tool.CodePanic,
		Details: string(debug.Stack()),
	}
}
