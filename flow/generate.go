package flow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/model"
)

const instrumentationName = "github.com/hupe1980/vaagent/flow"

func tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

// Generate performs one model call on behalf of runCtx.Agent. It emits
// model_start, a model_delta per streamed fragment (when req.Stream is set)
// and model_end, then returns the assistant message named after the agent.
//
// Failures and timeouts are returned as *core.ModelError; cancellation of the
// turn itself is returned unwrapped.
func Generate(runCtx *core.RunContext, m model.Model, req model.Request, timeout time.Duration) (core.Message, error) {
	info := m.Info()

	ctx, span := tracer().Start(runCtx.Context, "flow.model",
		trace.WithAttributes(
			attribute.String("agent.name", runCtx.Agent),
			attribute.String("llm.provider", info.Provider),
			attribute.String("llm.model", info.Name),
			attribute.Bool("llm.stream", req.Stream),
		))
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := runCtx.EmitEvent(core.NewEvent(core.EventModelStart, runCtx.Agent)); err != nil {
		return core.Message{}, err
	}

	start := time.Now()

	resp, err := model.Collect(ctx, m, req, func(delta string) error {
		return runCtx.EmitEvent(core.NewDeltaEvent(runCtx.Agent, delta))
	})
	dur := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if runCtx.Err() != nil {
			return core.Message{}, runCtx.Err()
		}

		runCtx.LogError("flow.model.error", "model", info.Name, "duration_ms", dur.Milliseconds(), "error", err.Error())

		return core.Message{}, core.NewModelError(runCtx.Agent, err)
	}

	msg := resp.Message
	msg.Role = core.RoleAssistant
	msg.Name = runCtx.Agent

	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = "call_" + core.NewID()
		}
	}

	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
		)
	}

	runCtx.LogDebug("flow.model.completed",
		"model", info.Name,
		"duration_ms", dur.Milliseconds(),
		"tool_calls", len(msg.ToolCalls),
		"finish_reason", resp.FinishReason,
	)

	if err := runCtx.EmitEvent(core.NewModelEndEvent(runCtx.Agent, msg, dur)); err != nil {
		return core.Message{}, err
	}

	return msg, nil
}
