package agent

import (
	"time"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/flow"
	"github.com/hupe1980/vaagent/model"
	"github.com/hupe1980/vaagent/tool"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Instruction        Instruction
	Description        string
	Tools              *tool.Registry
	Next               Route
	EnableStreaming    bool
	MaxCycles          int
	ModelTimeout       time.Duration
	ToolTimeout        time.Duration
	MaxParallelTools   int
	MaxHistoryMessages int
}

// ModelAgent answers with a language model, optionally calling tools in a
// bounded loop. Its final assistant message is attributed to the agent name.
type ModelAgent struct {
	BaseAgent
	loop *flow.ToolLoop
	next Route
}

var _ Worker = (*ModelAgent)(nil)

// NewModelAgent creates a model-backed agent with sensible defaults:
//   - streaming enabled
//   - at most 10 tool cycles per run
//   - 60s per model call, 30s per tool call
//   - Next = RouteEnd
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	defaults := flow.DefaultOptions()

	opts := ModelAgentOptions{
		Next:            RouteEnd,
		EnableStreaming: defaults.Stream,
		MaxCycles:       defaults.MaxCycles,
		ModelTimeout:    defaults.ModelTimeout,
		ToolTimeout:     defaults.ToolTimeout,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	base := NewBaseAgent(name)
	if opts.Description != "" {
		base.SetDescription(opts.Description)
	}

	loop := flow.NewToolLoop(llm, opts.Tools, func(o *flow.Options) {
		o.Instruction = opts.Instruction.Func()
		o.Stream = opts.EnableStreaming
		o.MaxCycles = opts.MaxCycles
		o.ModelTimeout = opts.ModelTimeout
		o.ToolTimeout = opts.ToolTimeout
		o.MaxParallel = opts.MaxParallelTools
		o.MaxHistoryMessages = opts.MaxHistoryMessages
	})

	return &ModelAgent{BaseAgent: base, loop: loop, next: opts.Next}
}

// Tools returns the tools available to the agent.
func (a *ModelAgent) Tools() *tool.Registry { return a.loop.Tools() }

// Run executes the tool loop and returns the committed final message.
func (a *ModelAgent) Run(runCtx *core.RunContext) (*Result, error) {
	runCtx = runCtx.ForAgent(a.Name())

	runCtx.LogDebug("agent.run.start", "tools", a.loop.Tools().Len())

	msg, err := a.loop.Run(runCtx)
	if err != nil {
		return nil, err
	}

	return &Result{Messages: []core.Message{msg}, Next: a.next}, nil
}

// NewEnhancer creates the query refinement agent: one streamed model call
// without tools, handing control back to the supervisor.
func NewEnhancer(llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	return NewModelAgent(NameEnhancer, llm, append([]func(o *ModelAgentOptions){
		func(o *ModelAgentOptions) {
			o.Instruction = NewInstructionFromText(EnhancerInstruction)
			o.Description = "Refines vague requests into precise instructions"
			o.Next = RouteSupervisor
		},
	}, optFns...)...)
}

// NewResearcher creates the research agent bound to the search tool only.
func NewResearcher(llm model.Model, search tool.Tool, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	return NewModelAgent(NameResearcher, llm, append([]func(o *ModelAgentOptions){
		func(o *ModelAgentOptions) {
			o.Instruction = NewInstructionFromText(ResearcherInstruction)
			o.Description = "Gathers facts and sources from the web"
			o.Tools = tool.NewRegistry(search)
		},
	}, optFns...)...)
}

// NewTaskAgent creates the task management agent bound to the given tools.
func NewTaskAgent(llm model.Model, tools []tool.Tool, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	return NewModelAgent(NameTaskAgent, llm, append([]func(o *ModelAgentOptions){
		func(o *ModelAgentOptions) {
			o.Instruction = NewInstructionFromText(TaskAgentInstruction)
			o.Description = "Manages tasks and task groups"
			o.Tools = tool.NewRegistry(tools...)
		},
	}, optFns...)...)
}
