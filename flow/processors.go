package flow

import (
	"fmt"
	"time"

	"github.com/hupe1980/vaagent/core"
	internalutil "github.com/hupe1980/vaagent/internal/util"
	"github.com/hupe1980/vaagent/model"
)

// InstructionFunc resolves the system instruction of an agent for one turn.
type InstructionFunc func(runCtx *core.RunContext) (string, error)

// StaticInstruction returns an InstructionFunc yielding text.
func StaticInstruction(text string) InstructionFunc {
	return func(*core.RunContext) (string, error) { return text, nil }
}

// RequestProcessor prepares a model request before it is sent.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request in place.
	ProcessRequest(runCtx *core.RunContext, req *model.Request) error
}

// BuildRequest runs processors in order over an empty request.
func BuildRequest(runCtx *core.RunContext, processors ...RequestProcessor) (model.Request, error) {
	var req model.Request

	for _, p := range processors {
		if err := p.ProcessRequest(runCtx, &req); err != nil {
			return model.Request{}, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}

	return req, nil
}

// InstructionsProcessor resolves the agent instruction and renders it as a
// template. Available fields: .agent, .thread_id, .today, .weekday.
type InstructionsProcessor struct {
	resolve InstructionFunc
	now     func() time.Time
}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor(resolve InstructionFunc) *InstructionsProcessor {
	return &InstructionsProcessor{resolve: resolve, now: time.Now}
}

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets req.Instructions.
func (p *InstructionsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request) error {
	if p.resolve == nil {
		return nil
	}

	instructions, err := p.resolve(runCtx)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}

	now := p.now()

	req.Instructions, err = internalutil.RenderTemplate(instructions, map[string]any{
		"agent":     runCtx.Agent,
		"thread_id": runCtx.ThreadID,
		"today":     now.Format("2006-01-02"),
		"weekday":   now.Weekday().String(),
	})
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	runCtx.LogDebug("flow.instruction.resolved", "length", len(req.Instructions))

	return nil
}

// ContentsProcessor copies the thread history into the request, keeping at
// most maxHistory trailing messages (0 keeps everything). A window never
// starts with tool results whose call was cut off.
type ContentsProcessor struct {
	maxHistory int
}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor(maxHistory int) *ContentsProcessor {
	return &ContentsProcessor{maxHistory: maxHistory}
}

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest sets req.Messages.
func (p *ContentsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request) error {
	msgs := runCtx.Messages()

	if p.maxHistory > 0 && len(msgs) > p.maxHistory {
		msgs = msgs[len(msgs)-p.maxHistory:]
		for len(msgs) > 0 && msgs[0].Role == core.RoleTool {
			msgs = msgs[1:]
		}
	}

	req.Messages = msgs

	return nil
}
