package agent

import (
	"fmt"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/flow"
)

// Instruction is the system prompt of an agent: either fixed text or a
// function evaluated before every model step. The result is rendered as a
// template with .agent, .thread_id, .today and .weekday.
type Instruction struct {
	text    string
	dynamic flow.InstructionFunc
}

// NewInstructionFromText creates a fixed instruction.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewDynamicInstruction creates an instruction computed per model step.
func NewDynamicInstruction(fn flow.InstructionFunc) Instruction { return Instruction{dynamic: fn} }

// IsZero reports whether the instruction is empty.
func (i Instruction) IsZero() bool { return i.dynamic == nil && i.text == "" }

// Resolve returns the instruction text for runCtx.
func (i Instruction) Resolve(runCtx *core.RunContext) (string, error) {
	if i.dynamic == nil {
		return i.text, nil
	}

	text, err := i.dynamic(runCtx)
	if err != nil {
		return "", fmt.Errorf("instruction for %s: %w", runCtx.Agent, err)
	}

	return text, nil
}

// Func adapts the instruction for the flow request processors. A zero
// instruction yields nil so no system prompt is sent.
func (i Instruction) Func() flow.InstructionFunc {
	if i.IsZero() {
		return nil
	}

	return i.Resolve
}
