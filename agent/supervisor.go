package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/flow"
	"github.com/hupe1980/vaagent/model"
)

// RouteToolName is the structured-output tool the supervisor must call.
const RouteToolName = "route"

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Instruction        Instruction
	ModelTimeout       time.Duration
	MaxHistoryMessages int
}

// Supervisor picks the next specialist for the conversation. Every decision
// is persisted as an assistant message carrying the reason.
type Supervisor struct {
	BaseAgent
	llm        model.Model
	processors []flow.RequestProcessor
	opts       SupervisorOptions
}

var _ Worker = (*Supervisor)(nil)

// NewSupervisor creates a supervisor backed by llm.
func NewSupervisor(llm model.Model, optFns ...func(o *SupervisorOptions)) *Supervisor {
	opts := SupervisorOptions{
		Instruction:  NewInstructionFromText(SupervisorInstruction),
		ModelTimeout: flow.DefaultOptions().ModelTimeout,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	base := NewBaseAgent(NameSupervisor)
	base.SetDescription("Routes each request to the right specialist")

	return &Supervisor{
		BaseAgent: base,
		llm:       llm,
		processors: []flow.RequestProcessor{
			flow.NewInstructionsProcessor(opts.Instruction.Func()),
			flow.NewContentsProcessor(opts.MaxHistoryMessages),
		},
		opts: opts,
	}
}

// RouteTool returns the definition of the structured routing output.
func RouteTool() model.ToolDefinition {
	next := make([]string, len(DecisionRoutes))
	for i, r := range DecisionRoutes {
		next[i] = string(r)
	}

	return model.NewToolDefinition(RouteToolName, "Select the next team member to act.", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"next": map[string]any{
				"type":        "string",
				"enum":        next,
				"description": "The specialist to activate next, or halt when the request is resolved.",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "Short justification of the routing decision.",
			},
		},
		"required": []string{"next", "reason"},
	})
}

// Decide makes one routing decision without committing it.
func (s *Supervisor) Decide(runCtx *core.RunContext) (Decision, error) {
	req, err := flow.BuildRequest(runCtx, s.processors...)
	if err != nil {
		return Decision{}, err
	}

	req.Tools = []model.ToolDefinition{RouteTool()}
	req.ToolChoice = RouteToolName

	msg, err := flow.Generate(runCtx, s.llm, req, s.opts.ModelTimeout)
	if err != nil {
		return Decision{}, err
	}

	d, err := ParseDecision(msg)
	if err != nil {
		runCtx.LogWarn("agent.supervisor.invalid_decision", "error", err.Error(), "content", msg.Content)
		return Decision{}, core.NewModelError(s.Name(), err)
	}

	return d, nil
}

// Run decides, commits the reason and reports the chosen route.
func (s *Supervisor) Run(runCtx *core.RunContext) (*Result, error) {
	runCtx = runCtx.ForAgent(s.Name())

	d, err := s.Decide(runCtx)
	if err != nil {
		return nil, err
	}

	msg := core.NewAssistantMessage(s.Name(), d.Reason)
	if err := runCtx.Commit(msg); err != nil {
		return nil, err
	}

	runCtx.LogInfo("agent.supervisor.routed", "next", string(d.Next))

	if err := runCtx.EmitEvent(core.NewRoutedEvent(s.Name(), string(d.Next), d.Reason)); err != nil {
		return nil, err
	}

	return &Result{Messages: []core.Message{msg}, Next: d.Next, Reason: d.Reason}, nil
}

// ParseDecision extracts a decision from the supervisor's reply: the route
// tool call if present, otherwise a JSON object in the text body.
func ParseDecision(msg core.Message) (Decision, error) {
	var raw struct {
		Next   string `json:"next"`
		Reason string `json:"reason"`
	}

	switch {
	case msg.HasToolCalls():
		call := msg.ToolCalls[0]
		for _, c := range msg.ToolCalls {
			if c.Name == RouteToolName {
				call = c
				break
			}
		}
		raw.Next = call.StringArg("next")
		raw.Reason = call.StringArg("reason")
	default:
		body := extractJSONObject(msg.Content)
		if body == "" {
			return Decision{}, fmt.Errorf("%w: no route in reply", core.ErrInvalidDecision)
		}
		if err := json.Unmarshal([]byte(body), &raw); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", core.ErrInvalidDecision, err)
		}
	}

	next, err := ParseRoute(raw.Next)
	if err != nil {
		return Decision{}, err
	}

	reason := strings.TrimSpace(raw.Reason)
	if reason == "" {
		reason = fmt.Sprintf("Routing to %s.", next)
	}

	return Decision{Next: next, Reason: reason}, nil
}

// extractJSONObject returns the outermost {...} span of s, tolerating code fences.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start < 0 || end <= start {
		return ""
	}

	return s[start : end+1]
}
