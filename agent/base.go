package agent

import (
	"fmt"
	"strings"

	"github.com/hupe1980/vaagent/core"
)

// Agent names. Assistant messages are attributed to these names.
const (
	NameSupervisor = "supervisor"
	NameEnhancer   = "enhancer"
	NameResearcher = "researcher"
	NameTaskAgent  = "task_agent"
)

// Route names the target of a transition between agents.
type Route string

const (
	RouteEnhancer   Route = NameEnhancer
	RouteResearcher Route = NameResearcher
	RouteTaskAgent  Route = NameTaskAgent
	RouteHalt       Route = "halt"
	RouteSupervisor Route = NameSupervisor
	RouteEnd        Route = "end"
)

// DecisionRoutes are the routes a supervisor may choose from.
var DecisionRoutes = []Route{RouteEnhancer, RouteResearcher, RouteTaskAgent, RouteHalt}

var routeAliases = map[string]Route{
	"enhancer":       RouteEnhancer,
	"enhancer_agent": RouteEnhancer,
	"researcher":     RouteResearcher,
	"research_agent": RouteResearcher,
	"task_agent":     RouteTaskAgent,
	"todo_agent":     RouteTaskAgent,
	"halt":           RouteHalt,
	"finish":         RouteHalt,
	"end":            RouteHalt,
}

// ParseRoute maps a supervisor's free-form choice to a decision route.
func ParseRoute(s string) (Route, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")

	if r, ok := routeAliases[key]; ok {
		return r, nil
	}

	return "", fmt.Errorf("%w: %q", core.ErrInvalidDecision, s)
}

// Decision is a supervisor's routing choice.
type Decision struct {
	Next   Route  `json:"next"`
	Reason string `json:"reason"`
}

// Result is what one agent step produced: the messages it committed and the
// route it asks the engine to take next.
type Result struct {
	Messages []core.Message
	Next     Route
	Reason   string
}

// Worker is one node of the agent graph.
type Worker interface {
	Name() string
	Run(runCtx *core.RunContext) (*Result, error)
}

// BaseAgent bundles identity shared by all agents. Embed it in concrete
// agent implementations.
type BaseAgent struct {
	name        string
	description string
}

// NewBaseAgent constructs a BaseAgent with a generated description.
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
	}
}

// Name returns the agent name used for message attribution.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a short description of the agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }
