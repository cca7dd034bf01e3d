package engine

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vaagent/agent"
)

// ErrInvalidTransition is returned when a worker asks for a route that has
// no edge from the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is a node of the agent graph.
type State int

const (
	StateSupervisor State = iota
	StateEnhancer
	StateResearcher
	StateTaskAgent
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateSupervisor:
		return agent.NameSupervisor
	case StateEnhancer:
		return agent.NameEnhancer
	case StateResearcher:
		return agent.NameResearcher
	case StateTaskAgent:
		return agent.NameTaskAgent
	case StateEnd:
		return "end"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Policy tunes the transition table.
type Policy struct {
	// ReturnToSupervisor sends control back to the supervisor after the
	// researcher or the task agent finished, instead of ending the turn.
	// The supervisor then decides whether more work is needed or halts.
	ReturnToSupervisor bool
}

var transitions = map[State]map[agent.Route]State{
	StateSupervisor: {
		agent.RouteEnhancer:   StateEnhancer,
		agent.RouteResearcher: StateResearcher,
		agent.RouteTaskAgent:  StateTaskAgent,
		agent.RouteHalt:       StateEnd,
	},
	StateEnhancer: {
		agent.RouteSupervisor: StateSupervisor,
	},
	StateResearcher: {
		agent.RouteEnd:        StateEnd,
		agent.RouteSupervisor: StateSupervisor,
	},
	StateTaskAgent: {
		agent.RouteEnd:        StateEnd,
		agent.RouteSupervisor: StateSupervisor,
	},
}

// Transition returns the state following from when its worker reported route.
// It is a pure function of its arguments.
func Transition(from State, route agent.Route, policy Policy) (State, error) {
	edges, ok := transitions[from]
	if !ok {
		return StateEnd, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}

	next, ok := edges[route]
	if !ok {
		return StateEnd, fmt.Errorf("%w: no edge from %s on %q", ErrInvalidTransition, from, route)
	}

	if policy.ReturnToSupervisor && next == StateEnd && from != StateSupervisor {
		return StateSupervisor, nil
	}

	return next, nil
}
