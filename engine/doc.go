// Package engine implements the orchestration layer of vaagent.
//
// The Engine owns the lifecycle of a conversation turn: it resolves or
// creates the thread, takes the thread's single-writer lease, persists the
// user message and then walks the agent graph on its own goroutine while
// pushing raw events to the caller.
//
// # Agent graph
//
// Routing is an explicit state machine. Each State is served by one worker
// and the next state is computed by the pure Transition function from the
// route the worker reported:
//
//	┌────────────┐  enhancer   ┌──────────┐
//	│ supervisor │────────────▶│ enhancer │
//	│            │◀────────────│          │
//	└────────────┘  supervisor └──────────┘
//	   │      │
//	   │      │ researcher / task_agent
//	   │      ▼
//	   │  ┌────────────────────────┐  end  ┌─────┐
//	   │  │ researcher, task_agent │──────▶│ end │
//	   │  └────────────────────────┘       └─────┘
//	   │ halt                                 ▲
//	   └──────────────────────────────────────┘
//
// With Policy.ReturnToSupervisor the researcher and the task agent hand
// control back to the supervisor, which then halts or delegates again. The
// number of agent steps per turn is bounded by Options.MaxSteps.
//
// # Events
//
// The raw event channel of a turn carries, in order of occurrence:
//
//	thread_created   new conversations only, always first
//	routed           supervisor decisions
//	model_start, model_delta, model_end
//	tool_start, tool_end
//	error            at most once, when the turn failed
//	turn_end         always last before the channel closes
//
// The stream package translates these into the external protocol.
//
// # Usage
//
//	eng := engine.New(engine.Workers{
//	    Supervisor: agent.NewSupervisor(llm),
//	    Enhancer:   agent.NewEnhancer(llm),
//	    Researcher: agent.NewResearcher(llm, search.NewTool(client)),
//	    TaskAgent:  agent.NewTaskAgent(llm, tasks.NewTools(store)),
//	}, func(o *engine.Options) { o.Store = checkpoints })
//
//	threadID, events, err := eng.Run(ctx, engine.Turn{ThreadID: id, Message: text})
//	if err != nil {
//	    return err // core.ErrThreadBusy, store failures
//	}
//	for ev := range events {
//	    handle(ev)
//	}
//
// # Errors
//
// Failures inside a turn (model errors, exhausted tool loops, step limits,
// store failures) never surface from Run. They are logged, reported through
// the on_error callback and emitted as one error event, after which the turn
// ends normally. Cancelling the context passed to Run stops the turn at the
// next suspension point without committing partial work.
package engine
