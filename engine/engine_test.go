package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vaagent/agent"
	"github.com/hupe1980/vaagent/checkpoint"
	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/internal/testutil"
	"github.com/hupe1980/vaagent/model"
	"github.com/hupe1980/vaagent/tool"
)

func route(next, reason string) core.ToolCall {
	return core.ToolCall{
		ID:        "route_" + next,
		Name:      agent.RouteToolName,
		Arguments: map[string]any{"next": next, "reason": reason},
	}
}

func searchStub(fn tool.Func) tool.Tool {
	if fn == nil {
		fn = func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{
				"query":   args["query"],
				"results": []any{map[string]any{"url": "https://example.com/a"}},
			}, nil
		}
	}

	return tool.NewFunctionTool("tavily_search", "search the web", nil, fn)
}

func newTestEngine(t *testing.T, llm model.Model, search tool.Tool, optFns ...func(o *Options)) (*Engine, *checkpoint.InMemoryStore) {
	t.Helper()

	if search == nil {
		search = searchStub(nil)
	}

	store := checkpoint.NewInMemoryStore()

	eng := New(Workers{
		Supervisor: agent.NewSupervisor(llm),
		Enhancer:   agent.NewEnhancer(llm),
		Researcher: agent.NewResearcher(llm, search),
		TaskAgent:  agent.NewTaskAgent(llm, nil),
	}, append([]func(o *Options){func(o *Options) { o.Store = store }}, optFns...)...)

	return eng, store
}

func collect(t *testing.T, ch <-chan core.Event) []core.Event {
	t.Helper()

	var events []core.Event

	timeout := time.After(5 * time.Second)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("turn did not finish, got %d events", len(events))
		}
	}
}

func kinds(events []core.Event) []core.EventKind {
	out := make([]core.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}

	return out
}

func names(msgs []core.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Role == core.RoleUser || m.Role == core.RoleTool {
			out[i] = string(m.Role)
			continue
		}
		out[i] = m.Name
	}

	return out
}

func TestEngine_NewThread(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("task_agent", "Greeting handled by the assistant.")).
		Reply("Hello! How can I help you today?")

	eng, store := newTestEngine(t, llm, nil)

	threadID, ch, err := eng.Run(context.Background(), Turn{Message: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, threadID)

	events := collect(t, ch)
	require.NotEmpty(t, events)

	assert.Equal(t, core.EventThreadCreated, events[0].Kind)
	assert.Equal(t, core.EventTurnEnd, events[len(events)-1].Kind)
	assert.NotContains(t, kinds(events), core.EventError)

	for _, ev := range events {
		assert.Equal(t, threadID, ev.ThreadID)
	}

	assert.Contains(t, kinds(events), core.EventRouted)
	assert.Contains(t, kinds(events), core.EventModelDelta)

	thread, err := store.Load(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user", agent.NameSupervisor, agent.NameTaskAgent}, names(thread.Messages))
	assert.Equal(t, "Hello! How can I help you today?", thread.Messages[2].Content)
	assert.Equal(t, 0, llm.Remaining())
}

func TestEngine_NullAndUnknownThreadIDsStartNewThreads(t *testing.T) {
	for _, id := range []string{NullThreadID, "does-not-exist"} {
		t.Run(id, func(t *testing.T) {
			llm := model.NewMockModel("mock", "mock").ReplyToolCalls(route("halt", "Nothing to do."))

			eng, store := newTestEngine(t, llm, nil)

			threadID, ch, err := eng.Run(context.Background(), Turn{ThreadID: id, Message: "hi"})
			require.NoError(t, err)
			assert.NotEqual(t, id, threadID)

			events := collect(t, ch)
			assert.Equal(t, core.EventThreadCreated, events[0].Kind)

			_, err = store.Load(context.Background(), id)
			assert.ErrorIs(t, err, core.ErrThreadNotFound)
		})
	}
}

func TestEngine_ContinuesExistingThread(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("halt", "Greeting only.")).
		ReplyToolCalls(route("halt", "Thanks only."))

	eng, store := newTestEngine(t, llm, nil)

	threadID, ch, err := eng.Run(context.Background(), Turn{Message: "hi"})
	require.NoError(t, err)
	collect(t, ch)

	again, ch, err := eng.Run(context.Background(), Turn{ThreadID: threadID, Message: "thanks"})
	require.NoError(t, err)
	assert.Equal(t, threadID, again)

	events := collect(t, ch)
	assert.NotContains(t, kinds(events), core.EventThreadCreated)

	thread, err := store.Load(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user", agent.NameSupervisor, "user", agent.NameSupervisor}, names(thread.Messages))

	// the second supervisor call saw the first turn
	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)
}

func TestEngine_SeededHistoryReachesModel(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").ReplyToolCalls(route("halt", "Nothing to do."))

	eng, store := newTestEngine(t, llm, nil)

	call := core.ToolCall{ID: "s1", Name: "tavily_search", Arguments: map[string]any{"query": "go"}}

	threadID, err := testutil.NewThreadBuilder("").
		User("what is go?").
		ToolRound(agent.NameResearcher, call, `{"results":[]}`).
		Assistant(agent.NameResearcher, "A language.").
		Seed(context.Background(), store)
	require.NoError(t, err)

	_, ch, err := eng.Run(context.Background(), Turn{ThreadID: threadID, Message: "ok"})
	require.NoError(t, err)
	collect(t, ch)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 5)
	assert.Equal(t, core.RoleTool, reqs[0].Messages[2].Role)
	assert.Equal(t, "ok", reqs[0].Messages[4].Content)
}

func TestEngine_EnhancerReturnsToSupervisor(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("enhancer", "The request is vague.")).
		Reply("Find the three most recent news articles about Go.").
		ReplyToolCalls(route("researcher", "Needs current information.")).
		ReplyToolCalls(core.ToolCall{ID: "s1", Name: "tavily_search", Arguments: map[string]any{"query": "go news"}}).
		Reply("Here is what I found (https://example.com/a).")

	eng, store := newTestEngine(t, llm, nil)

	threadID, events, err := eng.RunSync(context.Background(), Turn{Message: "go news?"})
	require.NoError(t, err)

	routed := 0
	for _, ev := range events {
		if ev.Kind == core.EventRouted {
			routed++
		}
	}
	assert.Equal(t, 2, routed)

	thread, err := store.Load(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"user",
		agent.NameSupervisor,
		agent.NameEnhancer,
		agent.NameSupervisor,
		agent.NameResearcher,
		"tool",
		agent.NameResearcher,
	}, names(thread.Messages))
	assert.Equal(t, "s1", thread.Messages[5].ToolCallID)
}

func TestEngine_ReturnToSupervisorPolicy(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("task_agent", "Task request.")).
		Reply("Done.").
		ReplyToolCalls(route("halt", "Request fulfilled."))

	eng, store := newTestEngine(t, llm, nil, func(o *Options) { o.Policy.ReturnToSupervisor = true })

	threadID, _, err := eng.RunSync(context.Background(), Turn{Message: "add milk"})
	require.NoError(t, err)

	thread, err := store.Load(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user", agent.NameSupervisor, agent.NameTaskAgent, agent.NameSupervisor}, names(thread.Messages))
}

func TestEngine_ModelFailureEndsTurnWithError(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").Fail(errors.New("upstream unavailable"))

	eng, _ := newTestEngine(t, llm, nil)

	_, events, err := eng.RunSync(context.Background(), Turn{Message: "hello"})

	var me *core.ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, agent.NameSupervisor, me.Agent)

	k := kinds(events)
	require.GreaterOrEqual(t, len(k), 3)
	assert.Equal(t, core.EventThreadCreated, k[0])
	assert.Equal(t, core.EventError, k[len(k)-2])
	assert.Equal(t, core.EventTurnEnd, k[len(k)-1])
}

func TestEngine_StepLimit(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("enhancer", "Vague.")).
		Reply("Clearer request.").
		ReplyToolCalls(route("enhancer", "Still vague."))

	eng, _ := newTestEngine(t, llm, nil, func(o *Options) { o.MaxSteps = 2 })

	_, _, err := eng.RunSync(context.Background(), Turn{Message: "hm"})
	assert.ErrorIs(t, err, core.ErrStepLimitExceeded)
	assert.Equal(t, 1, llm.Remaining())
}

func TestEngine_BlankMessage(t *testing.T) {
	eng, store := newTestEngine(t, model.NewMockModel("mock", "mock"), nil)

	_, _, err := eng.Run(context.Background(), Turn{Message: "  "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 0, store.Len())
}

func TestEngine_BusyThreadIsRejected(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("halt", "First.")).
		Enqueue(model.MockTurn{
			Message: core.Message{ToolCalls: []core.ToolCall{route("halt", "Slow.")}},
			Delay:   300 * time.Millisecond,
		})

	eng, _ := newTestEngine(t, llm, nil)

	threadID, ch, err := eng.Run(context.Background(), Turn{Message: "one"})
	require.NoError(t, err)
	collect(t, ch)

	_, slow, err := eng.Run(context.Background(), Turn{ThreadID: threadID, Message: "two"})
	require.NoError(t, err)

	_, _, err = eng.Run(context.Background(), Turn{ThreadID: threadID, Message: "three"})
	assert.ErrorIs(t, err, core.ErrThreadBusy)

	collect(t, slow)
	assert.Equal(t, 0, eng.ActiveTurns())
}

func TestEngine_DistinctThreadsRunConcurrently(t *testing.T) {
	const turns = 5

	llm := model.NewMockModel("mock", "mock")
	for i := 0; i < turns; i++ {
		llm.Enqueue(model.MockTurn{
			Message: core.Message{ToolCalls: []core.ToolCall{route("halt", "Done.")}},
			Delay:   100 * time.Millisecond,
		})
	}

	eng, store := newTestEngine(t, llm, nil)

	var wg sync.WaitGroup

	start := time.Now()

	for i := 0; i < turns; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _, err := eng.RunSync(context.Background(), Turn{Message: "hi"})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, turns, store.Len())
}

func TestEngine_CancellationCommitsNothingPartial(t *testing.T) {
	blocking := searchStub(func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("researcher", "Needs facts.")).
		ReplyToolCalls(core.ToolCall{ID: "s1", Name: "tavily_search", Arguments: map[string]any{"query": "x"}})

	eng, store := newTestEngine(t, llm, blocking)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	threadID, ch, err := eng.Run(ctx, Turn{Message: "news about x"})
	require.NoError(t, err)

	done := make(chan struct{})

	go func() {
		defer close(done)

		for ev := range ch {
			if ev.Kind == core.EventToolStart {
				cancel()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled turn did not close its channel")
	}

	thread, err := store.Load(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user", agent.NameSupervisor}, names(thread.Messages))

	// the lease was released
	_, ch, err = eng.Run(context.Background(), Turn{ThreadID: threadID, Message: "again"})
	require.NoError(t, err)
	collect(t, ch)
}

func TestEngine_Callbacks(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("task_agent", "Task.")).
		Reply("Ok.")

	var (
		mu  sync.Mutex
		got []string
	)

	record := func(ct CallbackType) Callback {
		return NewFunctionCallback(ct, func(_ context.Context, c *CallbackContext) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, string(ct)+":"+c.Agent)
			return nil
		})
	}

	eng, _ := newTestEngine(t, llm, nil, func(o *Options) {
		o.Callbacks = []Callback{
			record(CallbackTurnStart),
			record(CallbackBeforeAgent),
			record(CallbackAfterAgent),
			record(CallbackTurnEnd),
		}
	})

	_, _, err := eng.RunSync(context.Background(), Turn{Message: "add a task"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"turn_start:",
		"before_agent:supervisor",
		"after_agent:supervisor",
		"before_agent:task_agent",
		"after_agent:task_agent",
		"turn_end:",
	}, got)
}

func TestEngine_BeforeAgentCallbackAbortsTurn(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")

	eng, _ := newTestEngine(t, llm, nil)
	eng.RegisterCallback(NewFunctionCallback(CallbackBeforeAgent, func(context.Context, *CallbackContext) error {
		return errors.New("quota exceeded")
	}))

	_, events, err := eng.RunSync(context.Background(), Turn{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, core.EventTurnEnd, events[len(events)-1].Kind)
	assert.Empty(t, llm.Requests())
}

func TestEngine_StopTurnUnknown(t *testing.T) {
	eng, _ := newTestEngine(t, model.NewMockModel("mock", "mock"), nil)
	assert.Error(t, eng.StopTurn("nope"))
}
