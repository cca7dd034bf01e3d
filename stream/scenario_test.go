package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vaagent/agent"
	"github.com/hupe1980/vaagent/checkpoint"
	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/engine"
	"github.com/hupe1980/vaagent/model"
	"github.com/hupe1980/vaagent/tool"
	"github.com/hupe1980/vaagent/tool/search"
)

type stubSearcher struct {
	resp *search.Response
	err  error
}

func (s stubSearcher) Search(_ context.Context, query string) (*search.Response, error) {
	if s.err != nil {
		return nil, s.err
	}

	r := *s.resp
	r.Query = query

	return &r, nil
}

func route(next string) core.ToolCall {
	return core.ToolCall{ID: "r_" + next, Name: agent.RouteToolName, Arguments: map[string]any{"next": next, "reason": "because"}}
}

func newScenario(t *testing.T, llm model.Model, searcher search.Searcher) (*engine.Engine, *checkpoint.InMemoryStore) {
	t.Helper()

	store := checkpoint.NewInMemoryStore()

	failing := tool.NewFunctionTool("create_task", "create a task", nil, func(context.Context, map[string]any) (any, error) {
		panic("database is on fire")
	})

	eng := engine.New(engine.Workers{
		Supervisor: agent.NewSupervisor(llm),
		Enhancer:   agent.NewEnhancer(llm),
		Researcher: agent.NewResearcher(llm, search.NewTool(searcher)),
		TaskAgent:  agent.NewTaskAgent(llm, []tool.Tool{failing}),
	}, func(o *engine.Options) { o.Store = store })

	return eng, store
}

func runTurn(t *testing.T, eng *engine.Engine, turn engine.Turn) (string, []Event) {
	t.Helper()

	threadID, raw, err := eng.Run(context.Background(), turn)
	require.NoError(t, err)

	var out []Event

	timeout := time.After(5 * time.Second)
	events := NewTranslator().Translate(context.Background(), raw)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return threadID, out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream not terminated")
		}
	}
}

func types(events []Event) []Type {
	out := make([]Type, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func assertTerminatedOnce(t *testing.T, events []Event) {
	t.Helper()

	require.NotEmpty(t, events)
	assert.Equal(t, TypeEnd, events[len(events)-1].Type)

	ends := 0
	for _, ev := range events {
		if ev.Type == TypeEnd {
			ends++
		}
	}
	assert.Equal(t, 1, ends)
}

func TestScenario_NewConversation(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("task_agent")).
		Reply("Hello! What can I do for you?")

	eng, _ := newScenario(t, llm, stubSearcher{})

	threadID, events := runTurn(t, eng, engine.Turn{ThreadID: "null", Message: "hello"})

	assert.Equal(t, Checkpoint(threadID), events[0])
	assertTerminatedOnce(t, events)
	assert.Contains(t, types(events), TypeContent)
	assert.NotContains(t, types(events), TypeSearchStart)

	checkpoints := 0
	for _, ev := range events {
		if ev.Type == TypeCheckpoint {
			checkpoints++
		}
	}
	assert.Equal(t, 1, checkpoints)

	// continuation: no checkpoint event
	llm.ReplyToolCalls(route("halt"))
	_, events = runTurn(t, eng, engine.Turn{ThreadID: threadID, Message: "thanks"})
	assert.NotContains(t, types(events), TypeCheckpoint)
	assertTerminatedOnce(t, events)
}

func TestScenario_Research(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("researcher")).
		ReplyToolCalls(core.ToolCall{ID: "s1", Name: search.ToolName, Arguments: map[string]any{"query": "X news"}}).
		Reply("X shipped a new release (https://news.example/x).")

	searcher := stubSearcher{resp: &search.Response{Results: []search.Result{
		{Title: "X release", URL: "https://news.example/x"},
		{Title: "untitled"},
		{Title: "X blog", URL: "https://blog.example/x"},
	}}}

	eng, _ := newScenario(t, llm, searcher)

	_, events := runTurn(t, eng, engine.Turn{Message: "find recent news about X"})

	assertTerminatedOnce(t, events)

	var start, results int = -1, -1
	for i, ev := range events {
		switch ev.Type {
		case TypeSearchStart:
			start = i
			assert.Equal(t, "X news", ev.Query)
		case TypeSearchResults:
			results = i
			assert.Equal(t, []string{"https://news.example/x", "https://blog.example/x"}, ev.URLs)
		}
	}

	require.GreaterOrEqual(t, start, 0)
	assert.Greater(t, results, start)
	assert.Equal(t, TypeContent, events[results+1].Type)
}

func TestScenario_ToolLoopCapKeepsSearchesPaired(t *testing.T) {
	search1 := core.ToolCall{ID: "s1", Name: search.ToolName, Arguments: map[string]any{"query": "one"}}
	search2 := core.ToolCall{ID: "s2", Name: search.ToolName, Arguments: map[string]any{"query": "two"}}
	search3 := core.ToolCall{ID: "s3", Name: search.ToolName, Arguments: map[string]any{"query": "three"}}

	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("researcher")).
		ReplyToolCalls(search1).
		ReplyToolCalls(search2).
		ReplyToolCalls(search3)

	searcher := stubSearcher{resp: &search.Response{Results: []search.Result{{URL: "https://a.example"}}}}

	eng := engine.New(engine.Workers{
		Supervisor: agent.NewSupervisor(llm),
		Enhancer:   agent.NewEnhancer(llm),
		Researcher: agent.NewResearcher(llm, search.NewTool(searcher), func(o *agent.ModelAgentOptions) {
			o.MaxCycles = 2
		}),
		TaskAgent: agent.NewTaskAgent(llm, nil),
	})

	_, events := runTurn(t, eng, engine.Turn{Message: "dig deep"})

	assertTerminatedOnce(t, events)
	assert.Contains(t, types(events), TypeError)

	starts, results := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case TypeSearchStart:
			starts++
			assert.Equal(t, starts-1, results, "search_start while another search is open")
		case TypeSearchResults:
			results++
			assert.Equal(t, starts, results)
		}
	}

	assert.Equal(t, 3, starts)
	assert.Equal(t, starts, results)
}

func TestScenario_UnknownCheckpointFallsBack(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").ReplyToolCalls(route("halt"))

	eng, store := newScenario(t, llm, stubSearcher{})

	threadID, events := runTurn(t, eng, engine.Turn{ThreadID: "4f7c-missing", Message: "hi again"})

	assert.NotEqual(t, "4f7c-missing", threadID)
	assert.Equal(t, Checkpoint(threadID), events[0])
	assertTerminatedOnce(t, events)

	thread, err := store.Load(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, "hi again", thread.Messages[0].Content)
}

func TestScenario_ToolFailureStillTerminates(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("task_agent")).
		ReplyToolCalls(core.ToolCall{ID: "t1", Name: "create_task", Arguments: map[string]any{"title": "milk"}}).
		Reply("Sorry, I could not create the task.")

	eng, store := newScenario(t, llm, stubSearcher{})

	threadID, events := runTurn(t, eng, engine.Turn{Message: "remind me to buy milk"})

	assertTerminatedOnce(t, events)
	assert.NotContains(t, types(events), TypeError)

	thread, err := store.Load(context.Background(), threadID)
	require.NoError(t, err)

	var toolMsg core.Message
	for _, m := range thread.Messages {
		if m.Role == core.RoleTool {
			toolMsg = m
		}
	}
	assert.Equal(t, "t1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, `"code":"PANIC"`)
}

func TestScenario_SearchFailureAndModelFailure(t *testing.T) {
	llm := model.NewMockModel("mock", "mock").
		ReplyToolCalls(route("researcher")).
		ReplyToolCalls(core.ToolCall{ID: "s1", Name: search.ToolName, Arguments: map[string]any{"query": "q"}}).
		Fail(errors.New("model unreachable"))

	eng, _ := newScenario(t, llm, stubSearcher{err: errors.New("tavily: 502")})

	_, events := runTurn(t, eng, engine.Turn{Message: "search q"})

	assert.Equal(t, []Type{TypeCheckpoint, TypeSearchStart, TypeSearchResults, TypeError, TypeEnd}, types(events))
	assert.Empty(t, events[2].URLs)
}
