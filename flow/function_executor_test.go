package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/tool"
)

type teMockTool struct {
	name     string
	delay    time.Duration
	ignore   bool // ignore context cancellation while sleeping
	result   any
	err      error
	panicMsg any

	active    *int32
	maxActive *int32
}

func (mt *teMockTool) Name() string               { return mt.name }
func (mt *teMockTool) Description() string        { return "mock tool" }
func (mt *teMockTool) Parameters() map[string]any { return nil }
func (mt *teMockTool) Call(ctx context.Context, _ map[string]any) (any, error) {
	if mt.active != nil {
		n := atomic.AddInt32(mt.active, 1)
		defer atomic.AddInt32(mt.active, -1)
		for {
			cur := atomic.LoadInt32(mt.maxActive)
			if n <= cur || atomic.CompareAndSwapInt32(mt.maxActive, cur, n) {
				break
			}
		}
	}
	if mt.delay > 0 {
		if mt.ignore {
			time.Sleep(mt.delay)
		} else {
			select {
			case <-time.After(mt.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if mt.panicMsg != nil {
		panic(mt.panicMsg)
	}
	return mt.result, mt.err
}

func toolCode(t *testing.T, err error) string {
	t.Helper()
	var te *tool.ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected *tool.ToolError, got %T (%v)", err, err)
	}
	return te.Code
}

func TestExecutor_PanicRecovered(t *testing.T) {
	tr := newTestRun(t)
	exec := NewParallelFunctionExecutor(tool.NewRegistry(&teMockTool{name: "p", panicMsg: "kaboom"}), FunctionExecutorConfig{})

	outcomes := exec.Execute(tr.rc, []core.ToolCall{{ID: "1", Name: "p"}})
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if code := toolCode(t, outcomes[0].Err); code != tool.CodePanic {
		t.Fatalf("code = %s", code)
	}
}

func TestExecutor_TimeoutReleasesStuckTool(t *testing.T) {
	tr := newTestRun(t)
	stuck := &teMockTool{name: "stuck", delay: 300 * time.Millisecond, ignore: true}
	exec := NewParallelFunctionExecutor(tool.NewRegistry(stuck), FunctionExecutorConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	outcomes := exec.Execute(tr.rc, []core.ToolCall{{ID: "1", Name: "stuck"}})

	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("executor waited for the stuck tool")
	}
	if code := toolCode(t, outcomes[0].Err); code != tool.CodeTimeout {
		t.Fatalf("code = %s", code)
	}
}

func TestExecutor_MaxParallel(t *testing.T) {
	tr := newTestRun(t)
	var active, maxActive int32
	mk := func(name string) *teMockTool {
		return &teMockTool{name: name, delay: 20 * time.Millisecond, active: &active, maxActive: &maxActive}
	}
	reg := tool.NewRegistry(mk("a"), mk("b"), mk("c"), mk("d"))
	exec := NewParallelFunctionExecutor(reg, FunctionExecutorConfig{MaxParallel: 2})

	outcomes := exec.Execute(tr.rc, []core.ToolCall{
		{ID: "1", Name: "a"}, {ID: "2", Name: "b"}, {ID: "3", Name: "c"}, {ID: "4", Name: "d"},
	})

	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Err != nil {
			t.Fatalf("outcome %d error: %v", i, o.Err)
		}
	}
	if got := atomic.LoadInt32(&maxActive); got > 2 {
		t.Fatalf("parallelism %d exceeded limit", got)
	}
}

func TestExecutor_EmitsStartAndEndEvents(t *testing.T) {
	tr := newTestRun(t)
	exec := NewParallelFunctionExecutor(tool.NewRegistry(&teMockTool{name: "x", result: "ok"}), FunctionExecutorConfig{})

	exec.Execute(tr.rc, []core.ToolCall{{ID: "1", Name: "x"}})

	events := tr.drain()
	if len(events) != 2 || events[0].Kind != core.EventToolStart || events[1].Kind != core.EventToolEnd {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[1].Result != "ok" || events[1].Call.ID != "1" {
		t.Fatalf("unexpected tool_end: %+v", events[1])
	}
}

func TestExecutor_CancelledBeforeDispatch(t *testing.T) {
	tr := newTestRun(t)
	tr.cancel()

	exec := NewParallelFunctionExecutor(tool.NewRegistry(&teMockTool{name: "a"}, &teMockTool{name: "b"}), FunctionExecutorConfig{})
	outcomes := exec.Execute(tr.rc, []core.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}})

	for _, o := range outcomes {
		if code := toolCode(t, o.Err); code != tool.CodeCancelled {
			t.Fatalf("code = %s", code)
		}
	}
}
