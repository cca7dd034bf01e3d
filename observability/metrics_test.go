package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/engine"
)

func TestMetrics_Callbacks(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	cbs := engine.NewCallbackManager()
	for _, cb := range m.Callbacks() {
		cbs.RegisterCallback(cb)
	}

	ctx := context.Background()

	require.NoError(t, cbs.ExecuteCallbacks(ctx, engine.CallbackTurnStart, &engine.CallbackContext{NewThread: true}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveTurns))

	require.NoError(t, cbs.ExecuteCallbacks(ctx, engine.CallbackAfterAgent, &engine.CallbackContext{Agent: "supervisor", Duration: time.Second}))
	require.NoError(t, cbs.ExecuteCallbacks(ctx, engine.CallbackAfterAgent, &engine.CallbackContext{Agent: "researcher", Err: errors.New("x")}))
	require.NoError(t, cbs.ExecuteCallbacks(ctx, engine.CallbackTurnEnd, &engine.CallbackContext{NewThread: true, Err: context.Canceled}))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveTurns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentStepCounter.WithLabelValues("supervisor", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentStepCounter.WithLabelValues("researcher", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnCounter.WithLabelValues("cancelled", "new")))
}

func TestMetrics_Tap(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	call := core.ToolCall{ID: "c1", Name: "tavily_search"}

	in := make(chan core.Event, 4)
	in <- core.NewToolEndEvent("researcher", call, nil, nil, 20*time.Millisecond)
	in <- core.NewToolEndEvent("researcher", call, nil, errors.New("down"), time.Millisecond)
	in <- core.NewRoutedEvent("supervisor", "researcher", "facts")
	in <- core.NewDeltaEvent("researcher", "x")
	close(in)

	var forwarded int
	for range m.Tap(in) {
		forwarded++
	}

	assert.Equal(t, 4, forwarded)

	expected := `
		# HELP vaagent_tool_executions_total Total number of tool executions by tool and status
		# TYPE vaagent_tool_executions_total counter
		vaagent_tool_executions_total{status="error",tool_name="tavily_search"} 1
		vaagent_tool_executions_total{status="success",tool_name="tavily_search"} 1
	`
	require.NoError(t, testutil.CollectAndCompare(m.ToolExecutionCounter, strings.NewReader(expected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutingCounter.WithLabelValues("researcher")))
}

func TestMetrics_Middleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/tasks/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/42", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("GET", "/api/v1/tasks/:id", "404")))
}

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
