package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/engine"
)

// Metrics collects the service metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	eng := engine.New(workers, func(o *engine.Options) { o.Callbacks = metrics.Callbacks() })
//	events := metrics.Tap(raw)
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: status (success|error|cancelled), thread (new|existing)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turn latency in seconds.
	TurnDuration prometheus.Histogram

	// ActiveTurns is the number of running turns.
	ActiveTurns prometheus.Gauge

	// AgentStepCounter counts agent steps.
	// Labels: agent, status (success|error)
	AgentStepCounter *prometheus.CounterVec

	// AgentStepDuration measures agent step latency in seconds.
	// Labels: agent
	AgentStepDuration *prometheus.HistogramVec

	// RoutingCounter counts supervisor decisions.
	// Labels: route
	RoutingCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: agent
	LLMRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency in seconds.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		TurnCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaagent_turns_total",
				Help: "Total number of conversation turns by outcome",
			},
			[]string{"status", "thread"},
		),

		TurnDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vaagent_turn_duration_seconds",
				Help:    "Duration of conversation turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		ActiveTurns: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "vaagent_active_turns",
				Help: "Number of turns currently running",
			},
		),

		AgentStepCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaagent_agent_steps_total",
				Help: "Total number of agent steps by agent and status",
			},
			[]string{"agent", "status"},
		),

		AgentStepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaagent_agent_step_duration_seconds",
				Help:    "Duration of agent steps in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent"},
		),

		RoutingCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaagent_routing_decisions_total",
				Help: "Total number of supervisor routing decisions by route",
			},
			[]string{"route"},
		),

		ToolExecutionCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaagent_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaagent_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		LLMRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaagent_llm_request_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent"},
		),

		HTTPRequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaagent_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaagent_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
	}
}

// Callbacks returns the engine callbacks recording turn and agent metrics.
func (m *Metrics) Callbacks() []engine.Callback {
	return []engine.Callback{
		engine.NewFunctionCallback(engine.CallbackTurnStart, func(context.Context, *engine.CallbackContext) error {
			m.ActiveTurns.Inc()
			return nil
		}),
		engine.NewFunctionCallback(engine.CallbackAfterAgent, func(_ context.Context, c *engine.CallbackContext) error {
			m.AgentStepCounter.WithLabelValues(c.Agent, status(c.Err)).Inc()
			m.AgentStepDuration.WithLabelValues(c.Agent).Observe(c.Duration.Seconds())
			return nil
		}),
		engine.NewFunctionCallback(engine.CallbackTurnEnd, func(_ context.Context, c *engine.CallbackContext) error {
			m.ActiveTurns.Dec()

			thread := "existing"
			if c.NewThread {
				thread = "new"
			}

			outcome := status(c.Err)
			if errors.Is(c.Err, context.Canceled) || errors.Is(c.Err, context.DeadlineExceeded) {
				outcome = "cancelled"
			}

			m.TurnCounter.WithLabelValues(outcome, thread).Inc()
			m.TurnDuration.Observe(c.Duration.Seconds())

			return nil
		}),
	}
}

// Tap records tool, model and routing metrics from a raw event stream and
// forwards every event unchanged. The returned channel closes after in.
func (m *Metrics) Tap(in <-chan core.Event) <-chan core.Event {
	out := make(chan core.Event, cap(in))

	go func() {
		defer close(out)

		for ev := range in {
			m.Observe(ev)
			out <- ev
		}
	}()

	return out
}

// Observe records one raw event.
func (m *Metrics) Observe(ev core.Event) {
	switch ev.Kind {
	case core.EventToolEnd:
		if ev.Call == nil {
			return
		}
		m.ToolExecutionCounter.WithLabelValues(ev.Call.Name, status(ev.Err)).Inc()
		m.ToolExecutionDuration.WithLabelValues(ev.Call.Name).Observe(ev.Duration.Seconds())
	case core.EventModelEnd:
		m.LLMRequestDuration.WithLabelValues(ev.Agent).Observe(ev.Duration.Seconds())
	case core.EventRouted:
		m.RoutingCounter.WithLabelValues(ev.Route).Inc()
	}
}

// Middleware records HTTP request metrics. The route pattern is used as path
// label to keep cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			code := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					code = he.Code
				}
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}

			m.HTTPRequestCounter.WithLabelValues(c.Request().Method, path, strconv.Itoa(code)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
