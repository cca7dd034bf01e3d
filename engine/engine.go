package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/vaagent/agent"
	"github.com/hupe1980/vaagent/checkpoint"
	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/logging"
)

// NullThreadID is the sentinel clients send instead of omitting the id.
const NullThreadID = "null"

// ErrEmptyMessage is returned by Run for a blank user message.
var ErrEmptyMessage = errors.New("message must not be empty")

// Turn is one inbound user message. An empty ThreadID or NullThreadID starts
// a new conversation.
type Turn struct {
	ThreadID string
	Message  string
}

// Workers is the closed set of agents the engine dispatches to.
type Workers struct {
	Supervisor agent.Worker
	Enhancer   agent.Worker
	Researcher agent.Worker
	TaskAgent  agent.Worker
}

func (w Workers) forState(s State) (agent.Worker, error) {
	var worker agent.Worker

	switch s {
	case StateSupervisor:
		worker = w.Supervisor
	case StateEnhancer:
		worker = w.Enhancer
	case StateResearcher:
		worker = w.Researcher
	case StateTaskAgent:
		worker = w.TaskAgent
	}

	if worker == nil {
		return nil, fmt.Errorf("no worker configured for state %s", s)
	}

	return worker, nil
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(workers, func(o *engine.Options) {
//	    o.Store = sqlStore
//	    o.Policy.ReturnToSupervisor = true
//	    o.Logger = logger
//	})
type Options struct {
	// Store persists threads. Defaults to an in-memory store.
	Store core.CheckpointStore

	// MaxSteps bounds the number of agent steps per turn.
	MaxSteps int

	// Policy tunes the transition table.
	Policy Policy

	// EventBufferSize sets the buffer of the raw event channel.
	EventBufferSize int

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger

	// Callbacks are registered in order at construction.
	Callbacks []Callback
}

// Engine drives a conversation turn through the agent graph
//
//	supervisor -> {enhancer -> supervisor | researcher -> end | task_agent -> end}
//
// and pushes raw events to the caller while the turn is running.
//
// Every turn runs on its own goroutine and holds the single-writer lease of
// its thread for its whole lifetime. Distinct threads run concurrently; a
// second turn for a busy thread is rejected with core.ErrThreadBusy.
type Engine struct {
	workers   Workers
	store     core.CheckpointStore
	opts      Options
	callbacks *CallbackManager
	logger    logging.Logger
	tracer    trace.Tracer

	activeTurns map[string]context.CancelFunc
	turnsMu     sync.Mutex
}

// New creates an engine over workers with defaults:
//   - in-memory checkpoint store
//   - MaxSteps 8
//   - single pass policy (researcher and task agent end the turn)
//   - EventBufferSize 100
func New(workers Workers, optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxSteps:        8,
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = checkpoint.NewInMemoryStore()
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	callbacks := NewCallbackManager()
	for _, cb := range opts.Callbacks {
		callbacks.RegisterCallback(cb)
	}

	return &Engine{
		workers:     workers,
		store:       opts.Store,
		opts:        opts,
		callbacks:   callbacks,
		logger:      opts.Logger,
		tracer:      otel.Tracer("github.com/hupe1980/vaagent/engine"),
		activeTurns: make(map[string]context.CancelFunc),
	}
}

// Store returns the checkpoint store the engine persists to.
func (e *Engine) Store() core.CheckpointStore { return e.store }

// RegisterCallback adds a lifecycle callback. Register before the first turn.
func (e *Engine) RegisterCallback(cb Callback) { e.callbacks.RegisterCallback(cb) }

// Run starts a turn and returns the thread id together with the raw event
// channel. The channel is closed when the turn is over; on a new thread the
// first event is thread_created and the last one is turn_end. A failed turn
// emits one error event before turn_end.
//
// Run itself fails only before the turn starts: for a blank message, a busy
// thread (core.ErrThreadBusy) or a store failure. An unknown thread id is not
// an error: the turn starts a new thread and the returned id differs from
// the requested one.
//
// Cancelling ctx stops the turn; messages are never half committed.
func (e *Engine) Run(ctx context.Context, turn Turn) (string, <-chan core.Event, error) {
	if strings.TrimSpace(turn.Message) == "" {
		return "", nil, ErrEmptyMessage
	}

	thread, created, release, err := e.open(ctx, turn.ThreadID)
	if err != nil {
		return "", nil, err
	}

	turnID := core.NewID()
	events := make(chan core.Event, e.opts.EventBufferSize)

	turnCtx, cancel := context.WithCancel(ctx)

	runCtx := core.NewRunContext(turnCtx, thread, turnID, e.store, events, e.logger)

	if err := runCtx.Commit(core.NewUserMessage(turn.Message)); err != nil {
		cancel()
		release()

		return "", nil, fmt.Errorf("append user message: %w", err)
	}

	e.turnsMu.Lock()
	e.activeTurns[turnID] = cancel
	e.turnsMu.Unlock()

	go func() {
		defer func() {
			cancel()
			release()

			e.turnsMu.Lock()
			delete(e.activeTurns, turnID)
			e.turnsMu.Unlock()

			close(events)
		}()

		e.runTurn(runCtx, created)
	}()

	return thread.ID, events, nil
}

// RunSync runs a turn and collects all raw events.
func (e *Engine) RunSync(ctx context.Context, turn Turn) (string, []core.Event, error) {
	threadID, eventsCh, err := e.Run(ctx, turn)
	if err != nil {
		return "", nil, err
	}

	var (
		events  []core.Event
		turnErr error
	)

	for ev := range eventsCh {
		if ev.Kind == core.EventError {
			turnErr = ev.Err
		}

		events = append(events, ev)
	}

	if turnErr == nil {
		turnErr = ctx.Err()
	}

	return threadID, events, turnErr
}

// StopTurn cancels a running turn by id.
func (e *Engine) StopTurn(turnID string) error {
	e.turnsMu.Lock()
	cancel, exists := e.activeTurns[turnID]
	e.turnsMu.Unlock()

	if !exists {
		return fmt.Errorf("turn %s not found", turnID)
	}

	cancel()

	return nil
}

// ActiveTurns returns the number of running turns.
func (e *Engine) ActiveTurns() int {
	e.turnsMu.Lock()
	defer e.turnsMu.Unlock()

	return len(e.activeTurns)
}

// open resolves the thread of a turn and acquires its lease. The lease is
// taken before loading so the snapshot cannot go stale.
func (e *Engine) open(ctx context.Context, requested string) (*core.Thread, bool, func(), error) {
	id := strings.TrimSpace(requested)

	if id != "" && id != NullThreadID {
		release, err := e.store.Acquire(id)
		if err != nil {
			return nil, false, nil, err
		}

		thread, err := e.store.Load(ctx, id)
		if err == nil {
			return thread, false, release, nil
		}

		release()

		if !errors.Is(err, core.ErrThreadNotFound) {
			return nil, false, nil, fmt.Errorf("load thread %s: %w", id, err)
		}

		e.logger.Warn("engine.thread.not_found", "thread_id", id)
	}

	thread, err := e.store.Create(ctx)
	if err != nil {
		return nil, false, nil, fmt.Errorf("create thread: %w", err)
	}

	release, err := e.store.Acquire(thread.ID)
	if err != nil {
		return nil, false, nil, err
	}

	return thread, true, release, nil
}

func (e *Engine) runTurn(runCtx *core.RunContext, created bool) {
	start := time.Now()

	ctx, span := e.tracer.Start(runCtx.Context, "engine.turn", trace.WithAttributes(
		attribute.String("thread.id", runCtx.ThreadID),
		attribute.String("turn.id", runCtx.TurnID),
		attribute.Bool("thread.new", created),
	))
	defer span.End()

	runCtx = runCtx.WithContext(ctx)

	runCtx.LogInfo("engine.turn.start", "new_thread", created)

	cbCtx := &CallbackContext{RunContext: runCtx, NewThread: created}
	e.runCallbacks(runCtx, CallbackTurnStart, cbCtx)

	var err error
	if created {
		err = runCtx.EmitEvent(core.NewEvent(core.EventThreadCreated, ""))
	}

	if err == nil {
		err = e.drive(runCtx)
	}

	switch {
	case err == nil:
		runCtx.LogInfo("engine.turn.complete", "duration_ms", time.Since(start).Milliseconds())
	case runCtx.Err() != nil:
		runCtx.LogInfo("engine.turn.cancelled", "duration_ms", time.Since(start).Milliseconds())
		span.SetStatus(codes.Error, "cancelled")
	default:
		runCtx.LogError("engine.turn.failed", "error", err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		cbCtx.Err = err
		e.runCallbacks(runCtx, CallbackOnError, cbCtx)

		_ = runCtx.EmitEvent(core.NewErrorEvent(runCtx.Agent, err))
	}

	_ = runCtx.EmitEvent(core.NewEvent(core.EventTurnEnd, ""))

	cbCtx.Err = err
	cbCtx.Duration = time.Since(start)
	e.runCallbacks(runCtx, CallbackTurnEnd, cbCtx)
}

// drive walks the agent graph from the supervisor until End.
func (e *Engine) drive(runCtx *core.RunContext) error {
	steps := core.NewLimiter(e.opts.MaxSteps, core.ErrStepLimitExceeded)
	state := StateSupervisor

	for state != StateEnd {
		if err := runCtx.Err(); err != nil {
			return err
		}

		if err := steps.Increment(); err != nil {
			runCtx.LogWarn("engine.steps.exceeded", "max", e.opts.MaxSteps, "state", state.String())
			return err
		}

		worker, err := e.workers.forState(state)
		if err != nil {
			return err
		}

		res, err := e.step(runCtx, worker)
		if err != nil {
			return err
		}

		next, err := Transition(state, res.Next, e.opts.Policy)
		if err != nil {
			return err
		}

		runCtx.LogDebug("engine.transition", "from", state.String(), "to", next.String())

		state = next
	}

	return nil
}

func (e *Engine) step(runCtx *core.RunContext, worker agent.Worker) (*agent.Result, error) {
	ctx, span := e.tracer.Start(runCtx.Context, "engine.agent", trace.WithAttributes(
		attribute.String("agent.name", worker.Name()),
	))
	defer span.End()

	runCtx = runCtx.WithContext(ctx).ForAgent(worker.Name())

	cbCtx := &CallbackContext{RunContext: runCtx, Agent: worker.Name()}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeAgent, cbCtx); err != nil {
		return nil, fmt.Errorf("before_agent callback: %w", err)
	}

	start := time.Now()
	res, err := worker.Run(runCtx)

	if err == nil && res == nil {
		err = fmt.Errorf("agent %s returned no result", worker.Name())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	cbCtx.Result = res
	cbCtx.Err = err
	cbCtx.Duration = time.Since(start)
	e.runCallbacks(runCtx, CallbackAfterAgent, cbCtx)

	return res, err
}

// runCallbacks executes callbacks whose errors do not affect the turn.
func (e *Engine) runCallbacks(runCtx *core.RunContext, t CallbackType, cbCtx *CallbackContext) {
	if err := e.callbacks.ExecuteCallbacks(runCtx.Context, t, cbCtx); err != nil {
		runCtx.LogWarn("engine.callback.failed", "callback", string(t), "error", err.Error())
	}
}
