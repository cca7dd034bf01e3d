// Package vaagent assembles the virtual assistant: a supervisor routing each
// user turn to an enhancer, a researcher or a task agent, a checkpoint store
// keeping every conversation, and a translator turning the raw turn events
// into the streaming protocol.
//
// Most applications interact with this package by:
//  1. Creating an Assistant via New (or NewFromConfig for a full process setup)
//  2. Calling Chat for every inbound message and forwarding the returned events
//
// Example:
//
//	a, err := vaagent.New(llm, func(o *vaagent.Options) {
//	    o.Tasks = taskStore
//	    o.Searcher = search.NewClient()
//	})
//	threadID, events, err := a.Chat(ctx, "null", "Plan my week")
//	for ev := range events {
//	    fmt.Println(ev)
//	}
package vaagent

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/vaagent/agent"
	"github.com/hupe1980/vaagent/checkpoint"
	"github.com/hupe1980/vaagent/config"
	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/engine"
	"github.com/hupe1980/vaagent/internal/sqldb"
	"github.com/hupe1980/vaagent/logging"
	"github.com/hupe1980/vaagent/model"
	"github.com/hupe1980/vaagent/model/anthropic"
	"github.com/hupe1980/vaagent/model/openai"
	"github.com/hupe1980/vaagent/observability"
	"github.com/hupe1980/vaagent/stream"
	"github.com/hupe1980/vaagent/taskstore"
	"github.com/hupe1980/vaagent/tool/search"
	"github.com/hupe1980/vaagent/tool/tasks"
)

// Version is the release of the assistant, set at build time.
var Version = "dev"

// Options configures the Assistant.
type Options struct {
	// Store persists conversation threads. Defaults to an in-memory store.
	Store core.CheckpointStore

	// Tasks backs the task agent tools. Required.
	Tasks taskstore.Store

	// Searcher backs the researcher's search tool. Required.
	Searcher search.Searcher

	// Logger defaults to NoOp.
	Logger logging.Logger

	// Policy tunes the agent graph.
	Policy engine.Policy

	// MaxSteps bounds the agent steps per turn (0 = engine default).
	MaxSteps int

	// Agent is applied to the enhancer, researcher and task agent.
	Agent func(o *agent.ModelAgentOptions)

	// Supervisor is applied to the supervisor.
	Supervisor func(o *agent.SupervisorOptions)

	// Metrics, if set, records turn, agent and tool metrics.
	Metrics *observability.Metrics

	// Stream configures the event translator.
	Stream func(o *stream.Options)

	// Callbacks are registered with the engine after the metric callbacks.
	Callbacks []engine.Callback
}

// Assistant is the high-level façade over the engine and the translator.
type Assistant struct {
	engine     *engine.Engine
	translator *stream.Translator
	tasks      taskstore.Store
	metrics    *observability.Metrics
	logger     logging.Logger
	closers    []func() error
}

// New creates an assistant backed by llm.
func New(llm model.Model, optFns ...func(o *Options)) (*Assistant, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if llm == nil {
		return nil, errors.New("model is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("task store is required")
	}
	if opts.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	agentOpts := func(o *agent.ModelAgentOptions) {
		if opts.Agent != nil {
			opts.Agent(o)
		}
	}

	supervisorOpts := func(o *agent.SupervisorOptions) {
		if opts.Supervisor != nil {
			opts.Supervisor(o)
		}
	}

	workers := engine.Workers{
		Supervisor: agent.NewSupervisor(llm, supervisorOpts),
		Enhancer:   agent.NewEnhancer(llm, agentOpts),
		Researcher: agent.NewResearcher(llm, search.NewTool(opts.Searcher), agentOpts),
		TaskAgent:  agent.NewTaskAgent(llm, tasks.NewTools(opts.Tasks), agentOpts),
	}

	var callbacks []engine.Callback
	if opts.Metrics != nil {
		callbacks = append(callbacks, opts.Metrics.Callbacks()...)
	}
	callbacks = append(callbacks, opts.Callbacks...)

	eng := engine.New(workers, func(o *engine.Options) {
		o.Store = opts.Store
		o.Policy = opts.Policy
		o.Logger = opts.Logger
		o.Callbacks = callbacks
		if opts.MaxSteps > 0 {
			o.MaxSteps = opts.MaxSteps
		}
	})

	var streamOpts []func(o *stream.Options)
	if opts.Stream != nil {
		streamOpts = append(streamOpts, opts.Stream)
	}

	return &Assistant{
		engine:     eng,
		translator: stream.NewTranslator(streamOpts...),
		tasks:      opts.Tasks,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}, nil
}

// Chat starts a turn for message on the thread checkpointID and returns the
// id of the thread the turn runs on together with the protocol events. An
// empty, "null" or unknown checkpointID starts a new thread, announced by a
// leading checkpoint event. The channel always ends with one end event.
//
// Chat fails before streaming for a blank message and for a thread that is
// already running a turn (core.ErrThreadBusy).
func (a *Assistant) Chat(ctx context.Context, checkpointID, message string) (string, <-chan stream.Event, error) {
	threadID, raw, err := a.engine.Run(ctx, engine.Turn{ThreadID: checkpointID, Message: message})
	if err != nil {
		a.logger.Warn("assistant.chat.rejected", "checkpoint_id", checkpointID, "error", err)
		return "", nil, err
	}

	if a.metrics != nil {
		raw = a.metrics.Tap(raw)
	}

	return threadID, a.translator.Translate(ctx, raw), nil
}

// Engine returns the underlying engine.
func (a *Assistant) Engine() *engine.Engine { return a.engine }

// Tasks returns the task store used by the task agent.
func (a *Assistant) Tasks() taskstore.Store { return a.tasks }

// Close releases resources opened by NewFromConfig.
func (a *Assistant) Close() error {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// NewFromConfig builds an assistant from the process configuration: it opens
// the database, migrates the task and checkpoint tables, selects the model
// provider and creates the search client. optFns run last and may override
// any of it. Close the assistant to release the database.
func NewFromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Assistant, error) {
	db, dialect, err := sqldb.Open(ctx, sqldb.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	taskStore := taskstore.NewSQLStore(db, dialect)
	if err := taskStore.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate task store: %w", err)
	}

	var store core.CheckpointStore
	if cfg.Checkpoint.Backend == "sql" {
		sqlStore := checkpoint.NewSQLStore(db, dialect)
		if err := sqlStore.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate checkpoint store: %w", err)
		}

		store = sqlStore
	} else {
		store = checkpoint.NewInMemoryStore()
	}

	llm, err := NewModel(cfg.LLM)
	if err != nil {
		db.Close()
		return nil, err
	}

	searcher := search.NewClient(func(o *search.Options) {
		o.APIKey = cfg.Search.APIKey
		if cfg.Search.BaseURL != "" {
			o.BaseURL = cfg.Search.BaseURL
		}
		o.MaxResults = cfg.Search.MaxResults
		if cfg.Search.SearchDepth != "" {
			o.SearchDepth = cfg.Search.SearchDepth
		}
		if cfg.Search.Topic != "" {
			o.Topic = cfg.Search.Topic
		}
		o.Timeout = cfg.Search.Timeout
	})

	a, err := New(llm, append([]func(o *Options){
		func(o *Options) {
			o.Store = store
			o.Tasks = taskStore
			o.Searcher = searcher
			o.Logger = logging.NewSlogLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, cfg.Logging.AddSource)
			o.Policy = engine.Policy{ReturnToSupervisor: cfg.Agent.ReturnToSupervisor}
			o.MaxSteps = cfg.Agent.MaxSteps
			o.Agent = func(ao *agent.ModelAgentOptions) {
				ao.MaxCycles = cfg.Agent.MaxCycles
				ao.ModelTimeout = cfg.Agent.ModelTimeout
				ao.ToolTimeout = cfg.Agent.ToolTimeout
				ao.MaxParallelTools = cfg.Agent.MaxParallelTools
				ao.MaxHistoryMessages = cfg.Agent.MaxHistoryMessages
			}
			o.Supervisor = func(so *agent.SupervisorOptions) {
				so.ModelTimeout = cfg.Agent.ModelTimeout
				so.MaxHistoryMessages = cfg.Agent.MaxHistoryMessages
			}
			o.Stream = func(so *stream.Options) {
				so.EmitToolEnd = cfg.Stream.EmitToolEnd
			}
		},
	}, optFns...)...)
	if err != nil {
		db.Close()
		return nil, err
	}

	a.closers = append(a.closers, db.Close)

	return a, nil
}

// Migrate creates the task and checkpoint tables in the configured database.
func Migrate(ctx context.Context, cfg *config.Config) error {
	db, dialect, err := sqldb.Open(ctx, sqldb.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := taskstore.NewSQLStore(db, dialect).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate task store: %w", err)
	}

	if err := checkpoint.NewSQLStore(db, dialect).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate checkpoint store: %w", err)
	}

	return nil
}

// NewModel creates the chat model selected by cfg.Provider.
func NewModel(cfg config.LLMConfig) (model.Model, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case "mock":
		name := cfg.Model
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name, "mock"), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
