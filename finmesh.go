// Package finmesh provides a high-level façade over the orchestration
// substrate (tool sandbox, memory assembler, handoff engine, orchestrator)
// enabling rapid construction of a multi-agent financial-coaching backend.
// Most applications interact with this package by:
//  1. Creating a FinMesh via New() (optionally overriding the config, model,
//     record store or logger)
//  2. Registering agents and tools
//  3. Running agents (RunAgent / RouteToAgent) or executing handoffs
//
// The façade delegates coordination to orchestrator.Orchestrator while
// keeping setup and usage ergonomics concise. All defaults are safe for
// local development and testing; production deployments typically supply a
// SQLite-backed record store path and a structured logger.
package finmesh

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/finmesh/finmesh/agent"
	"github.com/finmesh/finmesh/config"
	"github.com/finmesh/finmesh/core"
	"github.com/finmesh/finmesh/handoff"
	"github.com/finmesh/finmesh/logging"
	"github.com/finmesh/finmesh/memory"
	"github.com/finmesh/finmesh/model"
	"github.com/finmesh/finmesh/model/anthropic"
	"github.com/finmesh/finmesh/model/openai"
	"github.com/finmesh/finmesh/orchestrator"
	"github.com/finmesh/finmesh/tool"
)

// Options configures the FinMesh instance.
type Options struct {
	// Config drives component sizing, thresholds and the model provider.
	// Defaults to config.Default().
	Config *config.Config

	// Model overrides the provider built from Config.Model. Useful for tests
	// (model.NewMockModel) or custom providers.
	Model model.Model

	// Store overrides the durable record store. Defaults to SQLite when
	// Config.Memory.SQLitePath is set, in-memory otherwise.
	Store memory.RecordStore

	// Rules overrides the handoff rule set (defaults to handoff.DefaultRules).
	Rules []handoff.Rule

	// GoalTracker, when set, is notified on invocations carrying goals.
	GoalTracker orchestrator.GoalTracker

	// Logger (defaults to a slog JSON logger built from Config.Logger).
	Logger logging.Logger
}

// FinMesh is the high-level façade aggregating the substrate components.
type FinMesh struct {
	cfg       *config.Config
	registry  *core.Registry
	sandbox   *tool.Sandbox
	store     memory.RecordStore
	assembler *memory.Assembler
	handoffs  *handoff.Engine
	orch      *orchestrator.Orchestrator
	llm       model.Model
	logger    logging.Logger
}

// New creates a FinMesh instance with optional overrides. Any unset
// collaborator is initialized from the config.
func New(optFns ...func(o *Options)) (*FinMesh, error) {
	opts := Options{Config: config.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewSlogLogger(logging.ParseLevel(cfg.Logger.Level), cfg.Logger.Format, false)
	}

	store := opts.Store
	if store == nil {
		if cfg.Memory.SQLitePath != "" {
			s, err := memory.NewSQLiteStore(cfg.Memory.SQLitePath)
			if err != nil {
				return nil, fmt.Errorf("open memory store: %w", err)
			}
			store = s
		} else {
			store = memory.NewInMemoryStore()
		}
	}

	llm := opts.Model
	if llm == nil {
		m, err := buildModel(cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		llm = m
	}

	registry := core.NewRegistry()
	sandbox := tool.NewSandbox(func(o *tool.Options) {
		o.Config = cfg.Sandbox
		o.Logger = logger
	})
	assembler := memory.NewAssembler(store, func(o *memory.AssemblerOptions) {
		o.Config = cfg.Memory
		o.Logger = logger
	})

	rules := opts.Rules
	if len(rules) == 0 {
		rules = handoff.DefaultRules()
	}
	handoffs := handoff.NewEngine(registry, assembler, func(o *handoff.Options) {
		o.Rules = rules
		o.Config = cfg.Handoff
		o.Logger = logger
	})

	orch := orchestrator.New(registry, sandbox, assembler, handoffs, func(o *orchestrator.Options) {
		o.GoalTracker = opts.GoalTracker
		o.Config = *cfg
		o.Logger = logger
	})

	if err := handoffs.StartJanitor(); err != nil {
		return nil, err
	}

	return &FinMesh{
		cfg:       cfg,
		registry:  registry,
		sandbox:   sandbox,
		store:     store,
		assembler: assembler,
		handoffs:  handoffs,
		orch:      orch,
		llm:       llm,
		logger:    logger,
	}, nil
}

// buildModel constructs the configured provider wrapped in a circuit breaker.
func buildModel(cfg config.ModelConfig, logger logging.Logger) (model.Model, error) {
	var inner model.Model
	switch cfg.Provider {
	case "anthropic":
		inner = anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
		})
	case "openai":
		inner = openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = int64(cfg.MaxTokens)
		})
	case "mock", "":
		inner = model.NewMockModel(cfg.Name)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}

	return model.NewBreakerModel(inner, func(o *model.BreakerOptions) {
		o.MaxFailures = uint32(cfg.BreakerMaxFailures)
		o.Timeout = cfg.BreakerTimeout.Std()
		o.Logger = logger
	}), nil
}

// RegisterAgent adds an agent to the registry.
func (m *FinMesh) RegisterAgent(a core.Agent) { m.registry.Register(a) }

// RegisterDefaultAgents registers the standard coaching roster (budget coach,
// transaction analyst, goal planner, advisor) backed by the configured model.
func (m *FinMesh) RegisterDefaultAgents() {
	roster := []struct {
		name, typ, instruction string
	}{
		{"budget_coach", "budget_coach",
			"You are a budget coach. Help the user plan spending, build envelopes and stay within their budget."},
		{"transaction_analyst", "transaction_analyst",
			"You are a transaction analyst. Categorize and explain the user's transactions and flag unusual charges."},
		{"goal_planner", "goal_planner",
			"You are a goal planner. Break the user's savings goals into achievable milestones and track progress."},
		{"advisor", "advisor",
			"You are a general financial advisor. Answer broad questions and route specialized needs to colleagues."},
	}
	for _, r := range roster {
		a := agent.NewCoachAgent(r.name, m.llm, func(o *agent.CoachOptions) {
			o.Type = r.typ
			o.Instruction = agent.NewInstructionFromText(r.instruction)
			o.Logger = m.logger
		})
		m.registry.Register(a)
	}
}

// RegisterTool adds a tool definition to the sandbox.
func (m *FinMesh) RegisterTool(def tool.Definition) error { return m.sandbox.Register(def) }

// RunAgent dispatches one message to a named agent.
func (m *FinMesh) RunAgent(ctx context.Context, agentName, message string, inv *core.Invocation) (*core.AgentResponse, error) {
	return m.orch.RunAgent(ctx, agentName, message, inv)
}

// RouteToAgent picks the best agent for the message and runs it.
func (m *FinMesh) RouteToAgent(ctx context.Context, message string, inv *core.Invocation) (*core.AgentResponse, error) {
	return m.orch.RouteToAgent(ctx, message, inv)
}

// ExecuteHandoff transfers conversational control between agents.
func (m *FinMesh) ExecuteHandoff(ctx context.Context, req handoff.Request) handoff.Result {
	return m.orch.ExecuteHandoff(ctx, req)
}

// ExecuteTool runs a registered tool through the sandbox.
func (m *FinMesh) ExecuteTool(ctx context.Context, name string, args map[string]any, execCtx tool.ExecutionContext) tool.ExecutionResult {
	return m.sandbox.Execute(ctx, name, args, execCtx)
}

// Memory exposes the assembler for preference/insight writes and profile reads.
func (m *FinMesh) Memory() *memory.Assembler { return m.assembler }

// Orchestrator exposes the underlying orchestrator.
func (m *FinMesh) Orchestrator() *orchestrator.Orchestrator { return m.orch }

// Handoffs exposes the handoff engine for statistics and health checks.
func (m *FinMesh) Handoffs() *handoff.Engine { return m.handoffs }

// Registry exposes the agent registry.
func (m *FinMesh) Registry() *core.Registry { return m.registry }

// Close stops the handoff janitor and releases the record store.
func (m *FinMesh) Close() error {
	m.handoffs.StopJanitor()
	return m.store.Close()
}
