package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/finmesh/finmesh/config"
	"github.com/finmesh/finmesh/core"
	"github.com/finmesh/finmesh/handoff"
	"github.com/finmesh/finmesh/logging"
	"github.com/finmesh/finmesh/memory"
	"github.com/finmesh/finmesh/tool"
)

// GoalTracker is the external collaborator notified when an invocation
// carries active goals. Tracking failures are logged, never fatal.
type GoalTracker interface {
	TrackProgress(ctx context.Context, userID string, goals []string, message string) error
}

// GoalTrackerFunc adapts a plain function to the GoalTracker interface.
type GoalTrackerFunc func(ctx context.Context, userID string, goals []string, message string) error

// TrackProgress calls the wrapped function.
func (f GoalTrackerFunc) TrackProgress(ctx context.Context, userID string, goals []string, message string) error {
	return f(ctx, userID, goals, message)
}

// Options configures an Orchestrator.
type Options struct {
	GoalTracker GoalTracker
	Config      config.Config
	Logger      logging.Logger
}

// Orchestrator coordinates agent runs, handoffs and routing over injected
// components. It performs no automatic retry: agent-reported failures are
// wrapped as typed errors and re-raised to the caller.
type Orchestrator struct {
	registry  *core.Registry
	sandbox   *tool.Sandbox
	assembler *memory.Assembler
	handoffs  *handoff.Engine
	tracker   GoalTracker
	limiter   *rate.Limiter
	cfg       config.Config
	logger    logging.Logger
}

// New constructs the orchestrator and wires itself as the handoff engine's
// invoker so transitions run through the same throttled dispatch path.
func New(registry *core.Registry, sandbox *tool.Sandbox, assembler *memory.Assembler, handoffs *handoff.Engine, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Config: *config.Default(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	var limiter *rate.Limiter
	if opts.Config.Model.RatePerSecond > 0 {
		burst := opts.Config.Model.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Config.Model.RatePerSecond), burst)
	}

	o := &Orchestrator{
		registry:  registry,
		sandbox:   sandbox,
		assembler: assembler,
		handoffs:  handoffs,
		tracker:   opts.GoalTracker,
		limiter:   limiter,
		cfg:       opts.Config,
		logger:    opts.Logger,
	}
	if handoffs != nil {
		handoffs.SetInvoker(o)
	}
	return o
}

// Sandbox exposes the tool sandbox for tool registration and metrics.
func (o *Orchestrator) Sandbox() *tool.Sandbox { return o.sandbox }

// Handoffs exposes the handoff engine for statistics and health checks.
func (o *Orchestrator) Handoffs() *handoff.Engine { return o.handoffs }

// RunAgent looks up the agent, checks readiness, builds the memory context,
// optionally tracks goal progress, invokes the agent and stores the
// interaction on success. Agent-reported failures come back as typed errors.
func (o *Orchestrator) RunAgent(ctx context.Context, agentName, message string, inv *core.Invocation) (*core.AgentResponse, error) {
	agent, err := o.registry.Get(agentName)
	if err != nil {
		return nil, err
	}
	if !agent.Ready() {
		return nil, core.NewError(core.KindNotReady, "agent %q is not ready", agentName)
	}

	if inv == nil {
		inv = core.NewInvocation("", "")
	}
	inv.AgentName = agentName

	mc, err := o.assembler.BuildAgentMemoryContext(ctx, inv.UserID, agentName, agent.Type(), inv.SessionID, true)
	if err != nil {
		return nil, core.WrapError(core.KindTransitionFailure, err, "building memory context for %s", agentName)
	}
	inv.MemorySummary = mc.Summary
	inv.History = mc.ConversationHistory
	inv.Insights = mc.RelevantInsights
	inv.Personalization = mc.Personalization

	if o.tracker != nil && len(inv.Goals) > 0 {
		if err := o.tracker.TrackProgress(ctx, inv.UserID, inv.Goals, message); err != nil {
			o.logger.Warn("Goal tracking failed", "user_id", inv.UserID, "error", err.Error())
		}
	}

	resp, err := o.dispatch(ctx, agent, message, inv)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, core.NewError(core.KindTransitionFailure, "agent %q reported failure: %s", agentName, resp.Error)
	}

	meta := map[string]string{"agent_type": agent.Type()}
	if err := o.assembler.StoreInteraction(ctx, inv.UserID, agentName, inv.SessionID, message, resp.Response, meta); err != nil {
		o.logger.Warn("Failed to store interaction", "user_id", inv.UserID, "error", err.Error())
	}
	return resp, nil
}

// ExecuteHandoff is a thin pass-through to the handoff engine that
// additionally logs duration and success.
func (o *Orchestrator) ExecuteHandoff(ctx context.Context, req handoff.Request) handoff.Result {
	start := time.Now()
	res := o.handoffs.ExecuteHandoff(ctx, req)
	o.logger.Info("Handoff dispatched",
		"handoff_id", res.HandoffID,
		"from_agent", req.FromAgent, "to_agent", req.ToAgent,
		"success", res.Success, "duration", time.Since(start))
	return res
}

// RouteToAgent asks the routing advisor for the best target and runs it,
// recording the rationale in the invocation metadata. Advisor errors degrade
// to the configured default agent rather than failing.
func (o *Orchestrator) RouteToAgent(ctx context.Context, message string, inv *core.Invocation) (*core.AgentResponse, error) {
	if inv == nil {
		inv = core.NewInvocation("", "")
	}
	if inv.Metadata == nil {
		inv.Metadata = make(map[string]string)
	}
	current := inv.AgentName
	if current == "" {
		current = o.cfg.DefaultAgent
	}

	target := o.cfg.DefaultAgent
	suggestion, err := o.handoffs.RouteToOptimalAgent(ctx, message, current, inv.UserID)
	if err != nil {
		o.logger.Warn("Routing advisor failed; using default agent",
			"user_id", inv.UserID, "default_agent", target, "error", err.Error())
		inv.Metadata["routing_reason"] = "advisor unavailable; default agent"
	} else {
		target = suggestion.Agent
		inv.Metadata["routing_reason"] = suggestion.Reason
		inv.Metadata["routing_confidence"] = fmt.Sprintf("%.2f", suggestion.Confidence)
	}
	if !o.registry.Has(target) {
		target = o.cfg.DefaultAgent
	}
	inv.Metadata["routed_to"] = target

	return o.RunAgent(ctx, target, message, inv)
}

// Invoke implements handoff.Invoker: the engine has already assembled the
// target's memory context, so this only throttles and dispatches.
func (o *Orchestrator) Invoke(ctx context.Context, agentName, message string, inv *core.Invocation) (*core.AgentResponse, error) {
	agent, err := o.registry.Get(agentName)
	if err != nil {
		return nil, err
	}
	if !agent.Ready() {
		return nil, core.NewError(core.KindNotReady, "agent %q is not ready", agentName)
	}
	return o.dispatch(ctx, agent, message, inv)
}

// dispatch throttles the model call then runs the agent, logging latency.
func (o *Orchestrator) dispatch(ctx context.Context, agent core.Agent, message string, inv *core.Invocation) (*core.AgentResponse, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, core.WrapError(core.KindTimeout, err, "waiting for model-call slot")
		}
	}

	start := time.Now()
	resp, err := agent.Run(ctx, message, inv)
	dur := time.Since(start)
	if err != nil {
		o.logger.Error("Agent run failed", "agent", agent.Name(), "duration", dur, "error", err.Error())
		return nil, core.WrapError(core.KindTransitionFailure, err, "running agent %q", agent.Name())
	}
	o.logger.Debug("Agent run completed", "agent", agent.Name(), "duration", dur, "success", resp.Success)
	return resp, nil
}

var _ handoff.Invoker = (*Orchestrator)(nil)
