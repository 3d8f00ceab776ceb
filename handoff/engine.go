package handoff

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/finmesh/finmesh/config"
	"github.com/finmesh/finmesh/core"
	"github.com/finmesh/finmesh/logging"
	"github.com/finmesh/finmesh/memory"
)

// Invoker executes the target agent during a transition. The orchestrator
// implements this seam so the engine stays decoupled from agent invocation
// mechanics.
type Invoker interface {
	Invoke(ctx context.Context, agentName, message string, inv *core.Invocation) (*core.AgentResponse, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, agentName, message string, inv *core.Invocation) (*core.AgentResponse, error)

// Invoke calls the wrapped function.
func (f InvokerFunc) Invoke(ctx context.Context, agentName, message string, inv *core.Invocation) (*core.AgentResponse, error) {
	return f(ctx, agentName, message, inv)
}

// activeHandoff tracks an in-flight transition for health reporting.
type activeHandoff struct {
	id        string
	fromAgent string
	toAgent   string
	userID    string
	started   time.Time
}

// Health is the engine's health snapshot. An issue is any active handoff
// older than the configured stale timeout that is still unresolved.
type Health struct {
	IsHealthy       bool     `json:"is_healthy"`
	ActiveHandoffs  int      `json:"active_handoffs"`
	Issues          []string `json:"issues,omitempty"`
	RecordedResults int      `json:"recorded_results"`
}

// Engine validates and executes transfers of conversational control. It owns
// the per-user handoff history and the active-handoff set; both are guarded by
// a single mutex and exposed only as copies.
type Engine struct {
	registry  *core.Registry
	assembler *memory.Assembler
	invoker   Invoker
	rules     []Rule
	cfg       config.HandoffConfig
	logger    logging.Logger

	mu      sync.Mutex
	history map[string][]Result // userID -> results, newest first
	active  map[string]activeHandoff
	janitor *cron.Cron
}

// Options configures an Engine.
type Options struct {
	Rules  []Rule
	Config config.HandoffConfig
	Logger logging.Logger
}

// NewEngine constructs a handoff engine over the agent registry and memory
// assembler. The rule set defaults to DefaultRules and always needs a
// universal fallback; the invoker must be set before ExecuteHandoff is called.
func NewEngine(registry *core.Registry, assembler *memory.Assembler, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Rules:  DefaultRules(),
		Config: config.Default().Handoff,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		registry:  registry,
		assembler: assembler,
		rules:     sortRules(opts.Rules),
		cfg:       opts.Config,
		logger:    opts.Logger,
		history:   make(map[string][]Result),
		active:    make(map[string]activeHandoff),
	}
}

// SetInvoker wires the agent-invocation seam. Called once at startup by the
// orchestrator.
func (e *Engine) SetInvoker(inv Invoker) { e.invoker = inv }

// ExecuteHandoff runs the full transition pipeline: validation, context
// build, history preservation, escalation check, target invocation and
// recording. Validation failures abort before any side effects; failures in
// later steps still produce a recorded failing Result.
func (e *Engine) ExecuteHandoff(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{
		HandoffID:       uuid.NewString(),
		FromAgent:       req.FromAgent,
		ToAgent:         req.ToAgent,
		UserID:          req.UserID,
		EscalationLevel: req.EscalationLevel,
		Timestamp:       start.UTC(),
		Metadata:        map[string]string{},
	}

	// Step 1: validation, before any side effects. A validation failure is
	// returned to the caller but never recorded into the per-user history,
	// so it cannot feed the escalation or circular heuristics.
	if err := e.validate(req); err != nil {
		res.Success = false
		res.FailureKind = core.KindOf(err)
		res.FailureReason = err.Error()
		res.Duration = time.Since(start)
		e.logger.Warn("Handoff rejected",
			"from_agent", req.FromAgent, "to_agent", req.ToAgent,
			"user_id", req.UserID, "kind", string(res.FailureKind))
		return res
	}

	e.trackActive(res.HandoffID, req, start)
	defer e.untrackActive(res.HandoffID)

	// Steps 2-5 run inside a helper so any failure funnels into one recorded
	// failing result with whatever partial metadata was gathered.
	if err := e.transition(ctx, req, &res); err != nil {
		res.Success = false
		res.FailureKind = core.KindOf(err)
		res.FailureReason = err.Error()
	} else {
		res.Success = true
	}
	res.Duration = time.Since(start)

	// Step 6: record the attempt and summarize it as an insight.
	e.record(res)
	summary := fmt.Sprintf("Handoff %s -> %s (%s): success=%t escalation=%d",
		req.FromAgent, req.ToAgent, req.Reason, res.Success, res.EscalationLevel)
	if err := e.assembler.StoreInsight(ctx, req.UserID, "handoff_manager", req.SessionID, "handoff_manager", summary); err != nil {
		e.logger.Warn("Failed to store handoff insight", "error", err.Error())
	}

	e.logger.Info("Handoff executed",
		"handoff_id", res.HandoffID, "from_agent", req.FromAgent, "to_agent", req.ToAgent,
		"success", res.Success, "duration", res.Duration, "escalation_level", res.EscalationLevel)
	return res
}

// validate enforces step 1 of the pipeline: registration, readiness, rule
// match, escalation ceiling and circular-pattern rejection.
func (e *Engine) validate(req Request) error {
	for _, name := range []string{req.FromAgent, req.ToAgent} {
		agent, err := e.registry.Get(name)
		if err != nil {
			return err
		}
		if !agent.Ready() {
			return core.NewError(core.KindNotReady, "agent %q is not ready", name)
		}
	}

	if rule := e.matchRule(req); rule == nil {
		return core.NewError(core.KindRuleMismatch,
			"no handoff rule permits %s -> %s", req.FromAgent, req.ToAgent)
	}

	if req.EscalationLevel >= e.cfg.MaxEscalationLevel {
		return core.NewError(core.KindEscalationLimit,
			"escalation level %d reached the maximum %d", req.EscalationLevel, e.cfg.MaxEscalationLevel)
	}

	if e.isCircular(req) {
		return core.NewError(core.KindCircularHandoff,
			"handoff %s -> %s would reverse the previous transition for user %s",
			req.FromAgent, req.ToAgent, req.UserID)
	}
	return nil
}

// matchRule returns the highest-priority rule whose sets include the pair and
// whose predicate accepts the request context.
func (e *Engine) matchRule(req Request) *Rule {
	for i := range e.rules {
		r := e.rules[i]
		if r.allows(req.FromAgent, req.ToAgent) && r.accepts(req.Context) {
			return &r
		}
	}
	return nil
}

// isCircular scans the trailing window of recorded handoffs for the user: a
// successful a->b anywhere in the window makes a candidate b->a a loop.
func (e *Engine) isCircular(req Request) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := e.history[req.UserID] // newest first
	if len(results) > e.cfg.CircularWindow {
		results = results[:e.cfg.CircularWindow]
	}
	for _, r := range results {
		if r.Success && r.FromAgent == req.ToAgent && r.ToAgent == req.FromAgent {
			return true
		}
	}
	return false
}

// transition performs steps 2-5: build target context, preserve history,
// escalation check, invoke the target agent.
func (e *Engine) transition(ctx context.Context, req Request, res *Result) error {
	// Step 2: target agent memory context merged with the request's
	// business context.
	target, err := e.registry.Get(req.ToAgent)
	if err != nil {
		return err
	}
	mc, err := e.assembler.BuildAgentMemoryContext(ctx, req.UserID, req.ToAgent, target.Type(), req.SessionID, true)
	if err != nil {
		return core.WrapError(core.KindTransitionFailure, err, "building target memory context")
	}

	inv := core.NewInvocation(req.UserID, req.SessionID)
	inv.AgentName = req.ToAgent
	for k, v := range req.Context {
		inv.Context[k] = v
	}
	inv.MemorySummary = mc.Summary
	inv.History = mc.ConversationHistory
	inv.Insights = mc.RelevantInsights
	inv.Personalization = mc.Personalization
	inv.Metadata["handoff_id"] = res.HandoffID
	inv.Metadata["handoff_from"] = req.FromAgent
	inv.Metadata["handoff_reason"] = req.Reason

	// Step 3: synthetic transition records.
	if req.PreserveHistory {
		e.preserveHistory(ctx, req, res)
	}

	// Step 4: escalation heuristics never block the handoff.
	e.checkEscalation(req, res)
	inv.Metadata["escalation_level"] = strconv.Itoa(res.EscalationLevel)

	// Step 5: annotated transition message through the invoker seam.
	if e.invoker == nil {
		return core.NewError(core.KindTransitionFailure, "handoff engine has no invoker configured")
	}
	message := e.buildTransitionMessage(req, res, mc)
	resp, err := e.invoker.Invoke(ctx, req.ToAgent, message, inv)
	if err != nil {
		return core.WrapError(core.KindTransitionFailure, err, "invoking target agent %q", req.ToAgent)
	}
	if !resp.Success {
		return core.NewError(core.KindTransitionFailure, "target agent %q reported failure: %s", req.ToAgent, resp.Error)
	}
	res.Response = resp.Response
	return nil
}

// preserveHistory writes the outgoing/incoming synthetic records plus one
// context_preservation insight, counting each successful write.
func (e *Engine) preserveHistory(ctx context.Context, req Request, res *Result) {
	meta := map[string]string{"handoff_id": res.HandoffID}

	outgoing := fmt.Sprintf("Handing off to %s: %s", req.ToAgent, req.Reason)
	if err := e.assembler.StoreTurn(ctx, req.UserID, req.FromAgent, req.SessionID, "assistant", outgoing, meta); err != nil {
		e.logger.Warn("Failed to write outgoing handoff record", "error", err.Error())
	} else {
		res.PreservedItems++
	}

	incoming := fmt.Sprintf("Incoming handoff from %s: %s", req.FromAgent, req.Reason)
	if err := e.assembler.StoreTurn(ctx, req.UserID, req.ToAgent, req.SessionID, "user", incoming, meta); err != nil {
		e.logger.Warn("Failed to write incoming handoff record", "error", err.Error())
	} else {
		res.PreservedItems++
	}

	note := fmt.Sprintf("Context preserved across handoff %s -> %s (%s)", req.FromAgent, req.ToAgent, req.Reason)
	if err := e.assembler.StoreInsight(ctx, req.UserID, req.FromAgent, req.SessionID, "context_preservation", note); err != nil {
		e.logger.Warn("Failed to write context preservation insight", "error", err.Error())
	} else {
		res.PreservedItems++
	}

	res.ContextPreserved = res.PreservedItems > 0
}

// checkEscalation scans the user's recent handoffs and raises the level when
// the volume, priority or failure heuristics fire. The level is monotonically
// non-decreasing and capped at the configured maximum; escalation is recorded
// in metadata and never blocks the transition.
func (e *Engine) checkEscalation(req Request, res *Result) {
	e.mu.Lock()
	recent, failed := 0, 0
	cutoff := time.Now().Add(-e.cfg.EscalationWindow.Std())
	for _, r := range e.history[req.UserID] {
		if r.Timestamp.Before(cutoff) {
			break // newest first; everything past here is older
		}
		recent++
		if !r.Success {
			failed++
		}
	}
	e.mu.Unlock()

	level := req.EscalationLevel
	var reason string
	switch {
	case recent >= e.cfg.RecentHandoffThreshold:
		level++
		reason = "Multiple recent handoffs detected"
	case req.Priority == PriorityUrgent && level == 0:
		level++
		reason = "Urgent priority handoff"
	case failed >= e.cfg.RecentFailureThreshold:
		level++
		reason = "Multiple recent handoff failures"
	}
	if level > e.cfg.MaxEscalationLevel {
		level = e.cfg.MaxEscalationLevel
	}

	if level > req.EscalationLevel {
		res.EscalationTriggered = true
		res.EscalationReason = reason
		res.Metadata["escalation_reason"] = reason
	}
	res.EscalationLevel = level
	res.Metadata["new_level"] = strconv.Itoa(level)
}

// buildTransitionMessage constructs the handoff-annotated message sent to the
// target agent: header, context summary, original user message and
// personalization notes.
func (e *Engine) buildTransitionMessage(req Request, res *Result, mc *memory.AgentContext) string {
	header := fmt.Sprintf("[Handoff %s -> %s] reason: %s | priority: %s | escalation: %d",
		req.FromAgent, req.ToAgent, req.Reason, req.Priority, res.EscalationLevel)
	notes := fmt.Sprintf("Personalization: %s communication, emphasis on %s",
		mc.Personalization["communication_style"], mc.Personalization["emphasis"])
	return fmt.Sprintf("%s\n%s\n%s\n---\n%s", header, mc.Summary, notes, req.Message)
}

// record appends the result to the per-user history, newest first, capped at
// the configured size.
func (e *Engine) record(res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := append([]Result{res}, e.history[res.UserID]...)
	if len(results) > e.cfg.UserHistorySize {
		results = results[:e.cfg.UserHistorySize]
	}
	e.history[res.UserID] = results
}

// UserHistory returns a copy of the recorded results for one user, newest first.
func (e *Engine) UserHistory(userID string) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.history[userID]))
	copy(out, e.history[userID])
	return out
}

func (e *Engine) trackActive(id string, req Request, started time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[id] = activeHandoff{
		id: id, fromAgent: req.FromAgent, toAgent: req.ToAgent,
		userID: req.UserID, started: started,
	}
}

func (e *Engine) untrackActive(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

// CheckHealth reports the engine's health: unhealthy when any active handoff
// has been unresolved longer than the stale timeout.
func (e *Engine) CheckHealth() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := Health{IsHealthy: true, ActiveHandoffs: len(e.active)}
	for _, a := range e.active {
		if age := time.Since(a.started); age > e.cfg.StaleTimeout.Std() {
			h.IsHealthy = false
			h.Issues = append(h.Issues, fmt.Sprintf(
				"handoff %s (%s -> %s) unresolved for %s", a.id, a.fromAgent, a.toAgent, age.Round(time.Second)))
		}
	}
	for _, results := range e.history {
		h.RecordedResults += len(results)
	}
	return h
}

// StartJanitor schedules a periodic sweep that logs stale active handoffs.
// The sweep is observational: transitions cannot be cancelled once started,
// so the janitor surfaces them for operators rather than killing them.
func (e *Engine) StartJanitor() error {
	if e.cfg.JanitorSchedule == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(e.cfg.JanitorSchedule, func() {
		if h := e.CheckHealth(); !h.IsHealthy {
			for _, issue := range h.Issues {
				e.logger.Warn("Stale handoff detected", "issue", issue)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("schedule handoff janitor: %w", err)
	}
	c.Start()
	e.mu.Lock()
	e.janitor = c
	e.mu.Unlock()
	return nil
}

// StopJanitor stops the periodic sweep if one is running.
func (e *Engine) StopJanitor() {
	e.mu.Lock()
	c := e.janitor
	e.janitor = nil
	e.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}
