package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/finmesh/finmesh/core"
	"github.com/finmesh/finmesh/logging"
	"github.com/finmesh/finmesh/model"
)

// CoachOptions configures a CoachAgent instance.
//
// Use functional options with NewCoachAgent to override defaults.
type CoachOptions struct {
	Type        string
	Description string
	Instruction Instruction
	// MaxHistoryTurns caps how many trailing conversation turns are replayed
	// to the model on each run.
	MaxHistoryTurns int
	Logger          logging.Logger
}

// CoachAgent is a model-backed conversational agent. It renders the enhanced
// invocation context (memory summary, relevant insights, personalization
// notes) into the instruction preamble, replays recent history and generates
// a reply through the configured model. Failures never panic across the
// boundary; they surface as an unsuccessful AgentResponse or a typed error.
type CoachAgent struct {
	name        string
	agentType   string
	description string
	instruction Instruction
	maxHistory  int
	llm         model.Model
	logger      logging.Logger

	mu    sync.Mutex
	ready bool
}

// NewCoachAgent creates a model-backed agent with sensible defaults. The
// agent starts ready when a model is supplied.
func NewCoachAgent(name string, llm model.Model, optFns ...func(o *CoachOptions)) *CoachAgent {
	opts := CoachOptions{
		Type:            "coach",
		Description:     fmt.Sprintf("Agent %s", name),
		Instruction:     NewInstructionFromText(fmt.Sprintf("You are %s, a supportive financial coach.", name)),
		MaxHistoryTurns: 10,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &CoachAgent{
		name:        name,
		agentType:   opts.Type,
		description: opts.Description,
		instruction: opts.Instruction,
		maxHistory:  opts.MaxHistoryTurns,
		llm:         llm,
		logger:      opts.Logger,
		ready:       llm != nil,
	}
}

// Name returns the human-readable name for this agent.
func (a *CoachAgent) Name() string { return a.name }

// Type returns the agent's declared specialization type.
func (a *CoachAgent) Type() string { return a.agentType }

// Description returns a detailed description of this agent's purpose.
func (a *CoachAgent) Description() string { return a.description }

// Ready reports whether the agent can accept work.
func (a *CoachAgent) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready && a.llm != nil
}

// SetReady toggles the agent's readiness. Useful for draining an agent
// without unregistering it.
func (a *CoachAgent) SetReady(ready bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready = ready
}

// Run generates a reply for message within the invocation context. The
// returned AgentResponse carries Success=false with an Error string for
// model failures; a non-nil error is reserved for broken preconditions.
func (a *CoachAgent) Run(ctx context.Context, message string, inv *core.Invocation) (resp *core.AgentResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Agent run panicked", "agent", a.name, "panic", fmt.Sprintf("%v", r))
			resp = &core.AgentResponse{Success: false, Error: fmt.Sprintf("agent panic: %v", r)}
			err = nil
		}
	}()

	if inv == nil {
		inv = core.NewInvocation("", "")
	}

	instructions, err := a.instruction.Resolve(inv)
	if err != nil {
		return nil, core.WrapError(core.KindTransitionFailure, err, "resolve instructions for %s", a.name)
	}

	req := model.Request{
		Instructions: a.buildPreamble(instructions, inv),
		Messages:     a.buildMessages(message, inv),
	}

	out, err := a.llm.Generate(ctx, req)
	if err != nil {
		a.logger.Warn("Model generation failed", "agent", a.name, "error", err.Error())
		return &core.AgentResponse{Success: false, Error: err.Error()}, nil
	}

	return &core.AgentResponse{
		Success:  true,
		Response: out.Text,
		Metadata: map[string]string{
			"agent_type":    a.agentType,
			"model":         a.llm.Info().Name,
			"finish_reason": out.FinishReason,
		},
	}, nil
}

// buildPreamble renders the assembled memory context beneath the base
// instructions so the model sees who it is talking to.
func (a *CoachAgent) buildPreamble(instructions string, inv *core.Invocation) string {
	var sb strings.Builder
	sb.WriteString(instructions)

	if inv.MemorySummary != "" {
		sb.WriteString("\n\nWhat you know about this user:\n")
		sb.WriteString(inv.MemorySummary)
	}
	if len(inv.Insights) > 0 {
		sb.WriteString("\n\nRelevant insights:\n")
		for _, insight := range inv.Insights {
			sb.WriteString("- ")
			sb.WriteString(insight)
			sb.WriteString("\n")
		}
	}
	if len(inv.Personalization) > 0 {
		sb.WriteString("\nPersonalization notes:\n")
		for _, key := range sortedNoteKeys(inv.Personalization) {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", key, inv.Personalization[key]))
		}
	}
	if len(inv.Goals) > 0 {
		sb.WriteString("\nActive goals: ")
		sb.WriteString(strings.Join(inv.Goals, ", "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildMessages replays the trailing conversation turns then appends the
// current user message.
func (a *CoachAgent) buildMessages(message string, inv *core.Invocation) []model.Message {
	history := inv.History
	if a.maxHistory > 0 && len(history) > a.maxHistory {
		history = history[len(history)-a.maxHistory:]
	}

	messages := make([]model.Message, 0, len(history)+1)
	for _, turn := range history {
		role := "user"
		if turn.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, model.Message{Role: role, Text: turn.Text})
	}
	return append(messages, model.Message{Role: "user", Text: message})
}

func sortedNoteKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ core.Agent = (*CoachAgent)(nil)
