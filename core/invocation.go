package core

import "time"

// Turn is one conversational exchange fragment: a user or assistant message.
// The memory assembler produces bounded slices of turns for agent context.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	AgentName string    `json:"agent_name,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Invocation is the per-call context handed to an agent. The outward request
// surface supplies identity and the raw business context; the orchestrator
// enriches it with assembled memory before the agent runs.
//
// An Invocation is owned by a single logical call chain and must not be
// shared across concurrent invocations.
type Invocation struct {
	ID        string
	UserID    string
	SessionID string
	AgentName string
	Timestamp time.Time

	// Context carries the financial/business context attached by the caller
	// (goals, envelope state, request metadata). Opaque to the substrate.
	Context map[string]any

	// Goals, when present, trigger the orchestrator's goal-progress hook.
	Goals []string

	// Fields below are populated by the orchestrator from the memory
	// assembler before the agent is invoked.
	MemorySummary   string
	History         []Turn
	Insights        []string
	Personalization map[string]string

	// Metadata accumulates routing rationale, handoff annotations and other
	// bookkeeping surfaced back to the caller.
	Metadata map[string]string
}

// NewInvocation creates an invocation for the given identity with empty maps
// ready for enrichment.
func NewInvocation(userID, sessionID string) *Invocation {
	return &Invocation{
		UserID:          userID,
		SessionID:       sessionID,
		Timestamp:       time.Now().UTC(),
		Context:         map[string]any{},
		Personalization: map[string]string{},
		Metadata:        map[string]string{},
	}
}

// Clone returns a deep copy safe for independent mutation by a downstream
// component (e.g. the handoff engine annotating a transition).
func (inv *Invocation) Clone() *Invocation {
	cp := *inv
	cp.Context = make(map[string]any, len(inv.Context))
	for k, v := range inv.Context {
		cp.Context[k] = v
	}
	cp.Goals = append([]string(nil), inv.Goals...)
	cp.History = append([]Turn(nil), inv.History...)
	cp.Insights = append([]string(nil), inv.Insights...)
	cp.Personalization = make(map[string]string, len(inv.Personalization))
	for k, v := range inv.Personalization {
		cp.Personalization[k] = v
	}
	cp.Metadata = make(map[string]string, len(inv.Metadata))
	for k, v := range inv.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
