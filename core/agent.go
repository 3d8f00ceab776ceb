package core

import (
	"context"
	"sort"
	"sync"
)

// Agent is a named, specialized conversational capability bundle invoked by
// the orchestrator. Implementations wrap an external language-model call and
// must never panic across this boundary: failures are reported either through
// AgentResponse.Success=false (agent-level failures the model surfaced) or a
// returned error (transport/infrastructure failures).
type Agent interface {
	// Name returns the unique agent identifier (snake_case recommended,
	// e.g. "budget_coach").
	Name() string

	// Type categorizes the agent for memory relevance filtering and
	// personalization ("budget_coach", "transaction_analyst", "advisor", ...).
	Type() string

	// Description is a short human-readable summary of the agent's specialty.
	Description() string

	// Ready reports whether the agent is initialized and able to serve.
	Ready() bool

	// Run invokes the agent once with the user message and enriched
	// invocation context. It is called at most once per orchestration
	// attempt; retry policy belongs to the caller.
	Run(ctx context.Context, message string, inv *Invocation) (*AgentResponse, error)
}

// AgentResponse is the normalized outcome of one agent invocation.
// Exactly one of Response/Error carries content depending on Success.
type AgentResponse struct {
	Success  bool              `json:"success"`
	Response string            `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Registry holds the fixed set of agents known to the orchestrator. It is
// safe for concurrent use; registration normally happens once at startup.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry constructs an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent, overwriting a previous registration under the same
// name. Overwrite is intentional so tests can swap implementations.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name()] = a
}

// Get returns the agent registered under name, or a NotFound error.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, NewError(KindNotFound, "agent %q is not registered", name)
	}
	return a, nil
}

// Has reports whether an agent is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// Names returns the sorted list of registered agent names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
