package handoff

import (
	"context"
	"fmt"
	"sort"

	"github.com/finmesh/finmesh/internal/util"
)

// Suggestion is the routing advisor's answer: a single best target agent, a
// human-readable rationale and a confidence score in [0,1].
type Suggestion struct {
	Agent      string  `json:"agent"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// intentKeywords maps candidate agents to the message keywords signalling
// their specialty.
var intentKeywords = map[string][]string{
	"budget_coach":        {"budget", "envelope", "overspend", "spending plan", "allowance"},
	"transaction_analyst": {"transaction", "charge", "analysis", "analyze", "categorize", "statement"},
	"goal_planner":        {"goal", "save", "saving", "milestone", "emergency fund", "plan for"},
}

// urgencyKeywords signal that the user needs attention quickly; they raise
// confidence but never change the chosen target.
var urgencyKeywords = []string{"urgent", "immediately", "asap", "emergency", "right now"}

// focusAgents maps a profile's current focus to the agent best suited for it.
var focusAgents = map[string]string{
	"budgeting":      "budget_coach",
	"debt_reduction": "budget_coach",
	"goal_planning":  "goal_planner",
	"investing":      "advisor",
}

// RouteToOptimalAgent analyzes the message text, urgency and the user's
// memory-profile focus, and returns the single best target agent. It is pure
// advice: no state is mutated and callers decide whether to execute a
// handoff. Ties resolve to keeping the current agent.
func (e *Engine) RouteToOptimalAgent(ctx context.Context, message, currentAgent, userID string) (Suggestion, error) {
	scores := map[string]int{}
	for agent, keywords := range intentKeywords {
		if !e.registry.Has(agent) {
			continue
		}
		if n := util.MatchKeywords(message, keywords); n > 0 {
			scores[agent] = n
		}
	}

	profile, err := e.assembler.GetUserMemoryProfile(ctx, userID)
	if err != nil {
		return Suggestion{}, err
	}
	focusAgent := focusAgents[profile.Context.CurrentFocus]
	if focusAgent != "" && e.registry.Has(focusAgent) {
		scores[focusAgent]++
	}

	urgent := util.ContainsAny(message, urgencyKeywords...)

	best, bestScore := "", 0
	for _, agent := range sortedKeys(scores) { // deterministic tie-breaking
		if scores[agent] > bestScore {
			best, bestScore = agent, scores[agent]
		}
	}

	// No signal, or the best candidate is no better than staying put: keep
	// the current agent.
	if best == "" || best == currentAgent || bestScore <= scores[currentAgent] {
		s := Suggestion{
			Agent:      currentAgent,
			Reason:     "no stronger intent match; keeping current agent",
			Confidence: 0.3,
		}
		if urgent {
			s.Confidence = 0.4
			s.Reason += " (urgency noted)"
		}
		return s, nil
	}

	confidence := 0.4 + 0.15*float64(bestScore)
	reason := fmt.Sprintf("message intent matches %s (%d signals)", best, bestScore)
	if focusAgent == best {
		reason += fmt.Sprintf(", aligned with current focus %q", profile.Context.CurrentFocus)
	}
	if urgent {
		confidence += 0.15
		reason += ", urgency detected"
	}
	if confidence > 1 {
		confidence = 1
	}
	return Suggestion{Agent: best, Reason: reason, Confidence: confidence}, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
