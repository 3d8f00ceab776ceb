package handoff

import "sort"

// Rule is a static transition policy fixed at startup. Empty FromAgents or
// ToAgents sets match any agent. Predicate inspects the request's business
// context; a nil predicate accepts everything.
type Rule struct {
	Name        string
	FromAgents  []string
	ToAgents    []string
	Predicate   func(context map[string]any) bool
	Priority    int
	AutoApprove bool
}

// allows reports whether the rule's source/target sets include the pair.
func (r Rule) allows(from, to string) bool {
	return contains(r.FromAgents, from) && contains(r.ToAgents, to)
}

// accepts reports whether the rule's predicate approves the context.
func (r Rule) accepts(context map[string]any) bool {
	if r.Predicate == nil {
		return true
	}
	return r.Predicate(context)
}

func contains(set []string, name string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}

// sortRules orders rules by descending priority so the most specific policy
// is consulted first.
func sortRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// DefaultRules returns the startup rule set for the financial-coaching
// product. The final rule is the universal fallback required by the engine:
// without it, pairs not named by any specific rule could never hand off.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "coach_to_analyst_on_transactions",
			FromAgents: []string{"budget_coach", "advisor"},
			ToAgents:   []string{"transaction_analyst"},
			Predicate: func(context map[string]any) bool {
				_, ok := context["transactions"]
				return ok
			},
			Priority:    30,
			AutoApprove: true,
		},
		{
			Name:       "specialist_to_advisor_escalation",
			FromAgents: []string{"budget_coach", "transaction_analyst", "goal_planner"},
			ToAgents:   []string{"advisor"},
			Priority:   20,
		},
		{
			Name:     "universal_fallback",
			Priority: 0,
		},
	}
}
