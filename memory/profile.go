package memory

import (
	"strings"
	"time"

	"github.com/finmesh/finmesh/internal/util"
)

// Preferences are the user's explicit coaching preferences. Fields keep their
// static defaults until a preference record overrides them.
type Preferences struct {
	CommunicationStyle string   `json:"communication_style"`
	RiskTolerance      string   `json:"risk_tolerance"`
	BudgetingStyle     string   `json:"budgeting_style"`
	Priorities         []string `json:"priorities,omitempty"`
}

// Learnings are behavioral observations extracted from insight records.
type Learnings struct {
	SpendingPatterns []string `json:"spending_patterns,omitempty"`
	Strengths        []string `json:"strengths,omitempty"`
	Challenges       []string `json:"challenges,omitempty"`
	Improvements     []string `json:"improvements,omitempty"`
}

// ProfileContext is the coarse situational view inferred from the most recent
// interactions.
type ProfileContext struct {
	FinancialSituation string    `json:"financial_situation"`
	Goals              []string  `json:"goals,omitempty"`
	CurrentFocus       string    `json:"current_focus"`
	LastInteraction    time.Time `json:"last_interaction,omitzero"`
}

// UserProfile is the derived per-user personalization snapshot. It is
// rebuildable deterministically from the entry log; the assembler caches it
// with bounded staleness as an optimization only.
type UserProfile struct {
	UserID      string         `json:"user_id"`
	Preferences Preferences    `json:"preferences"`
	Learnings   Learnings      `json:"learnings"`
	Context     ProfileContext `json:"context"`
	RebuiltAt   time.Time      `json:"rebuilt_at"`
}

// Clone returns a deep copy safe for handing across component boundaries.
func (p *UserProfile) Clone() *UserProfile {
	cp := *p
	cp.Preferences.Priorities = append([]string(nil), p.Preferences.Priorities...)
	cp.Learnings.SpendingPatterns = append([]string(nil), p.Learnings.SpendingPatterns...)
	cp.Learnings.Strengths = append([]string(nil), p.Learnings.Strengths...)
	cp.Learnings.Challenges = append([]string(nil), p.Learnings.Challenges...)
	cp.Learnings.Improvements = append([]string(nil), p.Learnings.Improvements...)
	cp.Context.Goals = append([]string(nil), p.Context.Goals...)
	return &cp
}

// newUserProfile returns the static-default profile for a user with no
// history.
func newUserProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID: userID,
		Preferences: Preferences{
			CommunicationStyle: "supportive",
			RiskTolerance:      "moderate",
			BudgetingStyle:     "balanced",
		},
		Context: ProfileContext{
			FinancialSituation: "new",
			CurrentFocus:       "getting_started",
		},
	}
}

// buildProfile derives a profile from the log entries, oldest first. The
// derivation is deterministic: the same entries always yield the same
// profile. Explicit preferences override static defaults; insight text is
// classified by substring matching; situation and focus come from the most
// recent interactions.
func buildProfile(userID string, entries []Entry) *UserProfile {
	p := newUserProfile(userID)

	var lastInteractions []Entry
	for _, e := range entries {
		switch e.Type {
		case TypePreference:
			applyPreference(p, e)
		case TypeInsight:
			applyInsight(p, e)
		case TypeGoal:
			p.Context.Goals = appendUnique(p.Context.Goals, e.Content)
		case TypeInteraction:
			lastInteractions = append(lastInteractions, e)
			p.Context.LastInteraction = e.CreatedAt
		}
	}

	if len(lastInteractions) > 0 {
		inferSituation(p, tail(lastInteractions, 5))
	}
	return p
}

// applyPreference overrides a profile default based on the record's category
// prefix. Unrecognized categories land in Priorities so they are never lost.
func applyPreference(p *UserProfile, e Entry) {
	category := e.Category()
	switch {
	case strings.HasPrefix(category, CategoryCommunication):
		p.Preferences.CommunicationStyle = e.Content
	case strings.HasPrefix(category, CategoryRiskManagement):
		p.Preferences.RiskTolerance = e.Content
	case strings.HasPrefix(category, CategoryBudgeting):
		p.Preferences.BudgetingStyle = e.Content
	case strings.HasPrefix(category, CategoryGoals):
		p.Context.Goals = appendUnique(p.Context.Goals, e.Content)
	default:
		p.Preferences.Priorities = appendUnique(p.Preferences.Priorities, e.Content)
	}
}

// applyInsight classifies insight text into learnings buckets by substring
// matching.
func applyInsight(p *UserProfile, e Entry) {
	text := e.Content
	switch {
	case util.ContainsAny(text, "overspend", "spending", "impulse", "pattern"):
		p.Learnings.SpendingPatterns = appendUnique(p.Learnings.SpendingPatterns, text)
	case util.ContainsAny(text, "strength", "consistent", "disciplined", "good at"):
		p.Learnings.Strengths = appendUnique(p.Learnings.Strengths, text)
	case util.ContainsAny(text, "challenge", "struggle", "difficulty", "hard time"):
		p.Learnings.Challenges = appendUnique(p.Learnings.Challenges, text)
	case util.ContainsAny(text, "improv", "progress", "better"):
		p.Learnings.Improvements = appendUnique(p.Learnings.Improvements, text)
	default:
		p.Learnings.SpendingPatterns = appendUnique(p.Learnings.SpendingPatterns, text)
	}
}

// inferSituation derives the coarse financial situation and current focus
// from the trailing interactions.
func inferSituation(p *UserProfile, recent []Entry) {
	var b strings.Builder
	for _, e := range recent {
		b.WriteString(e.Content)
		b.WriteByte('\n')
	}
	text := b.String()

	switch {
	case util.ContainsAny(text, "debt", "loan", "owe", "credit card"):
		p.Context.FinancialSituation = "managing_debt"
		p.Context.CurrentFocus = "debt_reduction"
	case util.ContainsAny(text, "budget", "envelope", "overspen"):
		p.Context.FinancialSituation = "stabilizing"
		p.Context.CurrentFocus = "budgeting"
	case util.ContainsAny(text, "save", "saving", "goal", "emergency fund"):
		p.Context.FinancialSituation = "building"
		p.Context.CurrentFocus = "goal_planning"
	case util.ContainsAny(text, "invest", "retirement", "portfolio"):
		p.Context.FinancialSituation = "growing"
		p.Context.CurrentFocus = "investing"
	default:
		p.Context.FinancialSituation = "stable"
		p.Context.CurrentFocus = "general_coaching"
	}
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
