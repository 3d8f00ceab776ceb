package memory

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EntryType classifies a durable memory record.
type EntryType string

const (
	// TypeInteraction is one conversational turn (user or assistant).
	TypeInteraction EntryType = "interaction"
	// TypePreference is an explicit user preference (style, risk, priority).
	TypePreference EntryType = "preference"
	// TypeInsight is a derived observation about the user's finances.
	TypeInsight EntryType = "insight"
	// TypeGoal is a stated financial goal.
	TypeGoal EntryType = "goal"
	// TypeContext is auxiliary situational context.
	TypeContext EntryType = "context"
)

// Recognized category prefixes for preference and insight records. Categories
// are free-form strings; only these prefixes participate in relevance
// filtering.
const (
	CategoryBudgeting      = "budgeting"
	CategoryCommunication  = "communication"
	CategoryGoals          = "goals"
	CategoryRiskManagement = "risk_management"
)

// Metadata keys used by the assembler.
const (
	metaRole     = "role"
	metaCategory = "category"
)

// Entry is one durable fact about a user. Entries are immutable once written;
// the log is append-only. IDs are ULIDs so lexicographic order matches
// creation order.
type Entry struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	AgentName string            `json:"agent_name,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Type      EntryType         `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Category returns the record's category metadata, empty when absent.
func (e Entry) Category() string { return e.Metadata[metaCategory] }

// Role returns the conversational role for interaction records.
func (e Entry) Role() string { return e.Metadata[metaRole] }

// newEntryID generates a time-sortable unique record id.
func newEntryID() string { return ulid.Make().String() }

// agentRelevance maps an agent type to the category prefixes whose insights
// it receives. Types absent from the map (including the default "advisor")
// receive all insights.
var agentRelevance = map[string][]string{
	"budget_coach":        {CategoryBudgeting, CategoryGoals},
	"transaction_analyst": {CategoryBudgeting, CategoryRiskManagement},
	"goal_planner":        {CategoryGoals, CategoryCommunication},
}

// relevantCategories returns the category prefixes an agent type cares about,
// or nil meaning "all".
func relevantCategories(agentType string) []string {
	if cats, ok := agentRelevance[agentType]; ok {
		return cats
	}
	return nil
}
