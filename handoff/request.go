package handoff

import (
	"time"

	"github.com/finmesh/finmesh/core"
)

// Priority expresses how forcefully a handoff request should be treated.
type Priority string

const (
	// PriorityLow marks opportunistic transfers.
	PriorityLow Priority = "low"
	// PriorityMedium is the default transfer priority.
	PriorityMedium Priority = "medium"
	// PriorityHigh marks transfers the source agent considers important.
	PriorityHigh Priority = "high"
	// PriorityUrgent marks transfers that immediately raise escalation from
	// level zero.
	PriorityUrgent Priority = "urgent"
)

// Request asks the engine to transfer conversational control from one agent
// to another. EscalationLevel is carried forward from the causal chain and is
// monotonically non-decreasing within it.
type Request struct {
	FromAgent string         `json:"from_agent"`
	ToAgent   string         `json:"to_agent"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"` // original user message
	Reason    string         `json:"reason"`
	Priority  Priority       `json:"priority"`
	Context   map[string]any `json:"context,omitempty"`
	// EscalationLevel is the current level in 0..MaxEscalationLevel.
	EscalationLevel int  `json:"escalation_level"`
	PreserveHistory bool `json:"preserve_history"`
}

// Result is the outcome of one handoff attempt. Every attempt, including
// failed ones, receives a unique HandoffID.
type Result struct {
	HandoffID string `json:"handoff_id"`
	Success   bool   `json:"success"`
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	UserID    string `json:"user_id"`
	Response  string `json:"response,omitempty"`

	ContextPreserved bool `json:"context_preserved"`
	// PreservedItems counts the synthetic records successfully written while
	// preserving history.
	PreservedItems int `json:"preserved_items"`

	EscalationTriggered bool   `json:"escalation_triggered"`
	EscalationReason    string `json:"escalation_reason,omitempty"`
	// EscalationLevel is the (possibly raised) level after this attempt.
	EscalationLevel int `json:"escalation_level"`

	FailureKind   core.ErrorKind    `json:"failure_kind,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Duration      time.Duration     `json:"duration"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
