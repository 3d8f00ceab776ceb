// Package tool implements the FinMesh tool sandbox: it registers named
// capabilities with declared schemas and risk metadata, and executes them with
// parameter validation, optional timeout and per-tool rolling metrics.
//
// The sandbox never retries and never lets a panic escape; every call yields
// an ExecutionResult with either a result or a structured error kind.
package tool

import (
	"context"
	"time"

	"github.com/finmesh/finmesh/core"
)

// RiskLevel classifies the blast radius of a capability.
type RiskLevel string

const (
	// RiskLow marks read-only or purely computational tools.
	RiskLow RiskLevel = "low"
	// RiskMedium marks tools that mutate user-scoped state.
	RiskMedium RiskLevel = "medium"
	// RiskHigh marks tools with side effects beyond the user's own records.
	RiskHigh RiskLevel = "high"
)

// ExecuteFunc is the capability implementation contract. It must be a pure
// async-safe function of its arguments and execution context; the sandbox
// provides validation, timeout and metrics around it.
type ExecuteFunc func(ctx context.Context, args map[string]any, execCtx ExecutionContext) (any, error)

// Definition describes a registered capability. Name is globally unique
// within a sandbox.
type Definition struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Category     string         `json:"category"`
	RiskLevel    RiskLevel      `json:"risk_level"`
	RequiresAuth bool           `json:"requires_auth"`
	Parameters   map[string]any `json:"parameters,omitempty"` // JSON-schema-like map
	Execute      ExecuteFunc    `json:"-"`
}

// ExecutionContext carries per-call identity and environment.
// UserID is required when the tool declares RequiresAuth.
type ExecutionContext struct {
	UserID    string        `json:"user_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	AgentName string        `json:"agent_name,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// ExecutionResult is the outcome of one sandboxed call. Exactly one of
// Result/Error is meaningful depending on Success.
type ExecutionResult struct {
	Tool      string         `json:"tool"`
	Success   bool           `json:"success"`
	Result    any            `json:"result,omitempty"`
	ErrorKind core.ErrorKind `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
}

// Metrics aggregates rolling per-tool execution statistics.
type Metrics struct {
	Executions   int           `json:"executions"`
	Errors       int           `json:"errors"`
	SuccessRate  float64       `json:"success_rate"`
	AvgDuration  time.Duration `json:"avg_duration"`
	LastExecuted time.Time     `json:"last_executed"`
}
