// Package handoff implements the FinMesh handoff engine: validated transfer
// of conversational control between agents with rule matching, escalation
// tracking, context preservation, circular-handoff detection and statistics.
//
// The engine also hosts the routing advisor (RouteToOptimalAgent), a pure
// function that suggests the best target agent for a message without mutating
// any state; callers decide whether to act on the suggestion.
package handoff
