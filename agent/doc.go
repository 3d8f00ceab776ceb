// Package agent provides the model-backed coaching agents that the
// orchestrator dispatches conversations to.
//
// CoachAgent is the single concrete implementation: it renders the user's
// assembled memory context (summary, insights, personalization notes) into
// the system instruction, replays recent conversation turns, and drives a
// model.Model to produce the reply. Agent specialization (budget coach,
// transaction analyst, goal planner, advisor) is purely a matter of
// instruction text and declared type; the orchestration substrate treats
// them uniformly through core.Agent.
package agent
