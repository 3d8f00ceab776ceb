// Package orchestrator is the single entry point tying the substrate
// together: it looks up agents, assembles their memory context, throttles
// model calls, dispatches handoffs and persists successful interactions.
//
// The four components (tool sandbox, memory assembler, handoff engine, agent
// registry) are injected; the orchestrator holds no domain state of its own
// beyond the model-call rate limiter. It also implements the handoff
// engine's Invoker seam so transitions execute through the same throttled
// dispatch path as direct runs.
package orchestrator
