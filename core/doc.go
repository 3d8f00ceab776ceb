// Package core defines the shared contracts of the FinMesh orchestration
// substrate: the closed set of error kinds exchanged between components, the
// Agent interface every conversational capability implements, the Invocation
// context handed to agents on each call, and the agent registry.
//
// Components (tool sandbox, memory assembler, handoff engine, orchestrator)
// depend only on this package and communicate through method calls returning
// copies or snapshots; no component mutates another's state.
package core
