// Package model defines the provider-agnostic abstraction for the language
// model consumed by FinMesh agents.
//
// The orchestration substrate treats the model as an opaque text-in/text-out
// call with non-deterministic latency and content: no streaming, no tool
// calling at this layer, no cancellation once a call has started. Providers
// (OpenAI, Anthropic) implement the Model interface so agents remain
// decoupled from vendor SDKs; BreakerModel wraps any provider with a circuit
// breaker, and MockModel serves tests.
package model
