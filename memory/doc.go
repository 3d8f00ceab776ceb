// Package memory implements the FinMesh memory assembler: it persists
// interaction, preference and insight records per user into an append-only
// durable log, derives deterministic user profiles from that log, and
// synthesizes the bounded memory context handed to each agent invocation.
//
// Two RecordStore implementations are provided: SQLiteStore for durable
// deployments and InMemoryStore for tests and demos. The Assembler layers a
// per-user recent-entry cache and a profile cache on top; both caches are
// optimizations, and every derived structure is rebuildable from the log alone.
package memory
