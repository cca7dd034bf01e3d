// Package core provides the foundational domain types and execution contexts
// shared by every layer of vaagent:
//
//   - Messages and tool calls (the append-only conversation record)
//   - Threads and the CheckpointStore contract that persists them
//   - Raw execution Events pushed by the engine while a turn runs
//   - RunContext, the per-turn scope handed to agents and flows
//   - The error taxonomy surfaced at the engine boundary
//
// Implementations (stores, agents, the engine itself) live in sibling packages
// and depend on the small interfaces declared here.
package core
