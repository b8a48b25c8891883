// Package core provides the foundational domain types and contracts used by
// SessionMesh. It defines the core abstractions for:
//
//   - Contexts (per-session scoped key/value trees with a computed union view)
//   - Conversation records (topics, intents, flow steps, phases)
//   - Tool executions (dependency-gated state machine records)
//   - Memory entries (scoped, TTL-bearing, priority-ranked values)
//   - Permissions (access levels and operation grants for external tools)
//
// The package intentionally keeps implementation concerns (tracking,
// coordination, eviction, persistence) out of scope, exposing plain types and
// small validation helpers so the implementation packages and custom backends
// can share one vocabulary without dependency cycles.
package core
