// Package memstore implements the per-session scoped memory store: five
// lifetime scopes, TTL-based lazy expiry (enforced at access time, no
// background sweep) and priority/recency eviction once a scope exceeds its
// capacity cap.
//
// Every entry lives simultaneously in its scope map and in the type/tag
// secondary indices; removal updates all three under one lock, so a dangling
// index id can only mean the entry was already removed and is treated as
// absent.
package memstore
