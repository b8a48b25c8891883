package core

import (
	"fmt"
	"time"
)

// MemoryScope partitions stored memory by lifetime and capacity class.
type MemoryScope string

const (
	// MemorySession lives as long as the owning session.
	MemorySession MemoryScope = "session"
	// MemoryConversation covers the current conversational exchange.
	MemoryConversation MemoryScope = "conversation"
	// MemoryTask covers a single task/workflow.
	MemoryTask MemoryScope = "task"
	// MemoryTemporary is short-lived scratch space; entries default to a one
	// hour TTL when none is given.
	MemoryTemporary MemoryScope = "temporary"
	// MemoryPersistent survives session clearing; keyed independent of the
	// session lifetime.
	MemoryPersistent MemoryScope = "persistent"
)

// MemoryScopes lists all memory scopes.
var MemoryScopes = []MemoryScope{MemorySession, MemoryConversation, MemoryTask, MemoryTemporary, MemoryPersistent}

// ParseMemoryScope validates a serialized memory scope.
func ParseMemoryScope(s string) (MemoryScope, error) {
	switch sc := MemoryScope(s); sc {
	case MemorySession, MemoryConversation, MemoryTask, MemoryTemporary, MemoryPersistent:
		return sc, nil
	default:
		return "", fmt.Errorf("unknown memory scope %q", s)
	}
}

// MemoryType classifies what a memory entry holds. The set is open; these
// are the values the context store itself writes.
type MemoryType string

const (
	MemoryUserInput  MemoryType = "user_input"
	MemoryToolResult MemoryType = "tool_result"
	MemoryPreference MemoryType = "preference"
	MemoryFact       MemoryType = "fact"
	MemoryContext    MemoryType = "context"
)

// Priority bounds for memory entries. Higher survives eviction longer.
const (
	MinPriority = 1
	MaxPriority = 5
)

// ClampPriority forces a priority into the valid range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// MemoryEntry is one stored memory value. An entry is simultaneously
// reachable from its scope map and from the type/tag secondary indices; the
// store removes it from all three in one step.
type MemoryEntry struct {
	ID          string      `json:"entry_id"`
	SessionID   string      `json:"session_id"`
	Type        MemoryType  `json:"memory_type"`
	Scope       MemoryScope `json:"scope"`
	Data        any         `json:"data"`
	Tags        []string    `json:"tags,omitempty"`
	Priority    int         `json:"priority"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	Created     time.Time   `json:"created_at"`
	Accessed    time.Time   `json:"accessed_at"`
	AccessCount int64       `json:"access_count"`
}

// Expired reports whether the entry's TTL has lapsed at now.
func (e *MemoryEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Clone returns a copy with independent slices.
func (e *MemoryEntry) Clone() *MemoryEntry {
	clone := *e
	clone.Tags = append([]string(nil), e.Tags...)
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		clone.ExpiresAt = &t
	}
	return &clone
}
