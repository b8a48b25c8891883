package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context is the per-session aggregate of scoped key/value state. It is safe
// for concurrent access.
//
// Contract:
//   - Merge mutations update the Updated timestamp
//   - Scoped returns a defensive copy to avoid external mutation
//   - The SESSION scope is computed on read (conversation, then user, then
//     tool; later scopes win on key collision) and never stored
//   - Clone performs deep copies of all scope maps for safe divergence.
//
// The scope map fields are exported for serialization only. Direct access
// bypasses the mutex; mutate through Merge/Set and read through Get/Scoped,
// which return copies.
type Context struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id,omitempty"`
	Conversation map[string]any `json:"conversation"`
	User         map[string]any `json:"user"`
	System       map[string]any `json:"system"`
	Tool         map[string]any `json:"tool"`
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
	AccessCount  int64          `json:"access_count"`
	mu           sync.RWMutex
}

// NewContext creates an empty context for the given session.
func NewContext(sessionID, userID string) *Context {
	now := time.Now()
	return &Context{
		SessionID:    sessionID,
		UserID:       userID,
		Conversation: map[string]any{},
		User:         map[string]any{},
		System:       map[string]any{},
		Tool:         map[string]any{},
		Created:      now,
		Updated:      now,
	}
}

// scopeMapLocked returns the backing map for a stored scope. Caller must hold
// the lock. Unknown scopes return nil.
func (c *Context) scopeMapLocked(scope ContextScope) map[string]any {
	switch scope {
	case ScopeConversation:
		return c.Conversation
	case ScopeUser:
		return c.User
	case ScopeSystem:
		return c.System
	case ScopeTool:
		return c.Tool
	}
	return nil
}

// Merge applies the updates to the target scope with last-write-wins per key
// and bumps the Updated timestamp. Writing to SESSION or an unknown scope
// returns ErrUnknownScope.
func (c *Context) Merge(scope ContextScope, updates map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.scopeMapLocked(scope)
	if target == nil {
		return ErrUnknownScope
	}
	for k, v := range updates {
		target[k] = v
	}
	c.Updated = time.Now()
	return nil
}

// Set stores a single key in the target scope.
func (c *Context) Set(scope ContextScope, key string, value any) error {
	return c.Merge(scope, map[string]any{key: value})
}

// Get returns the value and existence flag for a key in a stored scope.
func (c *Context) Get(scope ContextScope, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.scopeMapLocked(scope)
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// Scoped returns a copy of the requested scope. SESSION yields the computed
// union of conversation, user and tool (later scopes win). Unknown scopes
// degrade to an empty map rather than erroring.
func (c *Context) Scoped(scope ContextScope) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if scope == ScopeSession {
		union := make(map[string]any, len(c.Conversation)+len(c.User)+len(c.Tool))
		for _, src := range []map[string]any{c.Conversation, c.User, c.Tool} {
			for k, v := range src {
				union[k] = v
			}
		}
		return union
	}
	m := c.scopeMapLocked(scope)
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Touch records a read access.
func (c *Context) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccessCount++
}

// Age returns the time elapsed since the last mutation.
func (c *Context) Age(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Sub(c.Updated)
}

// Clone returns a deep copy of the context safe for independent mutation.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Context{
		SessionID:    c.SessionID,
		UserID:       c.UserID,
		Conversation: make(map[string]any, len(c.Conversation)),
		User:         make(map[string]any, len(c.User)),
		System:       make(map[string]any, len(c.System)),
		Tool:         make(map[string]any, len(c.Tool)),
		Created:      c.Created,
		Updated:      c.Updated,
		AccessCount:  c.AccessCount,
	}
	for k, v := range c.Conversation {
		clone.Conversation[k] = v
	}
	for k, v := range c.User {
		clone.User[k] = v
	}
	for k, v := range c.System {
		clone.System[k] = v
	}
	for k, v := range c.Tool {
		clone.Tool[k] = v
	}
	return clone
}

// NewID generates a new unique correlation identifier.
func NewID() string { return uuid.NewString() }
