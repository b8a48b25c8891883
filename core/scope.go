package core

import "fmt"

// ContextScope names a partition of a session's context tree. Updates are
// merged into exactly one stored scope; reads may additionally target the
// computed SESSION union.
type ContextScope string

const (
	// ScopeConversation holds dialogue-facing state (topic, intents, flow).
	ScopeConversation ContextScope = "conversation"
	// ScopeUser holds user identity and learned preferences.
	ScopeUser ContextScope = "user"
	// ScopeSystem holds runtime/system bookkeeping values.
	ScopeSystem ContextScope = "system"
	// ScopeTool holds tool invocation state and results.
	ScopeTool ContextScope = "tool"
	// ScopeSession is a computed read-only union of conversation, user and
	// tool scopes. It is never stored independently; on key collisions the
	// later scope wins (conversation < user < tool).
	ScopeSession ContextScope = "session"
	// ScopeGlobal is the wildcard scope used in permission grants for admin
	// level tools. It never appears on a stored context.
	ScopeGlobal ContextScope = "global"
)

// StoredScopes lists the scopes that are materialized on a Context, in the
// order the SESSION union is composed.
var StoredScopes = []ContextScope{ScopeConversation, ScopeUser, ScopeSystem, ScopeTool}

// ParseContextScope converts a serialized scope value back into a
// ContextScope, rejecting unknown values with ErrUnknownScope.
func ParseContextScope(s string) (ContextScope, error) {
	switch sc := ContextScope(s); sc {
	case ScopeConversation, ScopeUser, ScopeSystem, ScopeTool, ScopeSession, ScopeGlobal:
		return sc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, s)
	}
}

// Stored reports whether the scope is one of the four materialized scopes.
func (s ContextScope) Stored() bool {
	switch s {
	case ScopeConversation, ScopeUser, ScopeSystem, ScopeTool:
		return true
	}
	return false
}
