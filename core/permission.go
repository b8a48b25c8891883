package core

import (
	"fmt"
	"time"
)

// AccessLevel grades what a registered tool may do through the facade.
type AccessLevel string

const (
	AccessReadOnly  AccessLevel = "read_only"
	AccessReadWrite AccessLevel = "read_write"
	AccessAdmin     AccessLevel = "admin"
)

// ParseAccessLevel validates a serialized access level.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch l := AccessLevel(s); l {
	case AccessReadOnly, AccessReadWrite, AccessAdmin:
		return l, nil
	default:
		return "", fmt.Errorf("unknown access level %q", s)
	}
}

// Operation names one action a tool may perform against the context store.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpSearch Operation = "search"
	OpClear  Operation = "clear"
)

// AllOperations lists every operation, used for admin grants.
var AllOperations = []Operation{OpRead, OpWrite, OpUpdate, OpDelete, OpSearch, OpClear}

// Permission is a stored grant for one tool. Checked lazily: an expired
// permission is deleted on its next check and the access denied.
type Permission struct {
	ToolName   string         `json:"tool_name"`
	Level      AccessLevel    `json:"access_level"`
	Scopes     []ContextScope `json:"allowed_scopes"`
	Operations []Operation    `json:"allowed_operations"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Granted    time.Time      `json:"granted_at"`
}

// Expired reports whether the grant's TTL has lapsed at now.
func (p *Permission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Allows reports whether the grant covers the scope/operation pair. A
// GLOBAL scope grant covers every scope.
func (p *Permission) Allows(scope ContextScope, op Operation) bool {
	scopeOK := false
	for _, s := range p.Scopes {
		if s == scope || s == ScopeGlobal {
			scopeOK = true
			break
		}
	}
	if !scopeOK {
		return false
	}
	for _, o := range p.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// DefaultGrants derives the scope and operation sets implied by an access
// level when a registration does not name them explicitly:
//
//	READ_ONLY  -> {conversation, user} x {read, search}
//	READ_WRITE -> READ_ONLY plus {tool} x {write, update}
//	ADMIN      -> all scopes x all operations
func DefaultGrants(level AccessLevel) ([]ContextScope, []Operation) {
	switch level {
	case AccessReadOnly:
		return []ContextScope{ScopeConversation, ScopeUser}, []Operation{OpRead, OpSearch}
	case AccessReadWrite:
		return []ContextScope{ScopeConversation, ScopeUser, ScopeTool},
			[]Operation{OpRead, OpSearch, OpWrite, OpUpdate}
	case AccessAdmin:
		return []ContextScope{ScopeGlobal}, append([]Operation(nil), AllOperations...)
	default:
		return nil, nil
	}
}
