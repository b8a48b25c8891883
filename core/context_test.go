package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextScopeIsolation(t *testing.T) {
	ctx := NewContext("s1", "u1")

	require.NoError(t, ctx.Set(ScopeTool, "active_tool", "calculator"))
	require.NoError(t, ctx.Set(ScopeConversation, "current_topic", "math"))

	_, ok := ctx.Get(ScopeConversation, "active_tool")
	assert.False(t, ok, "tool write must not leak into conversation scope")

	v, ok := ctx.Get(ScopeTool, "active_tool")
	require.True(t, ok)
	assert.Equal(t, "calculator", v)
}

func TestContextSessionUnion(t *testing.T) {
	ctx := NewContext("s1", "u1")
	require.NoError(t, ctx.Set(ScopeConversation, "shared", "from_conversation"))
	require.NoError(t, ctx.Set(ScopeUser, "name", "alice"))
	require.NoError(t, ctx.Set(ScopeTool, "shared", "from_tool"))
	require.NoError(t, ctx.Set(ScopeSystem, "runtime", "go"))

	union := ctx.Scoped(ScopeSession)
	assert.Equal(t, "alice", union["name"])
	assert.Equal(t, "from_tool", union["shared"], "tool scope wins key collisions")
	assert.NotContains(t, union, "runtime", "system scope is excluded from the session union")
}

func TestContextUnknownScope(t *testing.T) {
	ctx := NewContext("s1", "")

	err := ctx.Merge(ContextScope("bogus"), map[string]any{"k": "v"})
	require.ErrorIs(t, err, ErrUnknownScope)

	err = ctx.Merge(ScopeSession, map[string]any{"k": "v"})
	require.ErrorIs(t, err, ErrUnknownScope, "computed scope is not writable")

	assert.Empty(t, ctx.Scoped(ContextScope("bogus")), "unknown scope reads degrade to empty")
}

func TestContextScopedReturnsCopy(t *testing.T) {
	ctx := NewContext("s1", "")
	require.NoError(t, ctx.Set(ScopeUser, "k", "v"))

	view := ctx.Scoped(ScopeUser)
	view["k"] = "mutated"

	v, _ := ctx.Get(ScopeUser, "k")
	assert.Equal(t, "v", v)
}

func TestContextMergeBumpsUpdated(t *testing.T) {
	ctx := NewContext("s1", "")
	before := ctx.Updated
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, ctx.Set(ScopeConversation, "k", "v"))
	assert.True(t, ctx.Updated.After(before))
}

func TestContextClone(t *testing.T) {
	ctx := NewContext("s1", "u1")
	require.NoError(t, ctx.Set(ScopeTool, "k", "v"))
	ctx.Touch()

	clone := ctx.Clone()
	assert.Equal(t, int64(1), clone.AccessCount)

	require.NoError(t, clone.Set(ScopeTool, "k", "changed"))
	v, _ := ctx.Get(ScopeTool, "k")
	assert.Equal(t, "v", v, "clone mutation must not affect the original")
}

func TestParseContextScope(t *testing.T) {
	scope, err := ParseContextScope("conversation")
	require.NoError(t, err)
	assert.Equal(t, ScopeConversation, scope)
	assert.True(t, scope.Stored())

	scope, err = ParseContextScope("session")
	require.NoError(t, err)
	assert.False(t, scope.Stored())

	_, err = ParseContextScope("nope")
	require.ErrorIs(t, err, ErrUnknownScope)
}

func TestNewID(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}
