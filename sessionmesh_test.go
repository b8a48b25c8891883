package sessionmesh

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/sessionmesh/contextstore"
	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/metrics"
	"github.com/hupe1980/sessionmesh/persistence"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewDefaults(t *testing.T) {
	m := New()

	require.NotNil(t, m.Contexts())
	require.NotNil(t, m.Access())
	require.NotNil(t, m.Conversation())
	require.NotNil(t, m.Tools())
	require.NotNil(t, m.Memory())

	// No persistence attached: Save and Load are no-ops.
	require.NoError(t, m.Save())
	require.NoError(t, m.Load())
}

func TestAssistantTurnFlow(t *testing.T) {
	m := New(func(o *Options) {
		o.Metrics = metrics.NewPrometheusCollector()
	})
	store := m.Contexts()
	store.CreateSession("s1", "u1", nil)

	// The user asks for a timer; the turn records topic and intent.
	require.NoError(t, store.UpdateContext("s1", map[string]any{
		contextstore.KeyCurrentTopic: "set a timer and an alarm with a countdown",
		contextstore.KeyUserIntent:   "set_timer",
	}, core.ScopeConversation))

	// A tool execution runs and reports its result.
	require.NoError(t, store.UpdateContext("s1", map[string]any{
		contextstore.KeyActiveTool: "timer_service",
		contextstore.KeyToolParams: map[string]any{"duration": "5m"},
	}, core.ScopeTool))
	require.NoError(t, store.UpdateContext("s1", map[string]any{
		contextstore.KeyToolResult: "timer set",
		contextstore.KeyToolName:   "timer_service",
	}, core.ScopeTool))

	m.Conversation().MarkIntentFulfilled("s1", "set_timer", []string{"timer_service"})

	ctx := store.GetCurrentContext("s1")
	topic, ok := ctx.Get(core.ScopeConversation, contextstore.KeyCurrentTopic)
	require.True(t, ok)
	assert.Equal(t, "timers", topic)

	intents := m.Conversation().RecentIntents("s1", 5)
	require.Len(t, intents, 1)
	assert.True(t, intents[0].Fulfilled)

	history := m.Tools().History("s1", 0)
	require.Len(t, history, 1)
	assert.Equal(t, "timer set", history[0].Result)
}

func TestAccessControlledTool(t *testing.T) {
	m := New()
	facade := m.Access()

	require.NoError(t, facade.RegisterTool("plugin", core.AccessReadWrite, nil, nil, 0))

	id, err := facade.StoreMemory("plugin", "s1", core.MemoryFact, "noted", core.MemorySession, []string{"note"}, 0, 3)
	require.NoError(t, err)

	entry, err := facade.RetrieveMemory("plugin", "s1", id)
	require.NoError(t, err)
	assert.Equal(t, "noted", entry.Data)

	err = facade.UpdateContext("plugin", "s1", map[string]any{"k": "v"}, core.ScopeSystem)
	require.ErrorIs(t, err, core.ErrPermissionDenied)
}

func TestPersistenceAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.json")
	backend, err := persistence.NewFileStore(path)
	require.NoError(t, err)

	m := New(func(o *Options) { o.Persistence = backend })
	m.Contexts().CreateSession("s1", "u1", nil)
	require.NoError(t, m.Contexts().UpdateContext("s1", map[string]any{"name": "alice"}, core.ScopeUser))
	_, err = m.Memory().Store("s1", core.MemoryFact, "remember", core.MemorySession, nil, 0, 3)
	require.NoError(t, err)
	require.NoError(t, m.Save())

	restored := New(func(o *Options) { o.Persistence = backend })
	require.NoError(t, restored.Load())

	assert.Equal(t, "alice", restored.Contexts().GetScopedContext("s1", core.ScopeUser)["name"])
	results := restored.Memory().Search("s1", core.MemoryFact, nil, 0)
	require.Len(t, results, 1)
	assert.Equal(t, "remember", results[0].Data)
}

func TestSQLiteAutoSave(t *testing.T) {
	backend, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "mesh.db"))
	require.NoError(t, err)
	defer backend.Close()

	m := New(func(o *Options) {
		o.Persistence = backend
		o.AutoSave = true
	})
	require.NoError(t, m.Contexts().UpdateContext("s1", map[string]any{"k": "v"}, core.ScopeUser))

	snap, err := backend.Load()
	require.NoError(t, err)
	require.Contains(t, snap.Contexts, "s1")
	assert.Equal(t, "v", snap.Contexts["s1"].User["k"])
}

func TestCleanupExpiredSessions(t *testing.T) {
	m := New(func(o *Options) { o.SessionTTL = 20 * time.Millisecond })

	m.Contexts().CreateSession("old", "", nil)
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 1, m.CleanupExpiredSessions())
	assert.Empty(t, m.Contexts().SessionIDs())
}
