package contextstore

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/persistence"
)

func TestCreateSessionIdempotent(t *testing.T) {
	s := NewStore()

	first := s.CreateSession("s1", "u1", map[core.ContextScope]map[string]any{
		core.ScopeUser: {"name": "alice"},
	})
	second := s.CreateSession("s1", "other", map[core.ContextScope]map[string]any{
		core.ScopeUser: {"name": "bob"},
	})

	assert.Same(t, first, second, "duplicate creation returns the existing context")
	assert.Equal(t, "u1", second.UserID)
	v, _ := second.Get(core.ScopeUser, "name")
	assert.Equal(t, "alice", v, "init values apply on first creation only")
}

func TestUpdateContextScopeIsolation(t *testing.T) {
	s := NewStore()
	s.CreateSession("s1", "u1", nil)

	require.NoError(t, s.UpdateContext("s1", map[string]any{"workspace": "/tmp"}, core.ScopeTool))

	assert.Equal(t, "/tmp", s.GetScopedContext("s1", core.ScopeTool)["workspace"])
	assert.Equal(t, "/tmp", s.GetScopedContext("s1", core.ScopeSession)["workspace"],
		"tool values surface in the session union")
	assert.NotContains(t, s.GetScopedContext("s1", core.ScopeConversation), "workspace")
}

func TestUpdateContextUnknownScope(t *testing.T) {
	s := NewStore()
	err := s.UpdateContext("s1", map[string]any{"k": "v"}, core.ContextScope("bogus"))
	require.ErrorIs(t, err, core.ErrUnknownScope)

	assert.Empty(t, s.GetScopedContext("s1", core.ContextScope("bogus")),
		"unknown scope reads degrade to an empty view")
}

func TestIntentRouting(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyUserIntent:       "set_timer",
		KeyIntentConfidence: "high",
	}, core.ScopeConversation))

	intents := s.Conversation().RecentIntents("s1", 5)
	require.Len(t, intents, 1)
	assert.Equal(t, "set_timer", intents[0].Intent)
	assert.Equal(t, core.ConfidenceHigh, intents[0].Confidence)
}

func TestTopicRouting(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyCurrentTopic: "set a timer and an alarm with a countdown",
	}, core.ScopeConversation))

	topic := s.Conversation().CurrentTopic("s1")
	require.NotNil(t, topic)
	assert.Equal(t, "timers", topic.Name)
}

func TestToolRouting(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyActiveTool: "calculator",
		KeyToolParams: map[string]any{"expr": "1+1"},
	}, core.ScopeTool))
	assert.Equal(t, []string{"calculator"}, s.Tools().ActiveTools("s1"))

	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyToolResult: 2,
		KeyToolName:   "calculator",
	}, core.ScopeTool))
	assert.Empty(t, s.Tools().ActiveTools("s1"))

	history := s.Tools().History("s1", 0)
	require.Len(t, history, 1)
	assert.Equal(t, core.StateCompleted, history[0].State)
	assert.Equal(t, 2, history[0].Result)
}

func TestToolRoutingFailure(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyActiveTool: "search",
	}, core.ScopeTool))
	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyToolResult: nil,
		KeyToolName:   "search",
		KeyToolError:  "timeout",
	}, core.ScopeTool))

	history := s.Tools().History("s1", 0)
	require.Len(t, history, 1)
	assert.Equal(t, core.StateFailed, history[0].State)
	assert.Equal(t, "timeout", history[0].Error)
}

func TestPreferenceRouting(t *testing.T) {
	s := NewStore()
	s.CreateSession("s1", "u1", nil)

	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyLearnedPreference: map[string]any{"key": "units", "value": "metric"},
	}, core.ScopeUser))

	assert.Equal(t, "metric", s.PreferencesFor("u1")["units"])

	s.LearnPreference("u1", "lang", "de")
	prefs := s.PreferencesFor("u1")
	assert.Equal(t, "de", prefs["lang"])

	// The returned map is a copy.
	prefs["lang"] = "en"
	assert.Equal(t, "de", s.PreferencesFor("u1")["lang"])
}

func TestGetCurrentContextSyncsLeaves(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyUserIntent: "get_weather",
	}, core.ScopeConversation))
	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyActiveTool: "weather_api",
	}, core.ScopeTool))

	ctx := s.GetCurrentContext("s1")
	intents, ok := ctx.Get(core.ScopeConversation, "recent_intents")
	require.True(t, ok)
	require.Len(t, intents.([]core.IntentRecord), 1)

	tools, ok := ctx.Get(core.ScopeTool, "active_tools")
	require.True(t, ok)
	assert.Equal(t, []string{"weather_api"}, tools.([]string))

	assert.Equal(t, int64(1), ctx.AccessCount)
	s.GetCurrentContext("s1")
	assert.Equal(t, int64(2), ctx.AccessCount)
}

func TestSessionViewCacheInvalidation(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.UpdateContext("s1", map[string]any{"k": "v1"}, core.ScopeUser))
	assert.Equal(t, "v1", s.GetScopedContext("s1", core.ScopeSession)["k"])

	require.NoError(t, s.UpdateContext("s1", map[string]any{"k": "v2"}, core.ScopeUser))
	assert.Equal(t, "v2", s.GetScopedContext("s1", core.ScopeSession)["k"],
		"updates invalidate the cached session view")
}

func TestClearSessionCascades(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.UpdateContext("s1", map[string]any{KeyUserIntent: "x"}, core.ScopeConversation))
	require.NoError(t, s.UpdateContext("s1", map[string]any{KeyActiveTool: "calc"}, core.ScopeTool))
	_, err := s.Memory().Store("s1", core.MemoryFact, "data", core.MemorySession, nil, 0, 1)
	require.NoError(t, err)

	s.ClearSession("s1")

	assert.Empty(t, s.SessionIDs())
	assert.Zero(t, s.Conversation().IntentCount("s1"))
	assert.Empty(t, s.Tools().ActiveTools("s1"))
	assert.Zero(t, s.Memory().Count("s1", core.MemorySession))
}

func TestCleanupExpired(t *testing.T) {
	s := NewStore(WithConfig(Config{SessionTTL: 20 * time.Millisecond, CacheEnabled: true}))

	s.CreateSession("old", "", nil)
	time.Sleep(40 * time.Millisecond)
	s.CreateSession("fresh", "", nil)

	removed := s.CleanupExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"fresh"}, s.SessionIDs())
}

func TestStoreStats(t *testing.T) {
	s := NewStore()
	s.CreateSession("s1", "u1", nil)
	s.CreateSession("s2", "u2", nil)
	s.LearnPreference("u1", "k", "v")

	stats := s.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 1, stats.Preferences)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	s.CreateSession("s1", "u1", nil)
	require.NoError(t, s.UpdateContext("s1", map[string]any{"name": "alice"}, core.ScopeUser))
	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyUserIntent:       "set_timer",
		KeyIntentConfidence: "medium",
	}, core.ScopeConversation))
	memID, err := s.Memory().Store("s1", core.MemoryFact, "remember", core.MemorySession, nil, 0, 2)
	require.NoError(t, err)
	s.LearnPreference("u1", "units", "metric")

	restored := NewStore()
	restored.LoadSnapshot(s.Export())

	assert.Equal(t, "alice", restored.GetScopedContext("s1", core.ScopeUser)["name"])
	assert.Equal(t, 1, restored.Conversation().IntentCount("s1"))
	assert.Equal(t, "metric", restored.PreferencesFor("u1")["units"])

	entry, err := restored.Memory().Retrieve("s1", memID)
	require.NoError(t, err)
	assert.Equal(t, "remember", entry.Data)
}

func TestSaveAndLoadWithFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	backend, err := persistence.NewFileStore(path)
	require.NoError(t, err)

	s := NewStore(WithPersistence(backend))
	s.CreateSession("s1", "u1", nil)
	require.NoError(t, s.UpdateContext("s1", map[string]any{"name": "alice"}, core.ScopeUser))
	require.NoError(t, s.UpdateContext("s1", map[string]any{
		KeyUserIntent: "get_weather",
	}, core.ScopeConversation))
	require.NoError(t, s.Save())

	restored := NewStore(WithPersistence(backend))
	require.NoError(t, restored.Load())

	assert.Equal(t, "alice", restored.GetScopedContext("s1", core.ScopeUser)["name"])
	assert.Equal(t, 1, restored.Conversation().IntentCount("s1"))
}

func TestAutoSavePersistsEachUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	backend, err := persistence.NewFileStore(path)
	require.NoError(t, err)

	s := NewStore(
		WithConfig(Config{SessionTTL: time.Hour, AutoSave: true, CacheEnabled: true}),
		WithPersistence(backend),
	)
	require.NoError(t, s.UpdateContext("s1", map[string]any{"k": "v"}, core.ScopeUser))

	// No explicit Save: the update alone must have hit the backend.
	snap, err := backend.Load()
	require.NoError(t, err)
	require.Contains(t, snap.Contexts, "s1")
	assert.Equal(t, "v", snap.Contexts["s1"].User["k"])
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, s.UpdateContext("s1", map[string]any{"k": j}, core.ScopeUser))
				_ = s.GetScopedContext("s1", core.ScopeSession)
				_ = s.GetCurrentContext("s1")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.SessionIDs(), 1)
}
