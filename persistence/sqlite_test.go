package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteSaveSessionAndLoad(t *testing.T) {
	store := newSQLiteStore(t)
	snap := sampleSnapshot()

	require.NoError(t, store.SaveSession("s1", snap.Session("s1"), snap.UserPreferences))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, loaded.Contexts, "s1")
	assert.Equal(t, "alice", loaded.Contexts["s1"].User["name"])
	require.Len(t, loaded.ConversationState["s1"].Intents, 1)
	require.Len(t, loaded.SessionMemory["s1"].Entries, 1)
	assert.Equal(t, "metric", loaded.UserPreferences["u1"]["units"])
	assert.False(t, loaded.SavedAt.IsZero())
}

func TestSQLiteSaveSessionUpsert(t *testing.T) {
	store := newSQLiteStore(t)
	snap := sampleSnapshot()

	require.NoError(t, store.SaveSession("s1", snap.Session("s1"), nil))

	snap.Contexts["s1"].User["name"] = "bob"
	require.NoError(t, store.SaveSession("s1", snap.Session("s1"), nil))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Contexts, 1)
	assert.Equal(t, "bob", loaded.Contexts["s1"].User["name"])
}

func TestSQLiteDeleteSession(t *testing.T) {
	store := newSQLiteStore(t)
	snap := sampleSnapshot()

	require.NoError(t, store.SaveSession("s1", snap.Session("s1"), nil))
	require.NoError(t, store.DeleteSession("s1"))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Contexts)

	require.NoError(t, store.DeleteSession("missing"), "deleting an absent session is not an error")
}

func TestSQLiteSaveAllReplaces(t *testing.T) {
	store := newSQLiteStore(t)
	snap := sampleSnapshot()

	require.NoError(t, store.SaveSession("stale", snap.Session("s1"), nil))
	require.NoError(t, store.SaveAll(snap))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.NotContains(t, loaded.Contexts, "stale", "SaveAll replaces every row")
	assert.Contains(t, loaded.Contexts, "s1")
}

func TestSQLiteLoadEmpty(t *testing.T) {
	store := newSQLiteStore(t)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Contexts)
	assert.Empty(t, loaded.UserPreferences)
}
