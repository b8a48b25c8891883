// Package persistence defines the snapshot document the context store
// serializes into and the backends that durably hold it.
//
// The interchange format is a single JSON document with top-level keys
// contexts, conversation_state, tool_state_tracker, user_preferences,
// session_memory and saved_at. Enum fields serialize as their string value
// and loaders tolerate missing optional fields.
//
// Two backends ship: FileStore rewrites the whole document on save (the
// known O(total sessions) contention point) and SQLiteStore persists one row
// per session so auto-save only touches the mutated session.
package persistence
