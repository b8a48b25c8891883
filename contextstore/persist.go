package contextstore

import (
	"fmt"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/persistence"
)

// Export builds the full snapshot document from the store and all leaves.
func (s *Store) Export() *persistence.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportLocked()
}

func (s *Store) exportLocked() *persistence.Snapshot {
	snap := persistence.NewSnapshot()
	for id, ctx := range s.contexts {
		snap.Contexts[id] = contextRecord(ctx)
	}
	snap.ConversationState = s.tracker.Export()
	snap.ToolState = s.tools.Export()
	snap.SessionMemory = s.memory.Export()
	for userID, prefs := range s.prefs {
		cp := make(map[string]any, len(prefs))
		for k, v := range prefs {
			cp[k] = v
		}
		snap.UserPreferences[userID] = cp
	}
	snap.SavedAt = time.Now()
	return snap
}

func contextRecord(ctx *core.Context) *persistence.ContextRecord {
	c := ctx.Clone()
	return &persistence.ContextRecord{
		SessionID:    c.SessionID,
		UserID:       c.UserID,
		Conversation: c.Conversation,
		User:         c.User,
		System:       c.System,
		Tool:         c.Tool,
		Created:      c.Created,
		Updated:      c.Updated,
		AccessCount:  c.AccessCount,
	}
}

// LoadSnapshot replaces the store's state (contexts, preferences and all
// three leaves) with the document's contents. Missing sections default to
// empty.
func (s *Store) LoadSnapshot(snap *persistence.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contexts = make(map[string]*core.Context, len(snap.Contexts))
	s.cache = make(map[string]map[string]any)
	for id, rec := range snap.Contexts {
		ctx := core.NewContext(id, rec.UserID)
		_ = ctx.Merge(core.ScopeConversation, rec.Conversation)
		_ = ctx.Merge(core.ScopeUser, rec.User)
		_ = ctx.Merge(core.ScopeSystem, rec.System)
		_ = ctx.Merge(core.ScopeTool, rec.Tool)
		if !rec.Created.IsZero() {
			ctx.Created = rec.Created
		}
		if !rec.Updated.IsZero() {
			ctx.Updated = rec.Updated
		}
		ctx.AccessCount = rec.AccessCount
		s.contexts[id] = ctx
	}

	s.prefs = make(map[string]map[string]any, len(snap.UserPreferences))
	for userID, prefs := range snap.UserPreferences {
		cp := make(map[string]any, len(prefs))
		for k, v := range prefs {
			cp[k] = v
		}
		s.prefs[userID] = cp
	}

	s.tracker.Import(snap.ConversationState)
	s.tools.Import(snap.ToolState)
	s.memory.Import(snap.SessionMemory)
	s.logger.Info("snapshot loaded", "sessions", len(s.contexts))
}

// Save persists the full snapshot through the attached backend.
func (s *Store) Save() error {
	s.mu.Lock()
	persister := s.persister
	snap := s.exportLocked()
	s.mu.Unlock()
	if persister == nil {
		return nil
	}
	if err := persister.SaveAll(snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load restores state from the attached backend.
func (s *Store) Load() error {
	if s.persister == nil {
		return nil
	}
	snap, err := s.persister.Load()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	s.LoadSnapshot(snap)
	return nil
}

// autoSaveLocked persists the mutated session. Incremental backends receive
// only that session's slice; snapshot backends rewrite the whole document.
// Persistence failures are logged and swallowed so the store keeps
// operating in memory.
func (s *Store) autoSaveLocked(sessionID string) {
	if !s.cfg.AutoSave || s.persister == nil {
		return
	}
	var err error
	if inc, ok := s.persister.(persistence.IncrementalStore); ok {
		err = inc.SaveSession(sessionID, s.sessionSliceLocked(sessionID), s.prefsCopyLocked())
	} else {
		err = s.persister.SaveAll(s.exportLocked())
	}
	if err != nil {
		s.logger.Warn("auto-save failed, continuing in memory", "session_id", sessionID, "error", err)
	}
}

func (s *Store) sessionSliceLocked(sessionID string) persistence.SessionSnapshot {
	var out persistence.SessionSnapshot
	if ctx, ok := s.contexts[sessionID]; ok {
		out.Context = contextRecord(ctx)
	}
	if conv, ok := s.tracker.ExportSession(sessionID); ok {
		out.Conversation = &conv
	}
	if tools, ok := s.tools.ExportSession(sessionID); ok {
		out.Tools = &tools
	}
	if mem, ok := s.memory.ExportSession(sessionID); ok {
		out.Memory = &mem
	}
	return out
}

func (s *Store) prefsCopyLocked() map[string]map[string]any {
	out := make(map[string]map[string]any, len(s.prefs))
	for userID, prefs := range s.prefs {
		cp := make(map[string]any, len(prefs))
		for k, v := range prefs {
			cp[k] = v
		}
		out[userID] = cp
	}
	return out
}
