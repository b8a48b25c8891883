package persistence

import (
	"time"

	"github.com/hupe1980/sessionmesh/conversation"
	"github.com/hupe1980/sessionmesh/memstore"
	"github.com/hupe1980/sessionmesh/toolexec"
)

// ContextRecord is the serializable form of one session context.
type ContextRecord struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id,omitempty"`
	Conversation map[string]any `json:"conversation,omitempty"`
	User         map[string]any `json:"user,omitempty"`
	System       map[string]any `json:"system,omitempty"`
	Tool         map[string]any `json:"tool,omitempty"`
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
	AccessCount  int64          `json:"access_count"`
}

// SessionSnapshot bundles everything one session contributes to the
// document. Used by incremental backends to persist a single session.
type SessionSnapshot struct {
	Context      *ContextRecord                `json:"context,omitempty"`
	Conversation *conversation.SessionSnapshot `json:"conversation_state,omitempty"`
	Tools        *toolexec.SessionSnapshot     `json:"tool_state,omitempty"`
	Memory       *memstore.SessionSnapshot     `json:"memory,omitempty"`
}

// Snapshot is the full persistence document.
type Snapshot struct {
	Contexts          map[string]*ContextRecord               `json:"contexts"`
	ConversationState map[string]conversation.SessionSnapshot `json:"conversation_state"`
	ToolState         map[string]toolexec.SessionSnapshot     `json:"tool_state_tracker"`
	UserPreferences   map[string]map[string]any               `json:"user_preferences"`
	SessionMemory     map[string]memstore.SessionSnapshot     `json:"session_memory"`
	SavedAt           time.Time                               `json:"saved_at"`
}

// NewSnapshot returns an empty document with all maps initialized.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Contexts:          make(map[string]*ContextRecord),
		ConversationState: make(map[string]conversation.SessionSnapshot),
		ToolState:         make(map[string]toolexec.SessionSnapshot),
		UserPreferences:   make(map[string]map[string]any),
		SessionMemory:     make(map[string]memstore.SessionSnapshot),
	}
}

// Session extracts one session's slice of the document.
func (s *Snapshot) Session(id string) SessionSnapshot {
	var out SessionSnapshot
	if ctx, ok := s.Contexts[id]; ok {
		out.Context = ctx
	}
	if conv, ok := s.ConversationState[id]; ok {
		out.Conversation = &conv
	}
	if tools, ok := s.ToolState[id]; ok {
		out.Tools = &tools
	}
	if mem, ok := s.SessionMemory[id]; ok {
		out.Memory = &mem
	}
	return out
}

// merge folds one session's slice back into the document.
func (s *Snapshot) merge(id string, sess SessionSnapshot) {
	if sess.Context != nil {
		s.Contexts[id] = sess.Context
	}
	if sess.Conversation != nil {
		s.ConversationState[id] = *sess.Conversation
	}
	if sess.Tools != nil {
		s.ToolState[id] = *sess.Tools
	}
	if sess.Memory != nil {
		s.SessionMemory[id] = *sess.Memory
	}
}

// Store persists whole snapshot documents.
type Store interface {
	// SaveAll writes the complete document.
	SaveAll(snap *Snapshot) error
	// Load reads the document back; an empty backend yields an empty
	// snapshot, not an error.
	Load() (*Snapshot, error)
	// Close releases backend resources.
	Close() error
}

// IncrementalStore additionally persists single sessions, so auto-save does
// not rewrite unrelated sessions on every mutation.
type IncrementalStore interface {
	Store
	// SaveSession upserts one session's slice and the given user
	// preferences.
	SaveSession(sessionID string, sess SessionSnapshot, prefs map[string]map[string]any) error
	// DeleteSession removes one session's slice.
	DeleteSession(sessionID string) error
}
