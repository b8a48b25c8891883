package contextstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/sessionmesh/conversation"
	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/memstore"
	"github.com/hupe1980/sessionmesh/metrics"
	"github.com/hupe1980/sessionmesh/persistence"
	"github.com/hupe1980/sessionmesh/toolexec"
)

// Recognized update keys routed to the leaves.
const (
	KeyCurrentTopic      = "current_topic"
	KeyUserIntent        = "user_intent"
	KeyIntentConfidence  = "intent_confidence"
	KeyActiveTool        = "active_tool"
	KeyToolParams        = "tool_params"
	KeyToolResult        = "tool_result"
	KeyToolName          = "tool_name"
	KeyToolError         = "tool_error"
	KeyLearnedPreference = "learned_preference"
)

// Config tunes the store.
type Config struct {
	// SessionTTL is the inactivity window after which CleanupExpired clears
	// a session.
	SessionTTL time.Duration
	// AutoSave persists the mutated session after every update when a
	// persistence backend is attached.
	AutoSave bool
	// CacheEnabled turns on the read-through view cache. The cache is
	// invalidated on UpdateContext only, not on leaf-originated mutation: a
	// known staleness window.
	CacheEnabled bool
}

// DefaultConfig returns the baseline store configuration.
func DefaultConfig() Config {
	return Config{SessionTTL: 24 * time.Hour, CacheEnabled: true}
}

// Store is the session context store. Safe for concurrent access; its mutex
// is always acquired before any leaf's.
type Store struct {
	mu        sync.Mutex
	cfg       Config
	logger    logging.Logger
	collector metrics.Collector

	tracker *conversation.Tracker
	tools   *toolexec.Coordinator
	memory  *memstore.ScopedStore
	// prefs is the user-preference leaf: userID -> key -> value.
	prefs map[string]map[string]any

	contexts map[string]*core.Context
	// cache holds computed SESSION-union views per session.
	cache map[string]map[string]any

	persister persistence.Store
}

// Option mutates store construction settings.
type Option func(*Store)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option { return func(s *Store) { s.cfg = cfg } }

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option { return func(s *Store) { s.logger = l } }

// WithCollector attaches a metrics collector.
func WithCollector(m metrics.Collector) Option { return func(s *Store) { s.collector = m } }

// WithTracker injects the conversation tracker leaf.
func WithTracker(t *conversation.Tracker) Option { return func(s *Store) { s.tracker = t } }

// WithCoordinator injects the tool-execution coordinator leaf.
func WithCoordinator(c *toolexec.Coordinator) Option { return func(s *Store) { s.tools = c } }

// WithMemory injects the scoped memory leaf.
func WithMemory(m *memstore.ScopedStore) Option { return func(s *Store) { s.memory = m } }

// WithPersistence attaches a persistence backend.
func WithPersistence(p persistence.Store) Option { return func(s *Store) { s.persister = p } }

// NewStore constructs a store, creating default leaves for any not
// injected.
func NewStore(opts ...Option) *Store {
	s := &Store{
		cfg:      DefaultConfig(),
		logger:   logging.NoOpLogger{},
		prefs:    make(map[string]map[string]any),
		contexts: make(map[string]*core.Context),
		cache:    make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.collector == nil {
		s.collector = metrics.NewNoopCollector()
	}
	if s.tracker == nil {
		s.tracker = conversation.NewTracker(conversation.WithLogger(s.logger))
	}
	if s.tools == nil {
		s.tools = toolexec.NewCoordinator(toolexec.WithLogger(s.logger), toolexec.WithCollector(s.collector))
	}
	if s.memory == nil {
		s.memory = memstore.NewScopedStore(memstore.WithLogger(s.logger), memstore.WithCollector(s.collector))
	}
	return s
}

// Conversation returns the conversation tracker leaf.
func (s *Store) Conversation() *conversation.Tracker { return s.tracker }

// Tools returns the tool-execution coordinator leaf.
func (s *Store) Tools() *toolexec.Coordinator { return s.tools }

// Memory returns the scoped memory leaf.
func (s *Store) Memory() *memstore.ScopedStore { return s.memory }

// CreateSession is an idempotent upsert: it returns the existing context
// when the id is already present and never errors on duplicates. The init
// maps, if given, are merged into their scopes on first creation only.
func (s *Store) CreateSession(sessionID, userID string, init map[core.ContextScope]map[string]any) *core.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(sessionID, userID, init)
}

func (s *Store) createLocked(sessionID, userID string, init map[core.ContextScope]map[string]any) *core.Context {
	if ctx, ok := s.contexts[sessionID]; ok {
		return ctx
	}
	ctx := core.NewContext(sessionID, userID)
	for scope, values := range init {
		if err := ctx.Merge(scope, values); err != nil {
			s.logger.Warn("skipping init values for unknown scope", "session_id", sessionID, "scope", scope)
		}
	}
	s.contexts[sessionID] = ctx
	s.logger.Info("session created", "session_id", sessionID, "user_id", userID)
	return ctx
}

// GetCurrentContext returns the session's context, creating it if absent,
// after re-deriving the conversation and tool scopes from the two stateful
// leaves: the last 5 intents, last 10 flow steps, current topic and phase,
// and the active tool list with per-execution states.
func (s *Store) GetCurrentContext(sessionID string) *core.Context {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.createLocked(sessionID, "", nil)
	s.syncLocked(ctx)
	ctx.Touch()
	s.collector.RecordOperation("contextstore", "get", "ok", time.Since(start))
	return ctx
}

// syncLocked pulls live leaf state into the context's scope maps.
func (s *Store) syncLocked(ctx *core.Context) {
	sessionID := ctx.SessionID

	conv := map[string]any{
		"recent_intents":    s.tracker.RecentIntents(sessionID, 5),
		"conversation_flow": s.tracker.RecentFlow(sessionID, 10),
		"phase":             s.tracker.Phase(sessionID),
	}
	if topic := s.tracker.CurrentTopic(sessionID); topic != nil {
		conv[KeyCurrentTopic] = topic.Name
	}
	_ = ctx.Merge(core.ScopeConversation, conv)

	active := s.tools.ActiveForSession(sessionID)
	names := make([]string, 0, len(active))
	states := make(map[string]string, len(active))
	for _, exec := range active {
		names = append(names, exec.ToolName)
		states[exec.ID] = string(exec.State)
	}
	_ = ctx.Merge(core.ScopeTool, map[string]any{
		"active_tools": names,
		"tool_states":  states,
	})
}

// GetScopedContext returns the scoped view of a session's context. The
// SESSION scope is served from the read-through cache when enabled; unknown
// scopes degrade to an empty map rather than erroring.
func (s *Store) GetScopedContext(sessionID string, scope core.ContextScope) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope == core.ScopeSession && s.cfg.CacheEnabled {
		if view, ok := s.cache[sessionID]; ok {
			out := make(map[string]any, len(view))
			for k, v := range view {
				out[k] = v
			}
			return out
		}
	}
	ctx := s.createLocked(sessionID, "", nil)
	s.syncLocked(ctx)
	view := ctx.Scoped(scope)
	if scope == core.ScopeSession && s.cfg.CacheEnabled {
		cached := make(map[string]any, len(view))
		for k, v := range view {
			cached[k] = v
		}
		s.cache[sessionID] = cached
	}
	return view
}

// UpdateContext merges the updates into the target scope (last-write-wins
// per key) and routes recognized keys to the owning leaf:
//
//	CONVERSATION: current_topic, user_intent -> conversation tracker
//	TOOL:         active_tool, tool_result+tool_name -> coordinator
//	USER:         learned_preference -> preference leaf
//
// Unrecognized keys remain only in the context map (the extension point).
// The session's cached view is invalidated and, when auto-save is enabled,
// the mutated session is persisted.
func (s *Store) UpdateContext(sessionID string, updates map[string]any, scope core.ContextScope) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.createLocked(sessionID, "", nil)
	if err := ctx.Merge(scope, updates); err != nil {
		s.collector.RecordOperation("contextstore", "update", "unknown_scope", time.Since(start))
		return fmt.Errorf("session %s scope %q: %w", sessionID, scope, err)
	}

	s.routeLocked(ctx, updates, scope)
	delete(s.cache, sessionID)
	s.autoSaveLocked(sessionID)
	s.collector.RecordOperation("contextstore", "update", "ok", time.Since(start))
	return nil
}

// routeLocked forwards recognized keys to the leaves. Routing failures are
// logged, not propagated: the merge into the context already happened.
func (s *Store) routeLocked(ctx *core.Context, updates map[string]any, scope core.ContextScope) {
	sessionID := ctx.SessionID
	switch scope {
	case core.ScopeConversation:
		if text, ok := updates[KeyCurrentTopic].(string); ok {
			s.tracker.ProcessInput(sessionID, text)
		}
		if intent, ok := updates[KeyUserIntent].(string); ok {
			confidence := core.ConfidenceUnknown
			if c, ok := updates[KeyIntentConfidence].(string); ok {
				confidence = core.Confidence(c)
			}
			s.tracker.RecordIntent(sessionID, intent, confidence)
		}
	case core.ScopeTool:
		if toolName, ok := updates[KeyActiveTool].(string); ok {
			params, _ := updates[KeyToolParams].(map[string]any)
			if _, err := s.tools.Start(sessionID, toolName, params, 0, nil); err != nil {
				s.logger.Warn("tool start routing failed", "session_id", sessionID, "tool", toolName, "error", err)
			}
		}
		if result, ok := updates[KeyToolResult]; ok {
			toolName, nameOK := updates[KeyToolName].(string)
			if !nameOK {
				s.logger.Warn("tool_result without tool_name ignored", "session_id", sessionID)
				return
			}
			errMsg, _ := updates[KeyToolError].(string)
			if _, err := s.tools.CompleteForTool(sessionID, toolName, result, errMsg == "", errMsg); err != nil {
				s.logger.Warn("tool completion routing failed", "session_id", sessionID, "tool", toolName, "error", err)
			}
		}
	case core.ScopeUser:
		if pref, ok := updates[KeyLearnedPreference]; ok {
			s.learnPreferenceLocked(ctx, pref)
		}
	}
}

func (s *Store) learnPreferenceLocked(ctx *core.Context, pref any) {
	userID := ctx.UserID
	if userID == "" {
		userID = ctx.SessionID
	}
	bucket, ok := s.prefs[userID]
	if !ok {
		bucket = make(map[string]any)
		s.prefs[userID] = bucket
	}
	switch p := pref.(type) {
	case map[string]any:
		if key, ok := p["key"].(string); ok {
			bucket[key] = p["value"]
			return
		}
		for k, v := range p {
			bucket[k] = v
		}
	default:
		s.logger.Warn("unrecognized learned_preference payload", "session_id", ctx.SessionID)
	}
}

// LearnPreference records one preference for the user directly.
func (s *Store) LearnPreference(userID, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.prefs[userID]
	if !ok {
		bucket = make(map[string]any)
		s.prefs[userID] = bucket
	}
	bucket[key] = value
}

// PreferencesFor returns a copy of the user's learned preferences.
func (s *Store) PreferencesFor(userID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.prefs[userID]))
	for k, v := range s.prefs[userID] {
		out[k] = v
	}
	return out
}

// ClearSession removes the context and cascades clears to all three leaves.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(sessionID)
}

func (s *Store) clearLocked(sessionID string) {
	delete(s.contexts, sessionID)
	delete(s.cache, sessionID)
	s.tracker.Clear(sessionID)
	s.tools.ClearSession(sessionID)
	s.memory.Clear(sessionID)
	if inc, ok := s.persister.(persistence.IncrementalStore); ok && s.cfg.AutoSave {
		if err := inc.DeleteSession(sessionID); err != nil {
			s.logger.Warn("session delete not persisted", "session_id", sessionID, "error", err)
		}
	}
	s.logger.Info("session cleared", "session_id", sessionID)
}

// CleanupExpired clears every session whose last mutation is older than the
// session TTL and returns the count removed.
func (s *Store) CleanupExpired() int {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var expired []string
	for id, ctx := range s.contexts {
		if ctx.Age(now) > s.cfg.SessionTTL {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.clearLocked(id)
		s.collector.RecordExpiry("session")
	}
	s.collector.RecordOperation("contextstore", "cleanup", "ok", time.Since(start))
	return len(expired)
}

// SessionIDs returns the ids of every live session.
func (s *Store) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	return ids
}

// Stats summarizes the store for observability surfaces.
type Stats struct {
	Sessions    int `json:"sessions"`
	Preferences int `json:"preference_users"`
}

// Stats returns current store counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Sessions: len(s.contexts), Preferences: len(s.prefs)}
}
