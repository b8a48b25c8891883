package access

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/sessionmesh/contextstore"
	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/metrics"
)

// Facade is the access-controlled proxy over the context store. Safe for
// concurrent access.
type Facade struct {
	mu        sync.Mutex
	store     *contextstore.Store
	logger    logging.Logger
	collector metrics.Collector
	perms     map[string]*core.Permission
}

// Option mutates facade construction settings.
type Option func(*Facade)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option { return func(f *Facade) { f.logger = l } }

// WithCollector attaches a metrics collector.
func WithCollector(m metrics.Collector) Option { return func(f *Facade) { f.collector = m } }

// NewFacade constructs a facade over the given store.
func NewFacade(store *contextstore.Store, opts ...Option) *Facade {
	f := &Facade{
		store:  store,
		logger: logging.NoOpLogger{},
		perms:  make(map[string]*core.Permission),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.collector == nil {
		f.collector = metrics.NewNoopCollector()
	}
	return f
}

// RegisterTool stores a permission for the named tool. Empty scope or
// operation sets default from the access level; ttl <= 0 means no expiry.
// Re-registering replaces the previous grant.
func (f *Facade) RegisterTool(name string, level core.AccessLevel, scopes []core.ContextScope, ops []core.Operation, ttl time.Duration) error {
	if _, err := core.ParseAccessLevel(string(level)); err != nil {
		return err
	}
	defScopes, defOps := core.DefaultGrants(level)
	if len(scopes) == 0 {
		scopes = defScopes
	}
	if len(ops) == 0 {
		ops = defOps
	}
	perm := &core.Permission{
		ToolName:   name,
		Level:      level,
		Scopes:     append([]core.ContextScope(nil), scopes...),
		Operations: append([]core.Operation(nil), ops...),
		Granted:    time.Now(),
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		perm.ExpiresAt = &exp
	}
	f.mu.Lock()
	f.perms[name] = perm
	f.mu.Unlock()
	f.logger.Info("tool registered", "tool", name, "access_level", level, "scopes", len(scopes), "operations", len(ops))
	return nil
}

// RevokeTool deletes a tool's permission.
func (f *Facade) RevokeTool(name string) {
	f.mu.Lock()
	delete(f.perms, name)
	f.mu.Unlock()
}

// check validates tool access for a scope/operation pair. Expired grants are
// deleted and reported as ErrExpired, distinct from a missing or
// insufficient grant.
func (f *Facade) check(tool string, scope core.ContextScope, op core.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	perm, ok := f.perms[tool]
	if !ok {
		return fmt.Errorf("tool %s: %w", tool, core.ErrPermissionDenied)
	}
	if perm.Expired(time.Now()) {
		delete(f.perms, tool)
		f.collector.RecordExpiry("permission")
		f.logger.Warn("permission expired", "tool", tool)
		return fmt.Errorf("tool %s: %w", tool, core.ErrExpired)
	}
	if !perm.Allows(scope, op) {
		f.logger.Warn("access denied", "tool", tool, "scope", scope, "operation", op)
		return fmt.Errorf("tool %s scope %s operation %s: %w", tool, scope, op, core.ErrPermissionDenied)
	}
	return nil
}

// Permission returns a copy of the live grant for a tool, applying lazy
// expiry.
func (f *Facade) Permission(tool string) (*core.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	perm, ok := f.perms[tool]
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", tool, core.ErrNotFound)
	}
	if perm.Expired(time.Now()) {
		delete(f.perms, tool)
		f.collector.RecordExpiry("permission")
		return nil, fmt.Errorf("tool %s: %w", tool, core.ErrExpired)
	}
	cp := *perm
	cp.Scopes = append([]core.ContextScope(nil), perm.Scopes...)
	cp.Operations = append([]core.Operation(nil), perm.Operations...)
	return &cp, nil
}

// GetContext returns the scoped context view, gated by (scope, read).
func (f *Facade) GetContext(tool, sessionID string, scope core.ContextScope) (map[string]any, error) {
	if err := f.check(tool, scope, core.OpRead); err != nil {
		return nil, err
	}
	return f.store.GetScopedContext(sessionID, scope), nil
}

// UpdateContext merges updates into the scope, gated by (scope, write).
func (f *Facade) UpdateContext(tool, sessionID string, updates map[string]any, scope core.ContextScope) error {
	if err := f.check(tool, scope, core.OpWrite); err != nil {
		return err
	}
	return f.store.UpdateContext(sessionID, updates, scope)
}

// StoreMemory stores a memory entry, gated by (tool, write).
func (f *Facade) StoreMemory(tool, sessionID string, memType core.MemoryType, data any, scope core.MemoryScope, tags []string, ttl time.Duration, priority int) (string, error) {
	if err := f.check(tool, core.ScopeTool, core.OpWrite); err != nil {
		return "", err
	}
	return f.store.Memory().Store(sessionID, memType, data, scope, tags, ttl, priority)
}

// RetrieveMemory fetches a memory entry, gated by (conversation, read).
func (f *Facade) RetrieveMemory(tool, sessionID, entryID string) (*core.MemoryEntry, error) {
	if err := f.check(tool, core.ScopeConversation, core.OpRead); err != nil {
		return nil, err
	}
	return f.store.Memory().Retrieve(sessionID, entryID)
}

// SearchMemory searches memory entries, gated by (conversation, search).
func (f *Facade) SearchMemory(tool, sessionID string, memType core.MemoryType, tags []string, limit int) ([]*core.MemoryEntry, error) {
	if err := f.check(tool, core.ScopeConversation, core.OpSearch); err != nil {
		return nil, err
	}
	return f.store.Memory().Search(sessionID, memType, tags, limit), nil
}

// StartToolExecution registers a tracked execution, gated by (tool, write).
func (f *Facade) StartToolExecution(tool, sessionID, toolName string, params map[string]any, priority int, dependsOn []string) (string, error) {
	if err := f.check(tool, core.ScopeTool, core.OpWrite); err != nil {
		return "", err
	}
	return f.store.Tools().Start(sessionID, toolName, params, priority, dependsOn)
}

// UpdateToolState reports a tool result by name, completing the most recent
// live execution of that tool. Gated by (tool, update).
func (f *Facade) UpdateToolState(tool, sessionID, toolName string, result any, success bool, errMsg string) (string, error) {
	if err := f.check(tool, core.ScopeTool, core.OpUpdate); err != nil {
		return "", err
	}
	return f.store.Tools().CompleteForTool(sessionID, toolName, result, success, errMsg)
}

// LearnPreference records a user preference, gated by (user, update).
func (f *Facade) LearnPreference(tool, userID, key string, value any) error {
	if err := f.check(tool, core.ScopeUser, core.OpUpdate); err != nil {
		return err
	}
	f.store.LearnPreference(userID, key, value)
	return nil
}
