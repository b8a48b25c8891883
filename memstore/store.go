package memstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/metrics"
)

// Cap bounds one memory scope: eviction starts past Max and stops at Target.
type Cap struct {
	Max    int
	Target int
}

// Config tunes the store's TTL default and per-scope capacity caps.
type Config struct {
	// DefaultTemporaryTTL applies to TEMPORARY entries stored without an
	// explicit TTL.
	DefaultTemporaryTTL time.Duration
	// Caps maps a scope to its capacity bounds. Scopes without a cap
	// (PERSISTENT by default) never evict.
	Caps map[core.MemoryScope]Cap
}

// DefaultConfig returns the baseline memory configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTemporaryTTL: time.Hour,
		Caps: map[core.MemoryScope]Cap{
			core.MemorySession:      {Max: 500, Target: 400},
			core.MemoryConversation: {Max: 200, Target: 150},
			core.MemoryTask:         {Max: 100, Target: 75},
			core.MemoryTemporary:    {Max: 50, Target: 25},
		},
	}
}

// bucket is the per-session storage: one map per scope plus the two
// secondary indices. Guarded by ScopedStore.mu.
type bucket struct {
	scopes    map[core.MemoryScope]map[string]*core.MemoryEntry
	typeIndex map[core.MemoryType][]string
	tagIndex  map[string][]string
}

func newBucket() *bucket {
	return &bucket{
		scopes:    make(map[core.MemoryScope]map[string]*core.MemoryEntry),
		typeIndex: make(map[core.MemoryType][]string),
		tagIndex:  make(map[string][]string),
	}
}

func (b *bucket) find(entryID string) (*core.MemoryEntry, bool) {
	for _, scope := range b.scopes {
		if e, ok := scope[entryID]; ok {
			return e, true
		}
	}
	return nil, false
}

// ScopedStore is the multi-scope TTL+eviction key/value store. Safe for
// concurrent access.
type ScopedStore struct {
	mu        sync.Mutex
	cfg       Config
	logger    logging.Logger
	collector metrics.Collector
	sessions  map[string]*bucket
	// lastMillis backs the monotonic millisecond component of entry ids so
	// concurrent stores in the same millisecond cannot collide.
	lastMillis int64
}

// Option mutates store construction settings.
type Option func(*ScopedStore)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option { return func(s *ScopedStore) { s.cfg = cfg } }

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option { return func(s *ScopedStore) { s.logger = l } }

// WithCollector attaches a metrics collector.
func WithCollector(m metrics.Collector) Option { return func(s *ScopedStore) { s.collector = m } }

// NewScopedStore constructs an empty store.
func NewScopedStore(opts ...Option) *ScopedStore {
	s := &ScopedStore{
		cfg:      DefaultConfig(),
		logger:   logging.NoOpLogger{},
		sessions: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.collector == nil {
		s.collector = metrics.NewNoopCollector()
	}
	return s
}

// nextMillisLocked returns a strictly increasing millisecond value.
func (s *ScopedStore) nextMillisLocked() int64 {
	ms := time.Now().UnixMilli()
	if ms <= s.lastMillis {
		ms = s.lastMillis + 1
	}
	s.lastMillis = ms
	return ms
}

// Store inserts a new entry into the scope map and both secondary indices,
// then enforces the scope's capacity cap. TTL <= 0 means no expiry except in
// the TEMPORARY scope, which defaults to the configured TTL. Priority is
// clamped to [1,5]. Returns the generated entry id, shaped
// <session>_<type>_<millis> with a monotonic millisecond component.
func (s *ScopedStore) Store(sessionID string, memType core.MemoryType, data any, scope core.MemoryScope, tags []string, ttl time.Duration, priority int) (string, error) {
	start := time.Now()
	if _, err := core.ParseMemoryScope(string(scope)); err != nil {
		s.collector.RecordOperation("memstore", "store", "unknown_scope", time.Since(start))
		return "", fmt.Errorf("%w: %q", core.ErrUnknownScope, scope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 && scope == core.MemoryTemporary {
		ttl = s.cfg.DefaultTemporaryTTL
	}
	now := time.Now()
	entry := &core.MemoryEntry{
		ID:        fmt.Sprintf("%s_%s_%d", sessionID, memType, s.nextMillisLocked()),
		SessionID: sessionID,
		Type:      memType,
		Scope:     scope,
		Data:      data,
		Tags:      append([]string(nil), tags...),
		Priority:  core.ClampPriority(priority),
		Created:   now,
		Accessed:  now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		entry.ExpiresAt = &exp
	}

	b, ok := s.sessions[sessionID]
	if !ok {
		b = newBucket()
		s.sessions[sessionID] = b
	}
	scopeMap, ok := b.scopes[scope]
	if !ok {
		scopeMap = make(map[string]*core.MemoryEntry)
		b.scopes[scope] = scopeMap
	}
	scopeMap[entry.ID] = entry
	b.typeIndex[memType] = append(b.typeIndex[memType], entry.ID)
	for _, tag := range entry.Tags {
		b.tagIndex[tag] = append(b.tagIndex[tag], entry.ID)
	}

	s.enforceCapLocked(b, scope)
	s.collector.SetEntryCount(string(scope), len(b.scopes[scope]))
	s.collector.RecordOperation("memstore", "store", "ok", time.Since(start))
	return entry.ID, nil
}

// Retrieve returns a clone of the entry, applying lazy expiry: an entry past
// its TTL is removed from the scope map and both indices and reported as
// ErrExpired. A live entry's access time and count are bumped.
func (s *ScopedStore) Retrieve(sessionID, entryID string) (*core.MemoryEntry, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.retrieveLocked(sessionID, entryID)
	if err != nil {
		status := "not_found"
		if errors.Is(err, core.ErrExpired) {
			status = "expired"
		}
		s.collector.RecordOperation("memstore", "retrieve", status, time.Since(start))
		return nil, err
	}
	s.collector.RecordOperation("memstore", "retrieve", "ok", time.Since(start))
	return entry.Clone(), nil
}

// retrieveLocked resolves an entry id with lazy expiry and access bumping.
func (s *ScopedStore) retrieveLocked(sessionID, entryID string) (*core.MemoryEntry, error) {
	b, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", entryID, core.ErrNotFound)
	}
	entry, ok := b.find(entryID)
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", entryID, core.ErrNotFound)
	}
	if entry.Expired(time.Now()) {
		s.removeLocked(b, entry)
		s.collector.RecordExpiry("memory_entry")
		s.logger.Debug("entry expired", "session_id", sessionID, "entry_id", entryID)
		return nil, fmt.Errorf("entry %s: %w", entryID, core.ErrExpired)
	}
	entry.Accessed = time.Now()
	entry.AccessCount++
	return entry, nil
}

// Search computes the candidate set from the type and tag indices (the
// intersection when both filters are given, all entries when neither is),
// resolves each candidate through the lazy-expiry path, sorts by priority
// descending then creation time descending, and truncates to limit.
// Dangling index ids resolve to nothing and are skipped, not errors.
func (s *ScopedStore) Search(sessionID string, memType core.MemoryType, tags []string, limit int) []*core.MemoryEntry {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.sessions[sessionID]
	if !ok {
		s.collector.RecordOperation("memstore", "search", "ok", time.Since(start))
		return nil
	}

	var candidates []string
	switch {
	case memType != "" && len(tags) > 0:
		candidates = intersect(b.typeIndex[memType], s.tagCandidatesLocked(b, tags))
	case memType != "":
		candidates = append([]string(nil), b.typeIndex[memType]...)
	case len(tags) > 0:
		candidates = s.tagCandidatesLocked(b, tags)
	default:
		for _, scopeMap := range b.scopes {
			for id := range scopeMap {
				candidates = append(candidates, id)
			}
		}
	}

	var results []*core.MemoryEntry
	for _, id := range candidates {
		entry, err := s.retrieveLocked(sessionID, id)
		if err != nil {
			continue
		}
		results = append(results, entry.Clone())
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Priority != results[j].Priority {
			return results[i].Priority > results[j].Priority
		}
		return results[i].Created.After(results[j].Created)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	s.collector.RecordOperation("memstore", "search", "ok", time.Since(start))
	return results
}

// tagCandidatesLocked intersects the posting lists of every given tag.
func (s *ScopedStore) tagCandidatesLocked(b *bucket, tags []string) []string {
	out := append([]string(nil), b.tagIndex[tags[0]]...)
	for _, tag := range tags[1:] {
		out = intersect(out, b.tagIndex[tag])
	}
	return out
}

// Remove deletes the entry from its scope map and both secondary indices in
// one step.
func (s *ScopedStore) Remove(sessionID, entryID string) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.sessions[sessionID]
	if !ok {
		s.collector.RecordOperation("memstore", "remove", "not_found", time.Since(start))
		return fmt.Errorf("entry %s: %w", entryID, core.ErrNotFound)
	}
	entry, ok := b.find(entryID)
	if !ok {
		s.collector.RecordOperation("memstore", "remove", "not_found", time.Since(start))
		return fmt.Errorf("entry %s: %w", entryID, core.ErrNotFound)
	}
	s.removeLocked(b, entry)
	s.collector.RecordOperation("memstore", "remove", "ok", time.Since(start))
	return nil
}

// removeLocked is the single removal point: scope map, type index and every
// tag posting list, atomically under the store lock.
func (s *ScopedStore) removeLocked(b *bucket, entry *core.MemoryEntry) {
	delete(b.scopes[entry.Scope], entry.ID)
	b.typeIndex[entry.Type] = removeID(b.typeIndex[entry.Type], entry.ID)
	if len(b.typeIndex[entry.Type]) == 0 {
		delete(b.typeIndex, entry.Type)
	}
	for _, tag := range entry.Tags {
		b.tagIndex[tag] = removeID(b.tagIndex[tag], entry.ID)
		if len(b.tagIndex[tag]) == 0 {
			delete(b.tagIndex, tag)
		}
	}
	s.collector.SetEntryCount(string(entry.Scope), len(b.scopes[entry.Scope]))
}

// enforceCapLocked evicts the lowest-priority, least-recently-accessed
// entries once a scope exceeds its Max cap, down to the Target size.
func (s *ScopedStore) enforceCapLocked(b *bucket, scope core.MemoryScope) {
	bound, ok := s.cfg.Caps[scope]
	if !ok || bound.Max <= 0 {
		return
	}
	scopeMap := b.scopes[scope]
	if len(scopeMap) <= bound.Max {
		return
	}
	entries := make([]*core.MemoryEntry, 0, len(scopeMap))
	for _, e := range scopeMap {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority < entries[j].Priority
		}
		return entries[i].Accessed.Before(entries[j].Accessed)
	})
	evicted := 0
	for _, e := range entries {
		if len(scopeMap) <= bound.Target {
			break
		}
		s.removeLocked(b, e)
		evicted++
	}
	if evicted > 0 {
		s.collector.RecordEviction(string(scope), evicted)
		s.logger.Debug("memory evicted", "scope", scope, "count", evicted, "target", bound.Target)
	}
}

// Count returns the live entry count for a scope (expired entries included
// until lazily collected).
func (s *ScopedStore) Count(sessionID string, scope core.MemoryScope) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.sessions[sessionID]; ok {
		return len(b.scopes[scope])
	}
	return 0
}

// Clear drops every scope of the session except PERSISTENT, whose entries
// are keyed independent of the session lifetime.
func (s *ScopedStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	for scope, scopeMap := range b.scopes {
		if scope == core.MemoryPersistent {
			continue
		}
		for _, entry := range scopeMap {
			s.removeLocked(b, entry)
		}
	}
	if len(b.scopes[core.MemoryPersistent]) == 0 {
		delete(s.sessions, sessionID)
	}
}

// SessionSnapshot is the serializable form of one session's memory. The
// secondary indices are rebuilt on load, not serialized.
type SessionSnapshot struct {
	Entries []*core.MemoryEntry `json:"entries"`
}

// Export returns serializable snapshots of every session's memory.
func (s *ScopedStore) Export() map[string]SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SessionSnapshot, len(s.sessions))
	for sessionID, b := range s.sessions {
		var snap SessionSnapshot
		for _, scopeMap := range b.scopes {
			for _, entry := range scopeMap {
				snap.Entries = append(snap.Entries, entry.Clone())
			}
		}
		out[sessionID] = snap
	}
	return out
}

// ExportSession returns the snapshot of a single session's memory.
func (s *ScopedStore) ExportSession(sessionID string) (SessionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.sessions[sessionID]
	if !ok {
		return SessionSnapshot{}, false
	}
	var snap SessionSnapshot
	for _, scopeMap := range b.scopes {
		for _, entry := range scopeMap {
			snap.Entries = append(snap.Entries, entry.Clone())
		}
	}
	return snap, true
}

// Import replaces the store's state with the given snapshots, rebuilding
// both secondary indices. Entries with an unknown scope are dropped with a
// warning.
func (s *ScopedStore) Import(snapshots map[string]SessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*bucket, len(snapshots))
	for sessionID, snap := range snapshots {
		b := newBucket()
		for _, entry := range snap.Entries {
			if _, err := core.ParseMemoryScope(string(entry.Scope)); err != nil {
				s.logger.Warn("dropping entry with bad scope on load",
					"entry_id", entry.ID, "scope", entry.Scope)
				continue
			}
			restored := entry.Clone()
			scopeMap, ok := b.scopes[restored.Scope]
			if !ok {
				scopeMap = make(map[string]*core.MemoryEntry)
				b.scopes[restored.Scope] = scopeMap
			}
			scopeMap[restored.ID] = restored
			b.typeIndex[restored.Type] = append(b.typeIndex[restored.Type], restored.ID)
			for _, tag := range restored.Tags {
				b.tagIndex[tag] = append(b.tagIndex[tag], restored.ID)
			}
		}
		if len(b.scopes) > 0 {
			s.sessions[sessionID] = b
		}
	}
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
