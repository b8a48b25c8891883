// Package sessionmesh provides a high-level façade over the session context
// core: the per-session context store, the conversation tracker, the
// tool-execution coordinator, the scoped memory store and the
// access-control facade for external tools. Most applications interact with
// this package by:
//  1. Creating a SessionMesh via New() (optionally attaching persistence,
//     logging and metrics)
//  2. Writing observations through Contexts().UpdateContext or the
//     permission-checked Access() proxy
//  3. Reading unified scoped views back via Contexts().GetCurrentContext
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable persistence backend and a
// structured logger.
package sessionmesh

import (
	"time"

	"github.com/hupe1980/sessionmesh/access"
	"github.com/hupe1980/sessionmesh/contextstore"
	"github.com/hupe1980/sessionmesh/conversation"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/memstore"
	"github.com/hupe1980/sessionmesh/metrics"
	"github.com/hupe1980/sessionmesh/persistence"
	"github.com/hupe1980/sessionmesh/toolexec"
)

// Options configures the SessionMesh instance.
type Options struct {
	// SessionTTL is the inactivity window before CleanupExpiredSessions
	// clears a session.
	SessionTTL time.Duration
	// AutoSave persists the mutated session after every context update when
	// a persistence backend is attached.
	AutoSave bool
	// CacheEnabled turns on the read-through session view cache.
	CacheEnabled bool

	// Leaf configurations.
	ConversationConfig conversation.Config
	ToolConfig         toolexec.Config
	MemoryConfig       memstore.Config

	// Detector overrides the default keyword topic detector.
	Detector conversation.TopicDetector

	// Persistence backend (nil keeps everything in memory).
	Persistence persistence.Store

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
	// Metrics collector (defaults to the no-op collector if nil).
	Metrics metrics.Collector
}

// SessionMesh aggregates the context store and the access-control facade.
type SessionMesh struct {
	opts     Options
	contexts *contextstore.Store
	facade   *access.Facade
}

// New creates a SessionMesh with optional overrides. Any unset service is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *SessionMesh {
	opts := Options{
		SessionTTL:         24 * time.Hour,
		CacheEnabled:       true,
		ConversationConfig: conversation.DefaultConfig(),
		ToolConfig:         toolexec.DefaultConfig(),
		MemoryConfig:       memstore.DefaultConfig(),
		Logger:             logging.NoOpLogger{},
		Metrics:            metrics.NewNoopCollector(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	trackerOpts := []conversation.Option{
		conversation.WithConfig(opts.ConversationConfig),
		conversation.WithLogger(opts.Logger),
	}
	if opts.Detector != nil {
		trackerOpts = append(trackerOpts, conversation.WithDetector(opts.Detector))
	}

	contexts := contextstore.NewStore(
		contextstore.WithConfig(contextstore.Config{
			SessionTTL:   opts.SessionTTL,
			AutoSave:     opts.AutoSave,
			CacheEnabled: opts.CacheEnabled,
		}),
		contextstore.WithLogger(opts.Logger),
		contextstore.WithCollector(opts.Metrics),
		contextstore.WithTracker(conversation.NewTracker(trackerOpts...)),
		contextstore.WithCoordinator(toolexec.NewCoordinator(
			toolexec.WithConfig(opts.ToolConfig),
			toolexec.WithLogger(opts.Logger),
			toolexec.WithCollector(opts.Metrics),
		)),
		contextstore.WithMemory(memstore.NewScopedStore(
			memstore.WithConfig(opts.MemoryConfig),
			memstore.WithLogger(opts.Logger),
			memstore.WithCollector(opts.Metrics),
		)),
		contextstore.WithPersistence(opts.Persistence),
	)

	return &SessionMesh{
		opts:     opts,
		contexts: contexts,
		facade: access.NewFacade(contexts,
			access.WithLogger(opts.Logger),
			access.WithCollector(opts.Metrics),
		),
	}
}

// Contexts returns the session context store.
func (m *SessionMesh) Contexts() *contextstore.Store { return m.contexts }

// Access returns the permission-checked facade for external tools.
func (m *SessionMesh) Access() *access.Facade { return m.facade }

// Conversation returns the conversation tracker leaf.
func (m *SessionMesh) Conversation() *conversation.Tracker { return m.contexts.Conversation() }

// Tools returns the tool-execution coordinator leaf.
func (m *SessionMesh) Tools() *toolexec.Coordinator { return m.contexts.Tools() }

// Memory returns the scoped memory leaf.
func (m *SessionMesh) Memory() *memstore.ScopedStore { return m.contexts.Memory() }

// Save persists a full snapshot through the configured backend.
func (m *SessionMesh) Save() error { return m.contexts.Save() }

// Load restores state from the configured backend.
func (m *SessionMesh) Load() error { return m.contexts.Load() }

// CleanupExpiredSessions clears sessions idle past the TTL and returns the
// count removed.
func (m *SessionMesh) CleanupExpiredSessions() int { return m.contexts.CleanupExpired() }
