package toolexec

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/metrics"
)

// Config tunes the coordinator.
type Config struct {
	// MaxHistoryLength caps the per-session ring of terminal executions.
	MaxHistoryLength int
}

// DefaultConfig returns the baseline coordinator configuration.
func DefaultConfig() Config {
	return Config{MaxHistoryLength: 100}
}

// Coordinator is the dependency-gated bookkeeping state machine for tool
// invocations. Safe for concurrent access; all public methods lock the
// coordinator's single mutex.
type Coordinator struct {
	mu        sync.Mutex
	cfg       Config
	logger    logging.Logger
	collector metrics.Collector
	entropy   *rand.Rand

	// active holds every non-terminal execution by id.
	active map[string]*core.ToolExecution
	// blocks maps a dependency id to the ids it currently blocks (reverse
	// edges of dependsOn, for O(1) dependent lookup).
	blocks map[string][]string
	// completed records successfully completed ids per session; canExecute
	// requires COMPLETED, not merely terminal.
	completed map[string]map[string]struct{}
	// history is the bounded per-session ring of terminal executions.
	history map[string][]*core.ToolExecution
	// queue holds enqueued ACTIVE ids in admission order. The queue never
	// contains a non-ACTIVE id.
	queue []string
}

// Option mutates coordinator construction settings.
type Option func(*Coordinator)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option { return func(c *Coordinator) { c.cfg = cfg } }

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithCollector attaches a metrics collector.
func WithCollector(m metrics.Collector) Option { return func(c *Coordinator) { c.collector = m } }

// NewCoordinator constructs an empty coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:       DefaultConfig(),
		logger:    logging.NoOpLogger{},
		collector: metrics.NewNoopCollector(),
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
		active:    make(map[string]*core.ToolExecution),
		blocks:    make(map[string][]string),
		completed: make(map[string]map[string]struct{}),
		history:   make(map[string][]*core.ToolExecution),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newIDLocked mints a sortable, collision-free execution id.
func (c *Coordinator) newIDLocked(sessionID, toolName string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy)
	return fmt.Sprintf("%s_%s_%s", sessionID, toolName, id)
}

// StartOption adjusts a single execution registration.
type StartOption func(*core.ToolExecution)

// WithParent links the new execution under an existing parent execution.
func WithParent(parentID string) StartOption {
	return func(e *core.ToolExecution) { e.ParentID = parentID }
}

// Start registers a new execution. Dependencies must reference known
// executions of the same session (pending or already completed); unknown ids
// are rejected with ErrNotFound and cyclic graphs with ErrDependencyCycle.
// The execution is promoted to ACTIVE and enqueued immediately iff every
// dependency is already COMPLETED, otherwise it stays WAITING.
func (c *Coordinator) Start(sessionID, toolName string, params map[string]any, priority int, dependsOn []string, opts ...StartOption) (string, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	deps := dedupe(dependsOn)
	for _, dep := range deps {
		if pending, ok := c.active[dep]; ok {
			if pending.SessionID != sessionID {
				c.collector.RecordOperation("toolexec", "start", "not_found", time.Since(start))
				return "", fmt.Errorf("dependency %s: %w", dep, core.ErrNotFound)
			}
			continue
		}
		if _, ok := c.completed[sessionID][dep]; ok {
			continue
		}
		c.collector.RecordOperation("toolexec", "start", "not_found", time.Since(start))
		return "", fmt.Errorf("dependency %s: %w", dep, core.ErrNotFound)
	}
	if err := c.checkAcyclicLocked(deps); err != nil {
		c.collector.RecordOperation("toolexec", "start", "cycle", time.Since(start))
		return "", err
	}

	exec := &core.ToolExecution{
		ID:         c.newIDLocked(sessionID, toolName),
		ToolName:   toolName,
		SessionID:  sessionID,
		State:      core.StateInitializing,
		Priority:   priority,
		DependsOn:  deps,
		Parameters: params,
		Created:    start,
	}
	for _, opt := range opts {
		opt(exec)
	}
	if exec.ParentID != "" {
		if parent, ok := c.active[exec.ParentID]; ok && parent.SessionID == sessionID {
			parent.ChildIDs = append(parent.ChildIDs, exec.ID)
		} else {
			c.collector.RecordOperation("toolexec", "start", "not_found", time.Since(start))
			return "", fmt.Errorf("parent %s: %w", exec.ParentID, core.ErrNotFound)
		}
	}

	c.active[exec.ID] = exec
	for _, dep := range deps {
		if _, pending := c.active[dep]; pending {
			c.blocks[dep] = append(c.blocks[dep], exec.ID)
		}
	}

	if c.canExecuteLocked(exec) {
		exec.State = core.StateActive
		c.queue = append(c.queue, exec.ID)
	} else {
		exec.State = core.StateWaiting
	}

	c.logger.Debug("execution registered",
		"session_id", sessionID, "tool", toolName, "execution_id", exec.ID,
		"state", exec.State, "depends_on", len(deps))
	c.updateGaugesLocked()
	c.collector.RecordOperation("toolexec", "start", "ok", time.Since(start))
	return exec.ID, nil
}

// checkAcyclicLocked walks the transitive dependency closure of the proposed
// edges and rejects any cycle among them. New edges always point at existing
// nodes, so this also guards against a previously corrupted graph being
// extended.
func (c *Coordinator) checkAcyclicLocked(deps []string) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var walk func(id string) error
	walk = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: via %s", core.ErrDependencyCycle, id)
		case done:
			return nil
		}
		state[id] = visiting
		if exec, ok := c.active[id]; ok {
			for _, dep := range exec.DependsOn {
				if err := walk(dep); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}
	for _, dep := range deps {
		if err := walk(dep); err != nil {
			return err
		}
	}
	return nil
}

// canExecuteLocked reports whether every dependency id is COMPLETED.
func (c *Coordinator) canExecuteLocked(exec *core.ToolExecution) bool {
	sessionDone := c.completed[exec.SessionID]
	for _, dep := range exec.DependsOn {
		if _, ok := sessionDone[dep]; !ok {
			return false
		}
	}
	return true
}

// MarkExecuting transitions an enqueued ACTIVE execution to EXECUTING,
// recording its start time and removing it from the queue.
func (c *Coordinator) MarkExecuting(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec, ok := c.active[id]
	if !ok {
		return fmt.Errorf("execution %s: %w", id, core.ErrNotFound)
	}
	if !exec.State.CanTransition(core.StateExecuting) {
		return fmt.Errorf("%s -> %s: %w", exec.State, core.StateExecuting, core.ErrInvalidTransition)
	}
	exec.State = core.StateExecuting
	now := time.Now()
	exec.Started = &now
	c.removeFromQueueLocked(id)
	c.updateGaugesLocked()
	return nil
}

// Complete transitions an execution to COMPLETED (success) or FAILED,
// rejecting the call with ErrInvalidTransition when the current state has no
// edge to that terminal state (SUSPENDED executions fail only through
// Cancel). On success it moves the record into the per-session history ring,
// removes it from the dependency graph and runs the unblocking cascade: every
// execution blocked
// by the completed id is promoted to ACTIVE once all of its dependencies are
// COMPLETED. On failure, dependents are cascade-failed (the documented
// propagation policy) so the graph cannot deadlock in WAITING.
func (c *Coordinator) Complete(id string, result any, success bool, errMsg string) error {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	exec, ok := c.active[id]
	if !ok {
		c.collector.RecordOperation("toolexec", "complete", "not_found", time.Since(start))
		return fmt.Errorf("execution %s: %w", id, core.ErrNotFound)
	}
	target := core.StateCompleted
	if !success {
		target = core.StateFailed
	}
	if !exec.State.CanTransition(target) {
		c.collector.RecordOperation("toolexec", "complete", "invalid_transition", time.Since(start))
		return fmt.Errorf("%s -> %s: %w", exec.State, target, core.ErrInvalidTransition)
	}

	c.finalizeLocked(exec, result, success, errMsg)
	c.updateGaugesLocked()
	status := "ok"
	if !success {
		status = "failed"
	}
	c.collector.RecordOperation("toolexec", "complete", status, time.Since(start))
	return nil
}

// Cancel force-fails a non-terminal execution through CLEANUP. Dependents
// are notified via the same completion path, which cascade-fails them.
func (c *Coordinator) Cancel(id, reason string) error {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	exec, ok := c.active[id]
	if !ok {
		c.collector.RecordOperation("toolexec", "cancel", "not_found", time.Since(start))
		return fmt.Errorf("execution %s: %w", id, core.ErrNotFound)
	}
	exec.State = core.StateCleanup
	if reason == "" {
		reason = "cancelled"
	}
	c.finalizeLocked(exec, nil, false, reason)
	c.updateGaugesLocked()
	c.collector.RecordOperation("toolexec", "cancel", "ok", time.Since(start))
	return nil
}

// finalizeLocked applies the terminal transition, archives the record and
// cascades through the reverse edges. Failure propagation is iterative to
// keep stack depth independent of graph depth.
func (c *Coordinator) finalizeLocked(exec *core.ToolExecution, result any, success bool, errMsg string) {
	type pending struct {
		exec   *core.ToolExecution
		result any
		ok     bool
		errMsg string
	}
	worklist := []pending{{exec: exec, result: result, ok: success, errMsg: errMsg}}

	for len(worklist) > 0 {
		item := worklist[0]
		worklist = worklist[1:]
		e := item.exec

		if item.ok {
			e.State = core.StateCompleted
		} else {
			e.State = core.StateFailed
			e.Error = item.errMsg
		}
		e.Result = item.result
		now := time.Now()
		e.Completed = &now

		delete(c.active, e.ID)
		c.removeFromQueueLocked(e.ID)
		c.archiveLocked(e)
		if item.ok {
			sessionDone, ok := c.completed[e.SessionID]
			if !ok {
				sessionDone = make(map[string]struct{})
				c.completed[e.SessionID] = sessionDone
			}
			sessionDone[e.ID] = struct{}{}
		}

		// Drop this node's forward edges from the reverse index.
		for _, dep := range e.DependsOn {
			c.blocks[dep] = removeID(c.blocks[dep], e.ID)
			if len(c.blocks[dep]) == 0 {
				delete(c.blocks, dep)
			}
		}

		// Unblocking cascade over reverse edges.
		dependents := c.blocks[e.ID]
		delete(c.blocks, e.ID)
		for _, depID := range dependents {
			dependent, ok := c.active[depID]
			if !ok {
				continue
			}
			if !item.ok {
				dependent.State = core.StateCleanup
				worklist = append(worklist, pending{
					exec:   dependent,
					ok:     false,
					errMsg: fmt.Sprintf("%s: %s", core.ErrDependencyFailed, e.ID),
				})
				continue
			}
			if dependent.State == core.StateWaiting && c.canExecuteLocked(dependent) {
				dependent.State = core.StateActive
				c.queue = append(c.queue, dependent.ID)
				c.logger.Debug("execution unblocked",
					"session_id", dependent.SessionID, "execution_id", dependent.ID,
					"completed_dependency", e.ID)
			}
		}

		c.logger.Debug("execution finalized",
			"session_id", e.SessionID, "execution_id", e.ID, "state", e.State)
	}
}

// archiveLocked appends a terminal execution to the session history ring,
// dropping the oldest record beyond the cap.
func (c *Coordinator) archiveLocked(exec *core.ToolExecution) {
	ring := append(c.history[exec.SessionID], exec)
	if excess := len(ring) - c.cfg.MaxHistoryLength; excess > 0 {
		ring = append([]*core.ToolExecution(nil), ring[excess:]...)
	}
	c.history[exec.SessionID] = ring
}

// Suspend pauses a non-terminal execution. ACTIVE executions leave the queue.
func (c *Coordinator) Suspend(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec, ok := c.active[id]
	if !ok {
		return fmt.Errorf("execution %s: %w", id, core.ErrNotFound)
	}
	if !exec.State.CanTransition(core.StateSuspended) {
		return fmt.Errorf("%s -> %s: %w", exec.State, core.StateSuspended, core.ErrInvalidTransition)
	}
	exec.State = core.StateSuspended
	c.removeFromQueueLocked(id)
	c.updateGaugesLocked()
	return nil
}

// Resume re-evaluates a suspended execution's dependencies: it becomes
// ACTIVE (re-enqueued) when they are all COMPLETED, WAITING otherwise.
func (c *Coordinator) Resume(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec, ok := c.active[id]
	if !ok {
		return fmt.Errorf("execution %s: %w", id, core.ErrNotFound)
	}
	if exec.State != core.StateSuspended {
		return fmt.Errorf("%s -> %s: %w", exec.State, core.StateActive, core.ErrInvalidTransition)
	}
	if c.canExecuteLocked(exec) {
		exec.State = core.StateActive
		c.queue = append(c.queue, exec.ID)
	} else {
		exec.State = core.StateWaiting
	}
	c.updateGaugesLocked()
	return nil
}

// DequeueNext pops the highest-priority enqueued ACTIVE execution for the
// session (admission order breaks ties). The execution stays ACTIVE until
// the caller reports MarkExecuting.
func (c *Coordinator) DequeueNext(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	best := -1
	for i, id := range c.queue {
		exec, ok := c.active[id]
		if !ok || exec.SessionID != sessionID {
			continue
		}
		if best == -1 || exec.Priority > c.active[c.queue[best]].Priority {
			best = i
		}
	}
	if best == -1 {
		return "", false
	}
	id := c.queue[best]
	c.queue = append(c.queue[:best], c.queue[best+1:]...)
	return id, true
}

// Get returns a clone of the execution, searching the active index first and
// the history rings second.
func (c *Coordinator) Get(id string) (*core.ToolExecution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exec, ok := c.active[id]; ok {
		return exec.Clone(), nil
	}
	for _, ring := range c.history {
		for _, exec := range ring {
			if exec.ID == id {
				return exec.Clone(), nil
			}
		}
	}
	return nil, fmt.Errorf("execution %s: %w", id, core.ErrNotFound)
}

// ActiveForSession returns clones of the session's executions in ACTIVE or
// EXECUTING state. WAITING and SUSPENDED executions are excluded.
func (c *Coordinator) ActiveForSession(sessionID string) []*core.ToolExecution {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*core.ToolExecution
	for _, exec := range c.active {
		if exec.SessionID != sessionID {
			continue
		}
		if exec.State == core.StateActive || exec.State == core.StateExecuting {
			out = append(out, exec.Clone())
		}
	}
	return out
}

// ActiveTools returns the tool names currently ACTIVE or EXECUTING for the
// session.
func (c *Coordinator) ActiveTools(sessionID string) []string {
	execs := c.ActiveForSession(sessionID)
	names := make([]string, 0, len(execs))
	for _, exec := range execs {
		names = append(names, exec.ToolName)
	}
	return names
}

// CompleteForTool completes the most recent ACTIVE/EXECUTING execution of
// the named tool in the session. Used by the context store when a caller
// reports a tool result by name rather than by execution id.
func (c *Coordinator) CompleteForTool(sessionID, toolName string, result any, success bool, errMsg string) (string, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var target *core.ToolExecution
	for _, exec := range c.active {
		if exec.SessionID != sessionID || exec.ToolName != toolName {
			continue
		}
		if exec.State != core.StateActive && exec.State != core.StateExecuting {
			continue
		}
		if target == nil || exec.Created.After(target.Created) {
			target = exec
		}
	}
	if target == nil {
		c.collector.RecordOperation("toolexec", "complete", "not_found", time.Since(start))
		return "", fmt.Errorf("tool %s in session %s: %w", toolName, sessionID, core.ErrNotFound)
	}
	c.finalizeLocked(target, result, success, errMsg)
	c.updateGaugesLocked()
	status := "ok"
	if !success {
		status = "failed"
	}
	c.collector.RecordOperation("toolexec", "complete", status, time.Since(start))
	return target.ID, nil
}

// History returns clones of the last n terminal executions, oldest first.
// n <= 0 returns the full retained ring.
func (c *Coordinator) History(sessionID string, n int) []*core.ToolExecution {
	c.mu.Lock()
	defer c.mu.Unlock()
	ring := c.history[sessionID]
	start := 0
	if n > 0 && len(ring) > n {
		start = len(ring) - n
	}
	out := make([]*core.ToolExecution, 0, len(ring)-start)
	for _, exec := range ring[start:] {
		out = append(out, exec.Clone())
	}
	return out
}

// ClearSession drops every execution, edge, queue entry and history record
// belonging to the session.
func (c *Coordinator) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, exec := range c.active {
		if exec.SessionID != sessionID {
			continue
		}
		delete(c.active, id)
		delete(c.blocks, id)
		c.removeFromQueueLocked(id)
		for _, dep := range exec.DependsOn {
			c.blocks[dep] = removeID(c.blocks[dep], id)
		}
	}
	delete(c.history, sessionID)
	delete(c.completed, sessionID)
	c.updateGaugesLocked()
}

// updateGaugesLocked refreshes the per-state execution gauges.
func (c *Coordinator) updateGaugesLocked() {
	counts := map[core.ExecutionState]int{}
	for _, exec := range c.active {
		counts[exec.State]++
	}
	for _, state := range []core.ExecutionState{core.StateActive, core.StateWaiting, core.StateExecuting, core.StateSuspended} {
		c.collector.SetExecutionCount(string(state), counts[state])
	}
}

func (c *Coordinator) removeFromQueueLocked(id string) {
	c.queue = removeID(c.queue, id)
}

// SessionSnapshot is the serializable form of one session's tool state.
type SessionSnapshot struct {
	Active    []*core.ToolExecution `json:"active,omitempty"`
	History   []*core.ToolExecution `json:"history,omitempty"`
	Completed []string              `json:"completed_ids,omitempty"`
}

// Export returns serializable snapshots of every session's tool state.
func (c *Coordinator) Export() map[string]SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]SessionSnapshot)
	for _, exec := range c.active {
		snap := out[exec.SessionID]
		snap.Active = append(snap.Active, exec.Clone())
		out[exec.SessionID] = snap
	}
	for sessionID, ring := range c.history {
		snap := out[sessionID]
		for _, exec := range ring {
			snap.History = append(snap.History, exec.Clone())
		}
		out[sessionID] = snap
	}
	for sessionID, ids := range c.completed {
		snap := out[sessionID]
		for id := range ids {
			snap.Completed = append(snap.Completed, id)
		}
		out[sessionID] = snap
	}
	return out
}

// ExportSession returns the snapshot of a single session's tool state.
func (c *Coordinator) ExportSession(sessionID string) (SessionSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var snap SessionSnapshot
	found := false
	for _, exec := range c.active {
		if exec.SessionID == sessionID {
			snap.Active = append(snap.Active, exec.Clone())
			found = true
		}
	}
	for _, exec := range c.history[sessionID] {
		snap.History = append(snap.History, exec.Clone())
		found = true
	}
	for id := range c.completed[sessionID] {
		snap.Completed = append(snap.Completed, id)
		found = true
	}
	return snap, found
}

// Import replaces the coordinator's state with the given snapshots,
// rebuilding the reverse edges and the queue from the restored executions.
// Unknown serialized states are dropped with a warning rather than aborting
// the load.
func (c *Coordinator) Import(snapshots map[string]SessionSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = make(map[string]*core.ToolExecution)
	c.blocks = make(map[string][]string)
	c.completed = make(map[string]map[string]struct{})
	c.history = make(map[string][]*core.ToolExecution)
	c.queue = nil

	for sessionID, snap := range snapshots {
		if len(snap.Completed) > 0 {
			done := make(map[string]struct{}, len(snap.Completed))
			for _, id := range snap.Completed {
				done[id] = struct{}{}
			}
			c.completed[sessionID] = done
		}
		for _, exec := range snap.History {
			c.archiveLocked(exec.Clone())
		}
		for _, exec := range snap.Active {
			state, err := core.ParseExecutionState(string(exec.State))
			if err != nil || state.Terminal() {
				c.logger.Warn("dropping execution with bad state on load",
					"execution_id", exec.ID, "state", exec.State)
				continue
			}
			restored := exec.Clone()
			restored.State = state
			c.active[restored.ID] = restored
		}
	}
	for id, exec := range c.active {
		for _, dep := range exec.DependsOn {
			if _, pending := c.active[dep]; pending {
				c.blocks[dep] = append(c.blocks[dep], id)
			}
		}
		if exec.State == core.StateActive {
			c.queue = append(c.queue, id)
		}
	}
	c.updateGaugesLocked()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
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
