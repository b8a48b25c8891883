package conversation

import (
	"sync"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// Config tunes the tracker's history caps and detection threshold.
type Config struct {
	// MaxHistoryLength caps both the intent history and the conversation
	// flow log; both are trimmed tail-kept after each append.
	MaxHistoryLength int
	// TopicSimilarityThreshold is the minimum keyword-match score for a
	// detection to create or update a topic.
	TopicSimilarityThreshold float64
}

// DefaultConfig returns the baseline tracker configuration.
func DefaultConfig() Config {
	return Config{MaxHistoryLength: 100, TopicSimilarityThreshold: 0.7}
}

// sessionState is the mutable per-session record. Guarded by Tracker.mu.
type sessionState struct {
	topics        map[string]*core.Topic
	intents       []core.IntentRecord
	flow          []core.Step
	phase         core.Phase
	totalSteps    int
	successRate   float64
	avgResponseMs float64
}

// Tracker maintains conversation state per session: lexical topic
// detection, intent bookkeeping, the current phase and a rolling flow log
// with incrementally maintained aggregates. Safe for concurrent access.
type Tracker struct {
	mu       sync.RWMutex
	cfg      Config
	detector TopicDetector
	logger   logging.Logger
	sessions map[string]*sessionState
}

// Option mutates tracker construction settings.
type Option func(*Tracker)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option { return func(t *Tracker) { t.cfg = cfg } }

// WithDetector swaps the topic detector implementation.
func WithDetector(d TopicDetector) Option { return func(t *Tracker) { t.detector = d } }

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option { return func(t *Tracker) { t.logger = l } }

// NewTracker constructs a tracker with safe defaults (keyword detection at
// the default threshold, NoOp logging).
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		cfg:      DefaultConfig(),
		logger:   logging.NoOpLogger{},
		sessions: make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.detector == nil {
		t.detector = NewKeywordDetector(t.cfg.TopicSimilarityThreshold)
	}
	return t
}

func (t *Tracker) stateLocked(sessionID string) *sessionState {
	st, ok := t.sessions[sessionID]
	if !ok {
		st = &sessionState{topics: make(map[string]*core.Topic), phase: core.PhaseGreeting}
		t.sessions[sessionID] = st
	}
	return st
}

// ProcessInput runs topic detection over the user input and creates or
// updates the matching topic. Returns the topic (clone) when a category
// scored above the threshold, nil otherwise.
func (t *Tracker) ProcessInput(sessionID, text string) *core.Topic {
	det, ok := t.detector.Detect(text)
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateLocked(sessionID)
	now := time.Now()
	topic, exists := st.topics[det.Category]
	if !exists {
		topic = &core.Topic{
			Name:          det.Category,
			Keywords:      append([]string(nil), det.Keywords...),
			Confidence:    det.Score,
			MentionCount:  1,
			StartedAt:     now,
			LastMentioned: now,
		}
		st.topics[det.Category] = topic
		t.logger.Debug("topic started", "session_id", sessionID, "topic", det.Category, "score", det.Score)
	} else {
		topic.MentionCount++
		topic.AddKeywords(det.Keywords)
		if det.Score > topic.Confidence {
			topic.Confidence = det.Score
		}
		topic.LastMentioned = now
	}
	return topic.Clone()
}

// RecordIntent appends an intent record and trims the history tail-kept.
func (t *Tracker) RecordIntent(sessionID, intent string, confidence core.Confidence) {
	if confidence == "" {
		confidence = core.ConfidenceUnknown
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateLocked(sessionID)
	st.intents = append(st.intents, core.IntentRecord{
		Intent:     intent,
		Confidence: confidence,
		Timestamp:  time.Now(),
	})
	if excess := len(st.intents) - t.cfg.MaxHistoryLength; excess > 0 {
		st.intents = append([]core.IntentRecord(nil), st.intents[excess:]...)
	}
}

// MarkIntentFulfilled scans the intent history in reverse for the most
// recent unfulfilled record with a matching name and marks it fulfilled with
// the tools used. When two unfulfilled intents share a name, the most recent
// one wins. Returns false if no match was found.
func (t *Tracker) MarkIntentFulfilled(sessionID, intent string, toolsUsed []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	for i := len(st.intents) - 1; i >= 0; i-- {
		if st.intents[i].Intent == intent && !st.intents[i].Fulfilled {
			st.intents[i].Fulfilled = true
			st.intents[i].ToolsUsed = append([]string(nil), toolsUsed...)
			return true
		}
	}
	return false
}

// SetPhase records the caller-driven conversation phase. Any phase may
// follow any other; the tracker enforces no adjacency.
func (t *Tracker) SetPhase(sessionID string, phase core.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateLocked(sessionID).phase = phase
}

// Phase returns the current phase, defaulting to GREETING for unknown
// sessions.
func (t *Tracker) Phase(sessionID string) core.Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.sessions[sessionID]; ok {
		return st.phase
	}
	return core.PhaseGreeting
}

// AddStep appends a flow step, recomputes the running success rate and
// average response time, and trims the flow log tail-kept.
func (t *Tracker) AddStep(sessionID string, step core.Step) {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateLocked(sessionID)
	st.flow = append(st.flow, step)
	st.totalSteps++
	// Incremental running means over all steps ever recorded, not just the
	// retained window.
	n := float64(st.totalSteps)
	success := 0.0
	if step.Success {
		success = 1.0
	}
	st.successRate += (success - st.successRate) / n
	st.avgResponseMs += (step.DurationMs - st.avgResponseMs) / n
	if excess := len(st.flow) - t.cfg.MaxHistoryLength; excess > 0 {
		st.flow = append([]core.Step(nil), st.flow[excess:]...)
	}
	if step.Phase != "" {
		st.phase = step.Phase
	}
}

// RecentIntents returns clones of the last n intent records, oldest first.
func (t *Tracker) RecentIntents(sessionID string, n int) []core.IntentRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	start := len(st.intents) - n
	if start < 0 {
		start = 0
	}
	out := make([]core.IntentRecord, len(st.intents)-start)
	copy(out, st.intents[start:])
	return out
}

// RecentFlow returns the last n flow steps, oldest first.
func (t *Tracker) RecentFlow(sessionID string, n int) []core.Step {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	start := len(st.flow) - n
	if start < 0 {
		start = 0
	}
	out := make([]core.Step, len(st.flow)-start)
	copy(out, st.flow[start:])
	return out
}

// CurrentTopic returns the most recently mentioned topic, or nil.
func (t *Tracker) CurrentTopic(sessionID string) *core.Topic {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	var current *core.Topic
	for _, topic := range st.topics {
		if current == nil || topic.LastMentioned.After(current.LastMentioned) {
			current = topic
		}
	}
	if current == nil {
		return nil
	}
	return current.Clone()
}

// Topics returns clones of every tracked topic for the session.
func (t *Tracker) Topics(sessionID string) []*core.Topic {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]*core.Topic, 0, len(st.topics))
	for _, topic := range st.topics {
		out = append(out, topic.Clone())
	}
	return out
}

// Stats returns the running success rate, average response time in
// milliseconds and the total number of steps recorded for the session.
func (t *Tracker) Stats(sessionID string) (successRate, avgResponseMs float64, steps int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.sessions[sessionID]
	if !ok {
		return 0, 0, 0
	}
	return st.successRate, st.avgResponseMs, st.totalSteps
}

// IntentCount returns the number of retained intent records.
func (t *Tracker) IntentCount(sessionID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.sessions[sessionID]; ok {
		return len(st.intents)
	}
	return 0
}

// Clear drops all tracked state for the session.
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// SessionSnapshot is the serializable form of one session's conversation
// state.
type SessionSnapshot struct {
	Topics        []*core.Topic       `json:"topics,omitempty"`
	Intents       []core.IntentRecord `json:"intent_history,omitempty"`
	Flow          []core.Step         `json:"conversation_flow,omitempty"`
	Phase         core.Phase          `json:"phase"`
	TotalSteps    int                 `json:"total_steps"`
	SuccessRate   float64             `json:"success_rate"`
	AvgResponseMs float64             `json:"average_response_time_ms"`
}

// Export returns serializable snapshots of every session.
func (t *Tracker) Export() map[string]SessionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]SessionSnapshot, len(t.sessions))
	for id, st := range t.sessions {
		out[id] = snapshotState(st)
	}
	return out
}

// ExportSession returns the snapshot of a single session.
func (t *Tracker) ExportSession(sessionID string) (SessionSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.sessions[sessionID]
	if !ok {
		return SessionSnapshot{}, false
	}
	return snapshotState(st), true
}

func snapshotState(st *sessionState) SessionSnapshot {
	snap := SessionSnapshot{
		Phase:         st.phase,
		TotalSteps:    st.totalSteps,
		SuccessRate:   st.successRate,
		AvgResponseMs: st.avgResponseMs,
		Intents:       append([]core.IntentRecord(nil), st.intents...),
		Flow:          append([]core.Step(nil), st.flow...),
	}
	for _, topic := range st.topics {
		snap.Topics = append(snap.Topics, topic.Clone())
	}
	return snap
}

// Import replaces the tracker's state with the given snapshots. Missing
// fields default (phase to GREETING).
func (t *Tracker) Import(snapshots map[string]SessionSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = make(map[string]*sessionState, len(snapshots))
	for id, snap := range snapshots {
		phase, err := core.ParsePhase(string(snap.Phase))
		if err != nil {
			phase = core.PhaseGreeting
		}
		st := &sessionState{
			topics:        make(map[string]*core.Topic, len(snap.Topics)),
			intents:       append([]core.IntentRecord(nil), snap.Intents...),
			flow:          append([]core.Step(nil), snap.Flow...),
			phase:         phase,
			totalSteps:    snap.TotalSteps,
			successRate:   snap.SuccessRate,
			avgResponseMs: snap.AvgResponseMs,
		}
		for _, topic := range snap.Topics {
			st.topics[topic.Name] = topic.Clone()
		}
		t.sessions[id] = st
	}
}
