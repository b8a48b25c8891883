package core

import (
	"fmt"
	"time"
)

// Phase tags the current stage of a conversation. Transitions are
// caller-driven; any phase may follow any other.
type Phase string

const (
	PhaseGreeting      Phase = "greeting"
	PhaseClarification Phase = "clarification"
	PhaseTaskExecution Phase = "task_execution"
	PhaseFollowUp      Phase = "follow_up"
	PhaseClosing       Phase = "closing"
	PhaseErrorHandling Phase = "error_handling"
)

// Confidence grades how certain the caller is about a recorded intent.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// Topic is a detected conversation subject. Created on first keyword match
// and mutated in place afterwards: mention count increments, keywords union,
// confidence keeps the maximum observed score.
type Topic struct {
	Name          string    `json:"name"`
	Keywords      []string  `json:"keywords"`
	Confidence    float64   `json:"confidence"`
	MentionCount  int       `json:"mention_count"`
	StartedAt     time.Time `json:"started_at"`
	LastMentioned time.Time `json:"last_mentioned"`
}

// AddKeywords unions the given keywords into the topic, preserving order of
// first appearance.
func (t *Topic) AddKeywords(kws []string) {
	seen := make(map[string]bool, len(t.Keywords))
	for _, k := range t.Keywords {
		seen[k] = true
	}
	for _, k := range kws {
		if !seen[k] {
			t.Keywords = append(t.Keywords, k)
			seen[k] = true
		}
	}
}

// Clone returns a copy with an independent keyword slice.
func (t *Topic) Clone() *Topic {
	clone := *t
	clone.Keywords = append([]string(nil), t.Keywords...)
	return &clone
}

// IntentRecord captures a recognized user intent. Immutable after creation
// except for Fulfilled/ToolsUsed, which are set exactly once when the intent
// is marked fulfilled.
type IntentRecord struct {
	Intent     string     `json:"intent"`
	Confidence Confidence `json:"confidence"`
	Fulfilled  bool       `json:"fulfilled"`
	ToolsUsed  []string   `json:"tools_used,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Step is one entry of the rolling conversation flow log.
type Step struct {
	Phase          Phase     `json:"phase"`
	UserInput      string    `json:"user_input"`
	SystemResponse string    `json:"system_response"`
	Success        bool      `json:"success"`
	DurationMs     float64   `json:"duration_ms"`
	ToolsInvoked   []string  `json:"tools_invoked,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ParsePhase validates a serialized phase, defaulting empty input to
// GREETING so loaders tolerate missing fields.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseGreeting, PhaseClarification, PhaseTaskExecution, PhaseFollowUp, PhaseClosing, PhaseErrorHandling:
		return p, nil
	case "":
		return PhaseGreeting, nil
	default:
		return "", fmt.Errorf("unknown phase %q", s)
	}
}
