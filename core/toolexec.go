package core

import (
	"fmt"
	"time"
)

// ExecutionState is the lifecycle state of a tracked tool invocation.
type ExecutionState string

const (
	StateInactive     ExecutionState = "inactive"
	StateInitializing ExecutionState = "initializing"
	StateActive       ExecutionState = "active"
	StateWaiting      ExecutionState = "waiting"
	StateExecuting    ExecutionState = "executing"
	StateCompleted    ExecutionState = "completed"
	StateFailed       ExecutionState = "failed"
	StateSuspended    ExecutionState = "suspended"
	StateCleanup      ExecutionState = "cleanup"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// transitions is the allowed-successor table. SUSPENDED and CLEANUP are
// reachable via explicit suspension/cancellation; CLEANUP always resolves to
// FAILED.
var transitions = map[ExecutionState][]ExecutionState{
	StateInactive:     {StateInitializing},
	StateInitializing: {StateActive, StateWaiting, StateCleanup},
	StateActive:       {StateExecuting, StateCompleted, StateFailed, StateSuspended, StateCleanup},
	StateWaiting:      {StateActive, StateFailed, StateSuspended, StateCleanup},
	StateExecuting:    {StateCompleted, StateFailed, StateSuspended, StateCleanup},
	StateSuspended:    {StateActive, StateWaiting, StateCleanup},
	StateCleanup:      {StateFailed},
	StateCompleted:    {},
	StateFailed:       {},
}

// CanTransition reports whether moving from s to next is legal.
func (s ExecutionState) CanTransition(next ExecutionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseExecutionState validates a serialized state, defaulting empty input
// to INACTIVE so loaders tolerate missing fields.
func ParseExecutionState(s string) (ExecutionState, error) {
	switch st := ExecutionState(s); st {
	case StateInactive, StateInitializing, StateActive, StateWaiting, StateExecuting,
		StateCompleted, StateFailed, StateSuspended, StateCleanup:
		return st, nil
	case "":
		return StateInactive, nil
	default:
		return "", fmt.Errorf("unknown execution state %q", s)
	}
}

// ToolExecution is the bookkeeping record for one tracked tool invocation.
// The coordinator owns all mutation; callers receive clones.
type ToolExecution struct {
	ID         string         `json:"execution_id"`
	ToolName   string         `json:"tool_name"`
	SessionID  string         `json:"session_id"`
	State      ExecutionState `json:"state"`
	Priority   int            `json:"priority"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Created    time.Time      `json:"created_at"`
	Started    *time.Time     `json:"started_at,omitempty"`
	Completed  *time.Time     `json:"completed_at,omitempty"`
	ParentID   string         `json:"parent_id,omitempty"`
	ChildIDs   []string       `json:"child_ids,omitempty"`
}

// Clone returns a copy with independent slices/maps.
func (e *ToolExecution) Clone() *ToolExecution {
	clone := *e
	clone.DependsOn = append([]string(nil), e.DependsOn...)
	clone.ChildIDs = append([]string(nil), e.ChildIDs...)
	if e.Parameters != nil {
		clone.Parameters = make(map[string]any, len(e.Parameters))
		for k, v := range e.Parameters {
			clone.Parameters[k] = v
		}
	}
	if e.Started != nil {
		t := *e.Started
		clone.Started = &t
	}
	if e.Completed != nil {
		t := *e.Completed
		clone.Completed = &t
	}
	return &clone
}
