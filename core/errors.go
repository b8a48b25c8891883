package core

import "errors"

var (
	// ErrNotFound is returned when a session, entry, execution or permission
	// for the given identifier does not exist in the owning store.
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned when a memory entry or permission exists but its
	// TTL has lapsed. The record is removed as a side effect of the check, so
	// callers observing ErrExpired should treat the target as absent while
	// still being able to distinguish expiry from plain absence.
	ErrExpired = errors.New("expired")

	// ErrPermissionDenied is returned by the access-control facade when a
	// tool lacks a grant for the requested scope/operation pair.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition is returned when a tool execution is asked to move
	// to a state the state machine does not allow from its current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDependencyCycle is returned when admitting an execution whose
	// dependsOn edges would make the execution depend on itself.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrDependencyFailed marks executions that were cascade-failed because a
	// dependency reached FAILED (including cancellation).
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrUnknownScope is returned by write paths when the target scope is not
	// one of the stored context scopes. Read paths degrade to an empty view
	// instead of surfacing this error.
	ErrUnknownScope = errors.New("unknown scope")
)
