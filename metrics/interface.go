package metrics

import "time"

// Collector is the interface for metrics collection. Implementations include
// the Prometheus-backed collector and the no-op collector used when metrics
// are disabled.
type Collector interface {
	// RecordOperation records the completion of one store operation with its
	// outcome ("ok" or an error kind) and duration.
	RecordOperation(component, operation, status string, duration time.Duration)
	// RecordEviction counts entries evicted from a memory scope.
	RecordEviction(scope string, count int)
	// RecordExpiry counts lazily expired entries/permissions.
	RecordExpiry(kind string)
	// SetEntryCount sets the current entry gauge for a memory scope.
	SetEntryCount(scope string, count int)
	// SetExecutionCount sets the gauge of executions currently in a state.
	SetExecutionCount(state string, count int)
}
