package metrics

import "time"

// NoopCollector is a no-op implementation used when metrics are disabled.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector.
func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

// RecordOperation does nothing when metrics are disabled.
func (n *NoopCollector) RecordOperation(component, operation, status string, duration time.Duration) {
}

// RecordEviction does nothing when metrics are disabled.
func (n *NoopCollector) RecordEviction(scope string, count int) {}

// RecordExpiry does nothing when metrics are disabled.
func (n *NoopCollector) RecordExpiry(kind string) {}

// SetEntryCount does nothing when metrics are disabled.
func (n *NoopCollector) SetEntryCount(scope string, count int) {}

// SetExecutionCount does nothing when metrics are disabled.
func (n *NoopCollector) SetExecutionCount(state string, count int) {}
