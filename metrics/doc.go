// Package metrics defines the Collector interface the stores report into,
// with a Prometheus-backed implementation and a no-op default. Components
// accept a Collector at construction and never touch Prometheus directly.
package metrics
