// Package toolexec tracks tool invocations through a dependency-gated state
// machine. It does not execute tools: callers register executions, report
// state changes and completion results, and the coordinator gates queued
// work on its dependencies, cascading unblocks (or failures) when a
// dependency reaches a terminal state.
//
// The coordinator keeps forward edges (dependsOn) and reverse edges (blocks)
// so completing one execution promotes its now-runnable dependents in O(1)
// per edge. There is no cap on simultaneously executing ids; this is a
// tracker, not a concurrency-limited scheduler.
package toolexec
