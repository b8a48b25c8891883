// Package contextstore owns one Context per session and composes the three
// stateful leaves (conversation tracker, tool-execution coordinator, scoped
// memory store) plus the user-preference leaf into unified scoped views.
//
// Reads pull fresh leaf state into the context (pull-based sync); writes
// merge into the target scope and route recognized keys to the matching
// leaf. Lock acquisition order is fixed: the store's own mutex first, then a
// leaf's. Leaves never call back into the store, so the order cannot invert.
package contextstore
