// Package shadow holds the in-memory mirror of the controller's
// entities: nodes, groups, programs, folders and variables.
//
// The Tree is seeded once from a full snapshot, then kept fresh by the
// event dispatch loop applying property updates and control messages
// in receipt order. External code reads snapshots via Lookup or
// subscribes to per-entity and tree-wide feeds; it never holds a
// writable reference to entity state.
//
// Mutation methods expect a single caller goroutine (the dispatch
// loop). Reads and subscriptions are safe from any goroutine.
package shadow
