// Package history keeps an on-disk SQLite journal of entity status
// transitions.
//
// The journal is append-only from the tree's point of view: every
// status change is recorded with its raw value, formatted rendering,
// unit, and observation time. Retention is enforced by periodic
// pruning, driven by the history.retention_days config setting.
//
// The journal is never used to restore shadow state after a restart;
// the startup snapshot is the only source of initial state.
package history
