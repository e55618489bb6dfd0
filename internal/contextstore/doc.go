// ABOUTME: Package contextstore provides the shared path-addressed state tree
// ABOUTME: used by every agent, with file-backed and SQLite-backed flavors.

// Package contextstore implements a mergeable key-value state tree addressed
// by dot-separated paths (e.g. "system.active_agents"). All agents share one
// store instance; it is injected at construction and never ambient.
//
// Two implementations exist behind the Store interface: FileStore persists
// the whole tree as a single JSON document replaced atomically on every
// mutation, and SQLiteStore keeps one row per path for deployments where the
// tree must survive many processes hammering it. Neither provides
// transactions spanning multiple paths; a Get followed by a Set is not
// atomic. Callers needing atomic counters should use Increment.
package contextstore
