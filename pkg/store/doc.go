// Package store persists policy versions and the per-policy active
// version pointer.
//
// Published versions are immutable: a policy change is always a new
// version, and activation moves a pointer rather than editing a
// document. Activation is compare-and-swap on that pointer so two
// concurrent operators cannot silently overwrite each other's change.
//
// Two backends are provided: an in-memory store with copy-on-write
// reads for tests and single-process deployments, and a SQLite store
// for durability across restarts.
package store
