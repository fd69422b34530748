// Package store is the SQLite-backed reference implementation of every
// storage interface the syncer consumes.
//
// One database holds all repos of a family:
//   - Changesets: immutable commit content plus ordered parent edges and a
//     generation number
//   - Bookmarks: named mutable pointers, moved only through compare-and-swap
//     transactions
//   - Bookmark update log: one append-only row per movement, written in the
//     same transaction as the movement
//   - Synced commit mapping: at most one outcome per
//     (source repo, source changeset, target repo)
//   - Mutable counters: per repo checkpoints that never decrease
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Changeset IDs are computed by model.ComputeChangesetID; the store never
// invents identifiers of its own.
package store
