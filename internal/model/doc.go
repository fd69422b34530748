// Package model defines the data model shared by every part of xreposync.
//
// The types mirror what a cross-repo sync job needs to reason about:
//
//   - RepositoryID, ChangesetID and BookmarkKey identify repositories,
//     commits and named refs.
//   - Changeset is the content of a commit. Its ChangesetID is a
//     content hash (see hash.go), so rewriting a commit under an identity
//     mover yields the same id in the target repository.
//   - BookmarkUpdateLogEntry is one ordered bookmark movement. The log is
//     the only serialization point for the tailer.
//   - CommitSyncOutcome is the terminal classification recorded in the
//     synced commit mapping. It is a closed sum type with three variants.
//   - CommonCommitSyncConfig and CommitSyncConfig are the static and the
//     versioned halves of the sync configuration.
//
// All errors produced by the engine are *SyncError values carrying a Code
// and a Category (see errors.go).
package model
