// Package syncer is the cross-repo synchronization decision engine.
//
// Given a bookmark movement in a source repository, the syncer finds the
// commits that have not been propagated yet, screens merges for
// admissibility, decides per commit between direct rewrite and
// rebase-on-target (pushrebase), records every outcome in the synced commit
// mapping and applies the result to the target repository's bookmarks.
//
// All state lives behind the interfaces in interfaces.go. The syncer
// re-reads mapping state for every commit and keeps nothing between calls,
// so concurrent job instances are kept apart only by bookmark
// compare-and-swap and the mapping's at-most-one-outcome rule.
//
// # Ordering
//
// Mapping writes and bookmark moves are applied ancestor first. A commit is
// synced only once all of its parents have an outcome, so a crash at any
// point leaves a mapping without gaps and a retry finds the remaining work.
package syncer
