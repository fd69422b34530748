// Package harness runs scripted sync scenarios against a real store.
//
// A scenario writes commits and bookmark moves into the repos of a family,
// runs syncs and then asserts on the resulting state. Syncs go through the
// production syncer and tailer; the harness only observes. Each run uses an
// in-memory SQLite database and a deterministic clock, so the trace of a
// scenario is identical across runs and can be compared to a golden file.
//
// # Scenario Format
//
//	name: merge_new_repo
//	description: "Merging an unrelated history is synced with one mover"
//	config: family.yaml          # optional, relative to the scenario file
//	repos: {large: 0, small: 1}  # optional
//	steps:
//	  - commit: {repo: small, label: s1, files: {README: hello}}
//	  - bookmark: {repo: small, name: master, to: s1}
//	  - sync: {from: small, to: large}
//	  - once: {from: small, to: large, head: s2}
//	    expect_error: MERGE_AMBIGUOUS_ANCESTOR
//	assertions:
//	  - {type: bookmark, repo: large, bookmark: master, at: T(s1)}
//	  - {type: outcome, from: small, to: large, commit: s1, outcome: RewrittenAs, target: T(s1)}
//
// Commits are named by labels. A commit written by a sync gets the label
// T(<source label>) the first time its mapping row is observed.
//
// # Assertion Types
//
//   - bookmark: a bookmark points at a label, or is absent when at is empty
//   - parents: the parent labels of a commit, in order
//   - paths: the paths a commit changes
//   - outcome: the mapping row of a commit; outcome "none" means no row
//   - mapping_count: the number of mapping rows between two repos
//   - trace_count: the number of trace events of a type
package harness
