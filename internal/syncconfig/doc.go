// Package syncconfig loads versioned commit sync configurations and
// resolves them into movers and bookmark renamers for a repo pair.
//
// A configuration file describes one repo family: a large repo, its small
// repos, the bookmarks shared by all of them, and any number of immutable
// path remapping versions. Files are YAML, or CUE when the name ends in
// ".cue". Both are decoded into the same structures and validated before a
// Resolver is built from them.
//
// Resolution is pure. Results are cached per (version, source, target).
package syncconfig
