package model

import (
	"fmt"
	"sort"
	"time"
)

// FileChangeKind describes what a changeset does to one path.
type FileChangeKind string

const (
	FileRegular    FileChangeKind = "regular"
	FileExecutable FileChangeKind = "executable"
	FileSymlink    FileChangeKind = "symlink"
	FileSubmodule  FileChangeKind = "submodule"
	FileDeleted    FileChangeKind = "deleted"
)

// Valid reports whether k is a known kind.
func (k FileChangeKind) Valid() bool {
	switch k {
	case FileRegular, FileExecutable, FileSymlink, FileSubmodule, FileDeleted:
		return true
	}
	return false
}

// FileChange is the new state of one path. Content is empty for deletions.
type FileChange struct {
	Kind    FileChangeKind `json:"kind"`
	Content string         `json:"content,omitempty"`
}

// IsDeletion reports whether the change removes the path.
func (f FileChange) IsDeletion() bool {
	return f.Kind == FileDeleted
}

// Changeset is the content of a commit. The order of Parents is
// significant: Parents[0] is p1.
type Changeset struct {
	Parents     []ChangesetID
	Author      string
	Date        time.Time
	Message     string
	FileChanges map[string]FileChange
	Extra       map[string]string
}

// IsMerge reports whether the changeset has more than one parent.
func (c *Changeset) IsMerge() bool {
	return len(c.Parents) > 1
}

// IsRoot reports whether the changeset has no parents.
func (c *Changeset) IsRoot() bool {
	return len(c.Parents) == 0
}

// SortedPaths returns the changed paths in byte order.
func (c *Changeset) SortedPaths() []string {
	paths := make([]string, 0, len(c.FileChanges))
	for p := range c.FileChanges {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a deep copy.
func (c *Changeset) Clone() *Changeset {
	out := &Changeset{
		Parents:     append([]ChangesetID(nil), c.Parents...),
		Author:      c.Author,
		Date:        c.Date,
		Message:     c.Message,
		FileChanges: make(map[string]FileChange, len(c.FileChanges)),
	}
	for p, fc := range c.FileChanges {
		out.FileChanges[p] = fc
	}
	if c.Extra != nil {
		out.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Validate checks structural invariants that the hash relies on.
func (c *Changeset) Validate() error {
	seen := make(map[ChangesetID]bool, len(c.Parents))
	for _, p := range c.Parents {
		if p == "" {
			return fmt.Errorf("changeset has empty parent id")
		}
		if seen[p] {
			return fmt.Errorf("changeset lists parent %s twice", p.Short())
		}
		seen[p] = true
	}
	for path, fc := range c.FileChanges {
		if path == "" {
			return fmt.Errorf("changeset has empty path")
		}
		if !fc.Kind.Valid() {
			return fmt.Errorf("path %q: unknown file change kind %q", path, fc.Kind)
		}
	}
	return nil
}

// StoredChangeset is a changeset together with its id and its position in
// the commit graph.
type StoredChangeset struct {
	ID         ChangesetID
	Generation uint64
	Changeset  *Changeset
}
