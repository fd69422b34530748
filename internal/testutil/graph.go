package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/store"
)

// Graph builds labeled commits and bookmark moves in one repository.
// Labels stand in for changeset ids in assertions and golden files.
type Graph struct {
	t      testing.TB
	repo   *store.Repo
	clock  *DeterministicClock
	ids    map[string]model.ChangesetID
	labels map[model.ChangesetID]string
}

// NewGraph returns a builder for repo. Commit dates come from clock.
func NewGraph(t testing.TB, repo *store.Repo, clock *DeterministicClock) *Graph {
	return &Graph{
		t:      t,
		repo:   repo,
		clock:  clock,
		ids:    make(map[string]model.ChangesetID),
		labels: make(map[model.ChangesetID]string),
	}
}

// Repo returns the repository being built.
func (g *Graph) Repo() *store.Repo {
	return g.repo
}

// File is a regular file change with the given content.
func File(content string) model.FileChange {
	return model.FileChange{Kind: model.FileRegular, Content: content}
}

// Deleted is a file deletion.
func Deleted() model.FileChange {
	return model.FileChange{Kind: model.FileDeleted}
}

// Submodule is a submodule pointer change.
func Submodule(commit string) model.FileChange {
	return model.FileChange{Kind: model.FileSubmodule, Content: commit}
}

// Commit stores a commit with the given parent labels and file changes.
// The label's text is used as the commit message.
func (g *Graph) Commit(label string, parents []string, changes map[string]model.FileChange) model.ChangesetID {
	g.t.Helper()
	require.NotContains(g.t, g.ids, label, "label %q used twice", label)

	cs := &model.Changeset{
		Author:      "test <test@example.com>",
		Date:        g.clock.Now(),
		Message:     label,
		FileChanges: changes,
	}
	for _, p := range parents {
		cs.Parents = append(cs.Parents, g.ID(p))
	}
	if cs.FileChanges == nil {
		cs.FileChanges = map[string]model.FileChange{}
	}

	id, err := g.repo.Store(context.Background(), cs)
	require.NoError(g.t, err)
	g.Name(label, id)
	return id
}

// Name attaches a label to an existing changeset.
func (g *Graph) Name(label string, id model.ChangesetID) {
	g.ids[label] = id
	g.labels[id] = label
}

// ID returns the changeset id of a label.
func (g *Graph) ID(label string) model.ChangesetID {
	g.t.Helper()
	id, ok := g.ids[label]
	require.True(g.t, ok, "unknown commit label %q", label)
	return id
}

// Label returns the label of id, or its short hash if it has none.
func (g *Graph) Label(id model.ChangesetID) string {
	if l, ok := g.labels[id]; ok {
		return l
	}
	return id.Short()
}

// SetBookmark creates or moves a bookmark to a labeled commit and returns
// the resulting log entry.
func (g *Graph) SetBookmark(name model.BookmarkKey, label string) model.BookmarkUpdateLogEntry {
	g.t.Helper()
	ctx := context.Background()
	to := g.ID(label)

	current, err := g.repo.GetBookmark(ctx, name)
	require.NoError(g.t, err)
	txn := g.repo.NewTransaction()
	if current == nil {
		require.NoError(g.t, txn.Create(name, to, model.ReasonPush))
	} else {
		require.NoError(g.t, txn.Update(name, to, *current, model.ReasonPush))
	}
	ok, err := txn.Commit(ctx)
	require.NoError(g.t, err)
	require.True(g.t, ok, "bookmark %s moved concurrently", name)
	return g.lastEntry()
}

// DeleteBookmark deletes a bookmark and returns the resulting log entry.
func (g *Graph) DeleteBookmark(name model.BookmarkKey) model.BookmarkUpdateLogEntry {
	g.t.Helper()
	ctx := context.Background()
	current, err := g.repo.GetBookmark(ctx, name)
	require.NoError(g.t, err)
	require.NotNil(g.t, current, "bookmark %s does not exist", name)

	txn := g.repo.NewTransaction()
	require.NoError(g.t, txn.Delete(name, *current, model.ReasonPush))
	ok, err := txn.Commit(ctx)
	require.NoError(g.t, err)
	require.True(g.t, ok, "bookmark %s moved concurrently", name)
	return g.lastEntry()
}

func (g *Graph) lastEntry() model.BookmarkUpdateLogEntry {
	g.t.Helper()
	ctx := context.Background()
	last, err := g.repo.LastEntryID(ctx)
	require.NoError(g.t, err)
	entry, err := g.repo.EntryByID(ctx, last)
	require.NoError(g.t, err)
	require.NotNil(g.t, entry)
	return *entry
}
