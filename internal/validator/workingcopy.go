package validator

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
)

// WorkingCopy maps every path present at a commit to its content. Deleted
// paths are absent.
type WorkingCopy map[string]model.FileChange

type graphRepo interface {
	syncer.CommitGraph
	syncer.Blobstore
}

// LoadWorkingCopy replays the file changes of every ancestor of cs,
// ancestors first. A merge starts from the union of its parents' working
// copies, the first parent winning where they disagree.
func LoadWorkingCopy(ctx context.Context, repo graphRepo, cs model.ChangesetID) (WorkingCopy, error) {
	ancestors, err := repo.AncestorsDifference(ctx, []model.ChangesetID{cs}, nil)
	if err != nil {
		return nil, fmt.Errorf("working copy of %s: %w", cs.Short(), err)
	}
	slices.Reverse(ancestors)

	// Copies are only kept while some unvisited child still needs them.
	children := make(map[model.ChangesetID]int, len(ancestors))
	loaded := make(map[model.ChangesetID]*model.Changeset, len(ancestors))
	for _, id := range ancestors {
		c, err := repo.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("working copy of %s: %w", cs.Short(), err)
		}
		loaded[id] = c
		for _, p := range c.Parents {
			children[p]++
		}
	}

	copies := make(map[model.ChangesetID]WorkingCopy, len(ancestors))
	for _, id := range ancestors {
		c := loaded[id]
		wc := make(WorkingCopy)
		for i := len(c.Parents) - 1; i >= 0; i-- {
			p := c.Parents[i]
			for path, fc := range copies[p] {
				wc[path] = fc
			}
			if children[p]--; children[p] == 0 {
				delete(copies, p)
			}
		}
		for path, fc := range c.FileChanges {
			if fc.Kind == model.FileDeleted {
				delete(wc, path)
				continue
			}
			wc[path] = fc
		}
		copies[id] = wc
	}
	return copies[cs], nil
}
