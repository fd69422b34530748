package syncer

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/xreposync/internal/model"
)

// loadFanOut bounds concurrent changeset loads during admissibility checks.
const loadFanOut = 100

// graphRepo is what the merge checks need from a repository.
type graphRepo interface {
	CommitGraph
	Blobstore
}

// ValidateNewRepoMerge checks that a two-parent merge brings in history
// that is independent of the rest of the repo. The parent with the smaller
// generation number is taken to be the new branch; on a tie p1 is. It
// returns the commits of the new branch ordered by (generation, id).
func ValidateNewRepoMerge(ctx context.Context, repo graphRepo, merge, p1, p2 model.ChangesetID) ([]model.ChangesetID, error) {
	p1gen, err := repo.GenerationNumber(ctx, p1)
	if err != nil {
		return nil, fmt.Errorf("generation of %s: %w", p1.Short(), err)
	}
	p2gen, err := repo.GenerationNumber(ctx, p2)
	if err != nil {
		return nil, fmt.Errorf("generation of %s: %w", p2.Short(), err)
	}

	larger, smaller := p2, p1
	if p1gen > p2gen {
		larger, smaller = p1, p2
	}

	branch, ok, err := CheckIfIndependentBranch(ctx, repo, []model.ChangesetID{smaller}, []model.ChangesetID{larger})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.MergeAmbiguousAncestor(merge)
	}
	return branch, nil
}

// CheckIfIndependentBranch computes the ancestors of tips that are not
// ancestors of others. The branch is independent when every tip is in that
// set and every parent of a commit in the set is also in the set. The
// returned commits are ordered by (generation, id).
func CheckIfIndependentBranch(ctx context.Context, repo graphRepo, tips, others []model.ChangesetID) ([]model.ChangesetID, bool, error) {
	diff, err := repo.AncestorsDifference(ctx, tips, others)
	if err != nil {
		return nil, false, fmt.Errorf("ancestors difference: %w", err)
	}

	inSet := make(map[model.ChangesetID]bool, len(diff))
	for _, id := range diff {
		inSet[id] = true
	}
	for _, tip := range tips {
		if !inSet[tip] {
			return nil, false, nil
		}
	}

	changesets := make([]*model.Changeset, len(diff))
	generations := make([]uint64, len(diff))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadFanOut)
	for i, id := range diff {
		g.Go(func() error {
			cs, err := repo.Load(gctx, id)
			if err != nil {
				return fmt.Errorf("load %s: %w", id.Short(), err)
			}
			gen, err := repo.GenerationNumber(gctx, id)
			if err != nil {
				return fmt.Errorf("generation of %s: %w", id.Short(), err)
			}
			changesets[i] = cs
			generations[i] = gen
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	for _, cs := range changesets {
		for _, p := range cs.Parents {
			if !inSet[p] {
				return nil, false, nil
			}
		}
	}

	order := make([]int, len(diff))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if generations[ia] != generations[ib] {
			return generations[ia] < generations[ib]
		}
		return diff[ia] < diff[ib]
	})
	out := make([]model.ChangesetID, len(diff))
	for i, idx := range order {
		out[i] = diff[idx]
	}
	return out, true, nil
}
