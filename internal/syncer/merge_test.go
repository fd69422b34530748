package syncer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
)

func TestValidateNewRepoMerge_SmallerGenerationIsTheNewBranch(t *testing.T) {
	f := newFixture(t)
	f.small.Commit("a1", nil, files("a", "1"))
	f.small.Commit("a2", []string{"a1"}, files("a", "2"))
	f.small.Commit("a3", []string{"a2"}, files("a", "3"))
	f.small.Commit("n1", nil, files("n", "1"))
	f.small.Commit("n2", []string{"n1"}, files("n", "2"))
	repo := f.store.Repo(smallRepo)

	for _, order := range [][2]string{{"a3", "n2"}, {"n2", "a3"}} {
		branch, err := syncer.ValidateNewRepoMerge(f.ctx, repo, "merge", f.small.ID(order[0]), f.small.ID(order[1]))
		require.NoError(t, err, "parents %v", order)
		assert.Equal(t, []model.ChangesetID{f.small.ID("n1"), f.small.ID("n2")}, branch, "parents %v", order)
	}
}

func TestValidateNewRepoMerge_TieTakesFirstParent(t *testing.T) {
	f := newFixture(t)
	f.small.Commit("a", nil, files("a", "1"))
	f.small.Commit("b", nil, files("b", "1"))
	repo := f.store.Repo(smallRepo)

	branch, err := syncer.ValidateNewRepoMerge(f.ctx, repo, "merge", f.small.ID("a"), f.small.ID("b"))
	require.NoError(t, err)
	assert.Equal(t, []model.ChangesetID{f.small.ID("a")}, branch)

	branch, err = syncer.ValidateNewRepoMerge(f.ctx, repo, "merge", f.small.ID("b"), f.small.ID("a"))
	require.NoError(t, err)
	assert.Equal(t, []model.ChangesetID{f.small.ID("b")}, branch)
}

func TestValidateNewRepoMerge_SharedHistoryIsRejected(t *testing.T) {
	f := newFixture(t)
	f.small.Commit("a1", nil, files("a", "1"))
	f.small.Commit("a2", []string{"a1"}, files("a", "2"))
	f.small.Commit("a3", []string{"a2"}, files("a", "3"))
	f.small.Commit("b1", []string{"a1"}, files("b", "1"))

	_, err := syncer.ValidateNewRepoMerge(f.ctx, f.store.Repo(smallRepo), "merge", f.small.ID("a3"), f.small.ID("b1"))
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrCodeMergeAmbiguousAncestor), "got %v", err)
}

func TestValidateNewRepoMerge_MergeOfAMerge(t *testing.T) {
	f := newFixture(t)
	f.small.Commit("a1", nil, files("a", "1"))
	f.small.Commit("a2", []string{"a1"}, files("a", "2"))
	f.small.Commit("a3", []string{"a2"}, files("a", "3"))
	f.small.Commit("a4", []string{"a3"}, files("a", "4"))
	f.small.Commit("x", nil, files("x", "1"))
	f.small.Commit("y", nil, files("y", "1"))
	f.small.Commit("xy", []string{"x", "y"}, nil)

	branch, err := syncer.ValidateNewRepoMerge(f.ctx, f.store.Repo(smallRepo), "merge", f.small.ID("a4"), f.small.ID("xy"))
	require.NoError(t, err)
	require.Len(t, branch, 3)
	assert.Equal(t, f.small.ID("xy"), branch[2])
	assert.ElementsMatch(t, []model.ChangesetID{f.small.ID("x"), f.small.ID("y")}, branch[:2])
}

func TestCheckIfIndependentBranch_IsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.small.Commit("base", nil, files("a", "1"))
	for _, l := range []string{"r1", "r2", "r3", "r4"} {
		f.small.Commit(l, nil, files(l, "1"))
	}
	f.small.Commit("m1", []string{"r1", "r2"}, nil)
	f.small.Commit("m2", []string{"r3", "r4"}, nil)
	repo := f.store.Repo(smallRepo)
	tips := []model.ChangesetID{f.small.ID("m1"), f.small.ID("m2")}
	others := []model.ChangesetID{f.small.ID("base")}

	first, ok, err := syncer.CheckIfIndependentBranch(f.ctx, repo, tips, others)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, first, 6)
	for i := 0; i < 3; i++ {
		again, ok, err := syncer.CheckIfIndependentBranch(f.ctx, repo, tips, others)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}

	// Roots come first, ordered by id, then the merges.
	roots := first[:4]
	for i := 1; i < len(roots); i++ {
		assert.Less(t, string(roots[i-1]), string(roots[i]))
	}
	assert.ElementsMatch(t, tips, first[4:])
}

func TestCheckIfIndependentBranch_TipReachableFromOthers(t *testing.T) {
	f := newFixture(t)
	f.small.Commit("a", nil, files("a", "1"))
	f.small.Commit("b", []string{"a"}, files("a", "2"))

	branch, ok, err := syncer.CheckIfIndependentBranch(f.ctx, f.store.Repo(smallRepo),
		[]model.ChangesetID{f.small.ID("a")}, []model.ChangesetID{f.small.ID("b")})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, branch)
}
