package validator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
	"github.com/roach88/xreposync/internal/tailer"
	"github.com/roach88/xreposync/internal/testutil"
	"github.com/roach88/xreposync/internal/validator"
)

func newValidator(f *testutil.Family) *validator.Validator {
	return validator.New(
		f.Store.Repo(testutil.LargeRepo),
		[]syncer.Repository{f.Store.Repo(testutil.SmallRepo)},
		f.Store.Mapping(),
		f.Config,
	)
}

// corrupt stores a large commit on top of T(s2) that claims to be the copy
// of a new small commit s3 but carries the wrong content, and returns its
// id.
func corrupt(t *testing.T, f *testutil.Family) model.ChangesetID {
	t.Helper()
	f.Small.Commit("s3", []string{"s2"}, map[string]model.FileChange{"README": testutil.File("v2")})
	bad := f.Large.Commit("bad", []string{"T(s2)"}, map[string]model.FileChange{
		"smallrepo/README": testutil.File("wrong"),
		"smallrepo/extra":  testutil.File("x"),
		"otherrepo/file":   testutil.File("not ours"),
	})
	require.NoError(t, f.Store.Mapping().PutOutcome(context.Background(), model.MappingEntry{
		MappingKey: model.MappingKey{SourceRepo: testutil.SmallRepo, SourceChangeset: f.Small.ID("s3"), TargetRepo: testutil.LargeRepo},
		Outcome:    model.RewrittenAs{Target: bad, ConfigVersion: "v1"},
	}))
	return bad
}

func TestLoadWorkingCopy(t *testing.T) {
	f := testutil.NewFamily(t, testutil.FamilyConfig(t))
	g := f.Small
	g.Commit("a", nil, map[string]model.FileChange{"x": testutil.File("1"), "y": testutil.File("1")})
	g.Commit("b", []string{"a"}, map[string]model.FileChange{"y": testutil.Deleted(), "z": testutil.File("1")})
	g.Commit("c", []string{"a"}, map[string]model.FileChange{"x": testutil.File("2")})
	g.Commit("m", []string{"b", "c"}, nil)

	ctx := context.Background()
	wc, err := validator.LoadWorkingCopy(ctx, g.Repo(), g.ID("b"))
	require.NoError(t, err)
	assert.Equal(t, validator.WorkingCopy{"x": testutil.File("1"), "z": testutil.File("1")}, wc)

	wc, err = validator.LoadWorkingCopy(ctx, g.Repo(), g.ID("m"))
	require.NoError(t, err)
	assert.Equal(t, validator.WorkingCopy{
		"x": testutil.File("1"),
		"y": testutil.File("1"),
		"z": testutil.File("1"),
	}, wc)
}

func TestValidateCommit_SyncedCommitMatches(t *testing.T) {
	f := testutil.NewFamily(t, testutil.FamilyConfig(t))
	f.SeedMaster()

	for _, label := range []string{"T(s1)", "T(s2)"} {
		mismatches, err := newValidator(f).ValidateCommit(context.Background(), f.Large.ID(label))
		require.NoError(t, err)
		assert.Empty(t, mismatches, label)
	}
}

func TestValidateCommit_LargeOnlyCommitHasNothingToCheck(t *testing.T) {
	f := testutil.NewFamily(t, testutil.FamilyConfig(t))
	f.SeedMaster()
	f.Large.Commit("native", []string{"T(s2)"}, map[string]model.FileChange{"smallrepo/README": testutil.File("edited")})

	mismatches, err := newValidator(f).ValidateCommit(context.Background(), f.Large.ID("native"))
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestValidateCommit_ReportsDifferences(t *testing.T) {
	f := testutil.NewFamily(t, testutil.FamilyConfig(t))
	f.SeedMaster()
	bad := corrupt(t, f)

	mismatches, err := newValidator(f).ValidateCommit(context.Background(), bad)
	require.NoError(t, err)
	require.Len(t, mismatches, 2)
	assert.Equal(t, validator.MismatchContent, mismatches[0].Kind)
	assert.Equal(t, "smallrepo/README", mismatches[0].Path)
	assert.Equal(t, validator.MismatchExtraPath, mismatches[1].Kind)
	assert.Equal(t, "smallrepo/extra", mismatches[1].Path)
}

func TestProcessEntry(t *testing.T) {
	f := testutil.NewFamily(t, testutil.FamilyConfig(t))
	f.SeedMaster()
	bad := corrupt(t, f)
	entry := f.Large.SetBookmark("small/feature", "bad")

	_, err := newValidator(f).ProcessEntry(context.Background(), entry)
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrCodeValidationMismatch), "got %v", err)
	var se *model.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, bad, se.Changeset)
	assert.Equal(t, model.BookmarkKey("small/feature"), se.Bookmark)

	deletion := f.Large.DeleteBookmark("small/feature")
	_, err = newValidator(f).ProcessEntry(context.Background(), deletion)
	assert.NoError(t, err)
}

func TestOnce(t *testing.T) {
	f := testutil.NewFamily(t, testutil.FamilyConfig(t))
	f.SeedMaster()
	corrupt(t, f)
	entry := f.Large.SetBookmark("small/feature", "bad")
	log := f.Store.Repo(testutil.LargeRepo)
	v := newValidator(f)

	err := v.Once(context.Background(), log, entry.ID)
	assert.True(t, model.IsCode(err, model.ErrCodeValidationMismatch), "got %v", err)

	err = v.Once(context.Background(), log, entry.ID+100)
	assert.ErrorContains(t, err, "no entry")
}

func TestTail_ValidatesSyncedHistory(t *testing.T) {
	f := testutil.NewFamily(t, testutil.FamilyConfig(t))
	f.SeedMaster()
	f.Small.Commit("s3", []string{"s2"}, map[string]model.FileChange{
		"shared/lib.go": testutil.File("package lib"),
		"private/key":   testutil.File("secret"),
	})
	entry := f.Small.SetBookmark("feature", "s3")
	_, err := f.Forward().SyncSingleBookmarkUpdateLogEntry(context.Background(), entry)
	require.NoError(t, err)

	large := f.Store.Repo(testutil.LargeRepo)
	last, err := large.LastEntryID(context.Background())
	require.NoError(t, err)

	tl := newValidator(f).NewTailer(large, f.Store, tailer.Config{CatchUpOnce: true})
	require.NoError(t, tl.Run(context.Background()))

	v, ok, err := f.Store.GetCounter(context.Background(), testutil.LargeRepo, validator.CounterName)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(last), v)
}

func TestValidateBookmarks(t *testing.T) {
	f := testutil.NewFamily(t, testutil.FamilyConfig(t))
	f.SeedMaster()
	ctx := context.Background()

	mismatches, err := newValidator(f).ValidateBookmarks(ctx, testutil.SmallRepo)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	// Shared bookmarks may be ahead in the large repo.
	f.Large.Commit("L3", []string{"T(s2)"}, map[string]model.FileChange{"otherrepo/a": testutil.File("a")})
	f.Large.SetBookmark("master", "L3")

	f.Small.SetBookmark("lagging", "s1")
	f.Large.SetBookmark("small/lagging", "T(s2)")
	f.Large.SetBookmark("small/ghost", "T(s1)")
	f.Small.Commit("orphan", nil, map[string]model.FileChange{"o": testutil.File("o")})
	f.Small.SetBookmark("orphaned", "orphan")
	f.Large.SetBookmark("otherrepo/main", "L3")

	mismatches, err = newValidator(f).ValidateBookmarks(ctx, testutil.SmallRepo)
	require.NoError(t, err)
	require.Len(t, mismatches, 3, "%v", mismatches)
	assert.Equal(t, validator.MismatchBookmarkExtra, mismatches[0].Kind)
	assert.Equal(t, model.BookmarkKey("small/ghost"), mismatches[0].Bookmark)
	assert.Equal(t, validator.MismatchBookmarkValue, mismatches[1].Kind)
	assert.Equal(t, model.BookmarkKey("small/lagging"), mismatches[1].Bookmark)
	assert.Equal(t, validator.MismatchBookmarkUnsynced, mismatches[2].Kind)
	assert.Equal(t, model.BookmarkKey("small/orphaned"), mismatches[2].Bookmark)

	_, err = newValidator(f).ValidateBookmarks(ctx, 42)
	assert.Error(t, err)
}

func TestMismatchError(t *testing.T) {
	var ms []validator.Mismatch
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		ms = append(ms, validator.Mismatch{Kind: validator.MismatchMissingPath, SmallRepo: 1, Path: p})
	}
	err := validator.MismatchError(ms)
	assert.Equal(t, model.ErrCodeValidationMismatch, err.Code)
	assert.Contains(t, err.Error(), "7 mismatches")
	assert.Contains(t, err.Error(), "missing_path e (small repo 1)")
	assert.NotContains(t, err.Error(), "missing_path f")
	assert.Contains(t, err.Error(), "and 2 more")
}
