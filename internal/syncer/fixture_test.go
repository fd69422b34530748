package syncer_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/store"
	"github.com/roach88/xreposync/internal/syncconfig"
	"github.com/roach88/xreposync/internal/syncer"
	"github.com/roach88/xreposync/internal/testutil"
)

const (
	largeRepo model.RepositoryID = 0
	smallRepo model.RepositoryID = 1
)

// testConfig declares one small repo synced into "smallrepo/" of the large
// repo. v1 and v2 differ only in their submodule policy.
func testConfig(t *testing.T, current model.CommitSyncConfigVersion) *syncconfig.Resolver {
	t.Helper()
	common := &model.CommonCommitSyncConfig{
		LargeRepoID:               largeRepo,
		SmallRepos:                map[model.RepositoryID]model.SmallRepoCommonConfig{smallRepo: {BookmarkPrefix: "small/"}},
		CommonPushrebaseBookmarks: []model.BookmarkKey{"master"},
	}
	version := func(name model.CommitSyncConfigVersion, sub model.SubmoduleAction, m map[string]string) *model.CommitSyncConfig {
		return &model.CommitSyncConfig{
			Version:     name,
			LargeRepoID: largeRepo,
			SmallRepos: map[model.RepositoryID]model.SmallRepoCommitSyncConfig{
				smallRepo: {
					DefaultAction:   model.ActionPrependPrefix,
					DefaultPrefix:   "smallrepo",
					Map:             m,
					SubmoduleAction: sub,
				},
			},
		}
	}
	standard := map[string]string{"shared": "common/shared", "private": ""}
	r, err := syncconfig.NewResolver(common, []*model.CommitSyncConfig{
		version("v1", model.SubmoduleKeep, standard),
		version("v2", model.SubmoduleStrip, standard),
		version("deny", model.SubmoduleDeny, standard),
		version("collide", model.SubmoduleKeep, map[string]string{"shared": "smallrepo/x"}),
	}, current)
	require.NoError(t, err)
	return r
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Store
	clock  *testutil.DeterministicClock
	config *syncconfig.Resolver
	small  *testutil.Graph
	large  *testutil.Graph
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, testConfig(t, "v1"))
}

func newFixtureWithConfig(t *testing.T, config *syncconfig.Resolver) *fixture {
	t.Helper()
	clock := testutil.NewDeterministicClock()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  s,
		clock:  clock,
		config: config,
		small:  testutil.NewGraph(t, s.Repo(smallRepo), clock),
		large:  testutil.NewGraph(t, s.Repo(largeRepo), clock),
	}
}

// forward syncs small to large.
func (f *fixture) forward(opts ...syncer.Option) *syncer.Syncer {
	return syncer.New(f.store.Repo(smallRepo), f.store.Repo(largeRepo), f.store.Mapping(), f.config, opts...)
}

// backward syncs large to small.
func (f *fixture) backward(opts ...syncer.Option) *syncer.Syncer {
	return syncer.New(f.store.Repo(largeRepo), f.store.Repo(smallRepo), f.store.Mapping(), f.config, opts...)
}

// seedMaster builds s1 <- s2 <- s3 in the small repo, imports it with v1,
// and points master at the tip on both sides. The large copies are
// labeled T(s1) and so on.
func (f *fixture) seedMaster() {
	f.t.Helper()
	f.small.Commit("s1", nil, map[string]model.FileChange{"README": testutil.File("hello")})
	f.small.Commit("s2", []string{"s1"}, map[string]model.FileChange{"src/main.go": testutil.File("package main")})
	f.small.Commit("s3", []string{"s2"}, map[string]model.FileChange{"shared/lib.go": testutil.File("package lib")})

	_, err := f.forward().InitialImport(f.ctx, f.small.ID("s3"), "v1")
	require.NoError(f.t, err)
	for _, l := range []string{"s1", "s2", "s3"} {
		f.large.Name("T("+l+")", f.remapped(smallRepo, largeRepo, l))
	}
	f.small.SetBookmark("master", "s3")
	f.large.SetBookmark("master", "T(s3)")
}

func (f *fixture) outcome(source, target model.RepositoryID, cs model.ChangesetID) model.CommitSyncOutcome {
	f.t.Helper()
	o, err := f.store.Mapping().GetOutcome(f.ctx, model.MappingKey{SourceRepo: source, SourceChangeset: cs, TargetRepo: target})
	require.NoError(f.t, err)
	return o
}

func (f *fixture) remapped(source, target model.RepositoryID, label string) model.ChangesetID {
	f.t.Helper()
	g := f.small
	if source == largeRepo {
		g = f.large
	}
	o := f.outcome(source, target, g.ID(label))
	require.NotNil(f.t, o, "%s has no outcome", label)
	id, ok := model.RemappedID(o)
	require.True(f.t, ok, "%s was not remapped: %s", label, o)
	return id
}

func (f *fixture) bookmark(repo model.RepositoryID, name model.BookmarkKey) *model.ChangesetID {
	f.t.Helper()
	v, err := f.store.Repo(repo).GetBookmark(f.ctx, name)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) load(repo model.RepositoryID, id model.ChangesetID) *model.Changeset {
	f.t.Helper()
	cs, err := f.store.Repo(repo).Load(f.ctx, id)
	require.NoError(f.t, err)
	return cs
}

func (f *fixture) mappingSize() int {
	f.t.Helper()
	entries, err := f.store.Mapping().List(f.ctx, smallRepo, largeRepo)
	require.NoError(f.t, err)
	return len(entries)
}

func files(kv ...string) map[string]model.FileChange {
	out := make(map[string]model.FileChange, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = testutil.File(kv[i+1])
	}
	return out
}
