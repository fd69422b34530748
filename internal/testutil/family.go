package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/store"
	"github.com/roach88/xreposync/internal/syncconfig"
	"github.com/roach88/xreposync/internal/syncer"
)

// Repo ids of the family built by NewFamily.
const (
	LargeRepo model.RepositoryID = 0
	SmallRepo model.RepositoryID = 1
)

// FamilyConfigYAML declares one small repo synced into "smallrepo/" of the
// large repo, with master shared and other small repo bookmarks prefixed
// by "small/".
const FamilyConfigYAML = `
large_repo_id: 0
common_pushrebase_bookmarks: [master]
small_repos:
  - repo_id: 1
    bookmark_prefix: "small/"
current_version: v1
versions:
  - name: v1
    small_repos:
      - repo_id: 1
        default_action: prepend_prefix
        default_prefix: smallrepo
        map:
          shared: common/shared
          private: ""
`

// FamilyConfig builds the resolver of FamilyConfigYAML.
func FamilyConfig(t testing.TB) *syncconfig.Resolver {
	t.Helper()
	f, err := syncconfig.Decode([]byte(FamilyConfigYAML), syncconfig.FormatYAML, "family.yaml")
	require.NoError(t, err)
	r, err := f.Build()
	require.NoError(t, err)
	return r
}

// Family is a small and a large repo sharing one temp store.
type Family struct {
	t      testing.TB
	Path   string
	Store  *store.Store
	Clock  *DeterministicClock
	Config *syncconfig.Resolver
	Small  *Graph
	Large  *Graph
}

// NewFamily opens a store in a temp dir and returns builders for both
// repos. The store and commit dates share one deterministic clock.
func NewFamily(t testing.TB, config *syncconfig.Resolver) *Family {
	t.Helper()
	clock := NewDeterministicClock()
	path := filepath.Join(t.TempDir(), "family.db")
	s, err := store.Open(path, store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &Family{
		t:      t,
		Path:   path,
		Store:  s,
		Clock:  clock,
		Config: config,
		Small:  NewGraph(t, s.Repo(SmallRepo), clock),
		Large:  NewGraph(t, s.Repo(LargeRepo), clock),
	}
}

// Forward returns a syncer from the small repo into the large one.
func (f *Family) Forward(opts ...syncer.Option) *syncer.Syncer {
	return syncer.New(f.Store.Repo(SmallRepo), f.Store.Repo(LargeRepo), f.Store.Mapping(), f.Config, opts...)
}

// Backward returns a syncer from the large repo into the small one.
func (f *Family) Backward(opts ...syncer.Option) *syncer.Syncer {
	return syncer.New(f.Store.Repo(LargeRepo), f.Store.Repo(SmallRepo), f.Store.Mapping(), f.Config, opts...)
}

// SeedMaster builds s1 <- s2 in the small repo, imports it with v1 and
// points master at the tip on both sides. Bookmark moves made here are
// in the logs of both repos.
func (f *Family) SeedMaster() {
	f.t.Helper()
	f.Small.Commit("s1", nil, map[string]model.FileChange{"README": File("hello")})
	f.Small.Commit("s2", []string{"s1"}, map[string]model.FileChange{"src/main.go": File("package main")})

	_, err := f.Forward().InitialImport(context.Background(), f.Small.ID("s2"), "v1")
	require.NoError(f.t, err)
	for _, l := range []string{"s1", "s2"} {
		f.Large.Name("T("+l+")", f.Remapped(SmallRepo, LargeRepo, f.Small.ID(l)))
	}
	f.Small.SetBookmark("master", "s2")
	f.Large.SetBookmark("master", "T(s2)")
}

// Remapped returns the target copy of cs, failing the test if it has none.
func (f *Family) Remapped(source, target model.RepositoryID, cs model.ChangesetID) model.ChangesetID {
	f.t.Helper()
	o, err := f.Store.Mapping().GetOutcome(context.Background(), model.MappingKey{
		SourceRepo: source, SourceChangeset: cs, TargetRepo: target,
	})
	require.NoError(f.t, err)
	require.NotNil(f.t, o, "%s has no outcome", cs.Short())
	id, ok := model.RemappedID(o)
	require.True(f.t, ok, "%s was not remapped: %s", cs.Short(), o)
	return id
}
