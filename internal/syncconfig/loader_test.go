package syncconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xreposync/internal/model"
)

func TestLoadYAML(t *testing.T) {
	r, err := Load(filepath.Join("testdata", "family.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []model.CommitSyncConfigVersion{"v1", "v2"}, r.Versions())
	current, ok := r.CurrentVersion()
	assert.True(t, ok)
	assert.Equal(t, model.CommitSyncConfigVersion("v2"), current)
	assert.Equal(t, []model.BookmarkKey{"master"}, r.CommonPushrebaseBookmarks())

	repos, err := r.SmallReposForVersion("v2")
	require.NoError(t, err)
	assert.Equal(t, []model.RepositoryID{1, 2}, repos)

	action, err := r.SubmoduleAction("v2", 2)
	require.NoError(t, err)
	assert.Equal(t, model.SubmoduleDeny, action)

	action, err = r.SubmoduleAction("v1", 1)
	require.NoError(t, err)
	assert.Equal(t, model.SubmoduleKeep, action, "unset submodule action defaults to keep")
}

func TestLoadCUE(t *testing.T) {
	r, err := Load(filepath.Join("testdata", "family.cue"))
	require.NoError(t, err)

	res, err := r.Resolve("v1", 1, 0)
	require.NoError(t, err)
	moved, ok := res.Mover("shared/a")
	assert.True(t, ok)
	assert.Equal(t, "common/shared/a", moved)
}

func TestLoadRejectsUnknownYAMLField(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "bad_field.yaml"))
	require.Error(t, err)
	var le *LoadError
	assert.ErrorAs(t, err, &le)
	assert.Contains(t, err.Error(), "small_repo")
}

func TestLoadRejectsIncompleteCUE(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "incomplete.cue"))
	require.Error(t, err)
	var le *LoadError
	assert.ErrorAs(t, err, &le)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate small repo", `
large_repo_id: 0
small_repos: [{repo_id: 1}, {repo_id: 1}]
`},
		{"undeclared current version", `
large_repo_id: 0
small_repos: [{repo_id: 1}]
current_version: v9
`},
		{"version covers unknown repo", `
large_repo_id: 0
small_repos: [{repo_id: 1}]
versions:
  - name: v1
    small_repos: [{repo_id: 3, default_action: preserve}]
`},
		{"duplicate version", `
large_repo_id: 0
small_repos: [{repo_id: 1}]
versions:
  - {name: v1}
  - {name: v1}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.yaml), FormatYAML, tt.name)
			require.NoError(t, err)
			_, err = f.Build()
			require.Error(t, err)
			assert.True(t, model.IsCode(err, model.ErrCodeInvalidConfiguration), "got %v", err)
		})
	}
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatCUE, FormatForPath("a/b.cue"))
	assert.Equal(t, FormatCUE, FormatForPath("B.CUE"))
	assert.Equal(t, FormatYAML, FormatForPath("b.yaml"))
	assert.Equal(t, FormatYAML, FormatForPath("b"))
}
