package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One commit"
steps:
  - commit: {repo: small, label: s1, files: {README: "hello"}}
assertions:
  - {type: trace_count, event: commit, count: 1}
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, map[string]int32{"large": 0, "small": 1}, s.Repos)
	require.Len(t, s.Steps, 1)
	require.NotNil(t, s.Steps[0].Commit)
	assert.Equal(t, "s1", s.Steps[0].Commit.Label)
	assert.Equal(t, map[string]string{"README": "hello"}, s.Steps[0].Commit.Files)
}

func TestParseScenario_ExplicitRepos(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: two_smalls
description: "Two small repos"
repos: {large: 0, a: 1, b: 2}
steps:
  - commit: {repo: b, label: b1}
assertions:
  - {type: mapping_count, from: b, to: large, count: 0}
`))
	require.NoError(t, err)
	assert.Equal(t, map[string]int32{"large": 0, "a": 1, "b": 2}, s.Repos)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: `
description: x
steps: [{commit: {repo: small, label: s1}}]
assertions: [{type: trace_count, event: commit, count: 1}]
`,
			want: "name is required",
		},
		{
			name: "no steps",
			yaml: `
name: x
description: x
steps: []
assertions: [{type: trace_count, event: commit, count: 1}]
`,
			want: "steps list is required",
		},
		{
			name: "two actions in one step",
			yaml: `
name: x
description: x
steps:
  - commit: {repo: small, label: s1}
    sync: {from: small, to: large}
assertions: [{type: trace_count, event: commit, count: 1}]
`,
			want: "exactly one action is required, got 2",
		},
		{
			name: "unknown repo",
			yaml: `
name: x
description: x
steps: [{commit: {repo: tiny, label: s1}}]
assertions: [{type: trace_count, event: commit, count: 1}]
`,
			want: `unknown repo "tiny"`,
		},
		{
			name: "bookmark with to and delete",
			yaml: `
name: x
description: x
steps: [{bookmark: {repo: small, name: master, to: s1, delete: true}}]
assertions: [{type: trace_count, event: commit, count: 1}]
`,
			want: "exactly one of to and delete",
		},
		{
			name: "import without version",
			yaml: `
name: x
description: x
steps: [{import: {from: small, to: large, head: s1}}]
assertions: [{type: trace_count, event: commit, count: 1}]
`,
			want: "head and version are required",
		},
		{
			name: "unknown assertion type",
			yaml: `
name: x
description: x
steps: [{commit: {repo: small, label: s1}}]
assertions: [{type: final_state}]
`,
			want: `unknown assertion type "final_state"`,
		},
		{
			name: "outcome without commit",
			yaml: `
name: x
description: x
steps: [{commit: {repo: small, label: s1}}]
assertions: [{type: outcome, from: small, to: large}]
`,
			want: "commit is required for outcome",
		},
		{
			name: "unknown field",
			yaml: `
name: x
description: x
flow: []
steps: [{commit: {repo: small, label: s1}}]
assertions: [{type: trace_count, event: commit, count: 1}]
`,
			want: "field flow not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_ResolvesConfigRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	content := minimalScenario + "config: family.yaml\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "family.yaml"), s.Config)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, filepath.Base(path), s.Name+".yaml")
		})
	}
}
