package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xreposync/internal/testutil"
)

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v\ntrace:\n%s", result.Errors, result)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/pushrebase_master.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
}

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

func TestRun_FailedAssertion(t *testing.T) {
	result, err := Run(mustParse(t, `
name: failing
description: "Asserts a bookmark that never moved"
steps:
  - commit: {repo: small, label: s1, files: {README: "hello"}}
  - import: {from: small, to: large, head: s1, version: v1}
assertions:
  - {type: bookmark, repo: large, bookmark: master, at: "T(s1)"}
  - {type: mapping_count, from: small, to: large, count: 5}
`))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Assertion failed: bookmark")
	assert.Contains(t, result.Errors[0], "Actual: (absent)")
	assert.Contains(t, result.Errors[0], "Full trace:")
	assert.Contains(t, result.Errors[1], "Expected: 5 mapping rows small -> large")
	assert.Contains(t, result.Errors[1], "Actual: 1 rows")
}

func TestRun_UnexpectedErrorStopsScenario(t *testing.T) {
	result, err := Run(mustParse(t, `
name: unexpected_error
description: "Pushrebase onto a missing bookmark fails"
steps:
  - commit: {repo: small, label: s1, files: {README: "hello"}}
  - commit: {repo: small, label: s2, parents: [s1], files: {a: "a"}}
  - import: {from: small, to: large, head: s1, version: v1}
  - once: {from: small, to: large, head: s2, bookmark: master}
  - commit: {repo: small, label: s3, parents: [s2]}
assertions:
  - {type: trace_count, event: commit, count: 3}
`))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1, "assertions are not evaluated after a failed step")
	assert.Contains(t, result.Errors[0], "step 4: unexpected error")

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, "BOOKMARK_TRANSACTION_FAILED", last.Error)
}

func TestRun_ExpectedErrorNotRaised(t *testing.T) {
	result, err := Run(mustParse(t, `
name: missing_error
description: "Expects an error that never happens"
steps:
  - commit: {repo: small, label: s1, files: {README: "hello"}}
  - import: {from: small, to: large, head: s1, version: v1}
    expect_error: INVALID_CONFIGURATION
assertions:
  - {type: trace_count, event: commit, count: 1}
`))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected error INVALID_CONFIGURATION, step succeeded")
}

func TestRun_WrongErrorCode(t *testing.T) {
	result, err := Run(mustParse(t, `
name: wrong_code
description: "An unknown version fails with a configuration error"
steps:
  - commit: {repo: small, label: s1, files: {README: "hello"}}
  - import: {from: small, to: large, head: s1, version: v9}
    expect_error: MERGE_AMBIGUOUS_ANCESTOR
assertions:
  - {type: trace_count, event: error, count: 1}
`))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected error MERGE_AMBIGUOUS_ANCESTOR")
}

func TestRun_UnknownLabel(t *testing.T) {
	_, err := Run(mustParse(t, `
name: unknown_label
description: "Refers to a commit that was never written"
steps:
  - bookmark: {repo: small, name: master, to: nope}
assertions:
  - {type: trace_count, event: bookmark, count: 1}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step 1: unknown commit "nope" in repo small`)
}

func TestRun_DuplicateLabel(t *testing.T) {
	_, err := Run(mustParse(t, `
name: duplicate_label
description: "Uses a label twice"
steps:
  - commit: {repo: small, label: s1, files: {a: "1"}}
  - commit: {repo: small, label: s1, files: {a: "2"}}
assertions:
  - {type: trace_count, event: commit, count: 2}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "used twice")
}

func TestRun_BookmarkRegexFiltersEntries(t *testing.T) {
	result, err := Run(mustParse(t, `
name: regex
description: "Only master is synced"
steps:
  - commit: {repo: small, label: s1, files: {README: "hello"}}
  - import: {from: small, to: large, head: s1, version: v1}
  - bookmark: {repo: large, name: master, to: "T(s1)"}
  - commit: {repo: small, label: s2, parents: [s1], files: {f: "f"}}
  - bookmark: {repo: small, name: feature, to: s2}
  - sync: {from: small, to: large, bookmark_regex: "^master$"}
assertions:
  - {type: trace_count, event: entry, count: 0}
  - {type: outcome, from: small, to: large, commit: s2, outcome: none}
  - {type: bookmark, repo: large, bookmark: small/feature}
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	config := strings.Replace(testutil.FamilyConfigYAML, "default_prefix: smallrepo", "default_prefix: libs/small", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "family.yaml"), []byte(config), 0o644))
	scenarioPath := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(scenarioPath, []byte(`
name: custom_config
description: "The config file sets the prefix"
config: family.yaml
steps:
  - commit: {repo: small, label: s1, files: {README: "hello"}}
  - import: {from: small, to: large, head: s1, version: v1}
assertions:
  - {type: paths, repo: large, commit: "T(s1)", paths: [libs/small/README]}
`), 0o644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestResult_String(t *testing.T) {
	r := NewResult()
	r.AddEvent(TraceEvent{Step: 1, Type: EventCommit, Repo: "small", Commit: "s1"})
	r.AddEvent(TraceEvent{Step: 2, Type: EventError, Error: "PARENT_NOT_SYNCED"})

	assert.Equal(t,
		"[1] step 1 commit repo=small commit=s1\n[2] step 2 error error=PARENT_NOT_SYNCED\n",
		r.String())
}
