package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a conformance scenario: a script of commits, bookmark moves
// and sync runs over a repo family, followed by assertions on the final
// state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the commit sync config file, relative to the scenario
	// file. If empty, the single small repo family of testutil is used.
	Config string `yaml:"config,omitempty"`

	// Repos names the repo ids used by steps. Defaults to large: 0 and
	// small: 1.
	Repos map[string]int32 `yaml:"repos,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one action field must be set.
type Step struct {
	Commit   *CommitStep   `yaml:"commit,omitempty"`
	Bookmark *BookmarkStep `yaml:"bookmark,omitempty"`
	Import   *ImportStep   `yaml:"import,omitempty"`
	Once     *OnceStep     `yaml:"once,omitempty"`
	Sync     *SyncStep     `yaml:"sync,omitempty"`

	// ExpectError is the error code the step must fail with. A step
	// without it must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// CommitStep stores a labeled commit.
type CommitStep struct {
	Repo    string            `yaml:"repo"`
	Label   string            `yaml:"label"`
	Parents []string          `yaml:"parents,omitempty"`
	Files   map[string]string `yaml:"files,omitempty"`
	Deleted []string          `yaml:"deleted,omitempty"`
}

// BookmarkStep creates, moves or deletes a bookmark, recording a log
// entry.
type BookmarkStep struct {
	Repo   string `yaml:"repo"`
	Name   string `yaml:"name"`
	To     string `yaml:"to,omitempty"`
	Delete bool   `yaml:"delete,omitempty"`
}

// ImportStep syncs a commit and its ancestors with an explicit version.
type ImportStep struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Head    string `yaml:"head"`
	Version string `yaml:"version"`
}

// OnceStep syncs a commit and its ancestors, then optionally moves a
// target bookmark.
type OnceStep struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Head     string `yaml:"head"`
	Bookmark string `yaml:"bookmark,omitempty"`
}

// SyncStep tails the source log into the target until caught up.
type SyncStep struct {
	From          string `yaml:"from"`
	To            string `yaml:"to"`
	BookmarkRegex string `yaml:"bookmark_regex,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Repo     string `yaml:"repo,omitempty"`
	Bookmark string `yaml:"bookmark,omitempty"`
	Commit   string `yaml:"commit,omitempty"`

	// At is the expected bookmark position (bookmark). An empty At means
	// the bookmark must not exist.
	At string `yaml:"at,omitempty"`

	// Parents are the expected parent labels (parents).
	Parents []string `yaml:"parents,omitempty"`

	// Paths are the expected changed paths, sorted (paths).
	Paths []string `yaml:"paths,omitempty"`

	// From and To name the repo pair (outcome, mapping_count).
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`

	// Outcome and Target are the expected outcome kind and target label
	// (outcome).
	Outcome string `yaml:"outcome,omitempty"`
	Target  string `yaml:"target,omitempty"`

	// Event is the trace event type (trace_count).
	Event string `yaml:"event,omitempty"`

	// Count is the expected number of rows or events.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertBookmark     = "bookmark"
	AssertParents      = "parents"
	AssertPaths        = "paths"
	AssertOutcome      = "outcome"
	AssertMappingCount = "mapping_count"
	AssertTraceCount   = "trace_count"
)

// defaultRepos are the repo names of the default family.
var defaultRepos = map[string]int32{"large": 0, "small": 1}

// LoadScenario reads and parses a scenario YAML file. The config path is
// resolved relative to the scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(scenario.Repos) == 0 {
		scenario.Repos = defaultRepos
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := s.validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := s.validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scenario) validateStep(index int, step *Step) error {
	actions := 0
	var repos []string
	if c := step.Commit; c != nil {
		actions++
		repos = append(repos, c.Repo)
		if c.Label == "" {
			return fmt.Errorf("steps[%d].commit: label is required", index)
		}
	}
	if b := step.Bookmark; b != nil {
		actions++
		repos = append(repos, b.Repo)
		if b.Name == "" {
			return fmt.Errorf("steps[%d].bookmark: name is required", index)
		}
		if b.Delete == (b.To != "") {
			return fmt.Errorf("steps[%d].bookmark: exactly one of to and delete is required", index)
		}
	}
	if imp := step.Import; imp != nil {
		actions++
		repos = append(repos, imp.From, imp.To)
		if imp.Head == "" || imp.Version == "" {
			return fmt.Errorf("steps[%d].import: head and version are required", index)
		}
	}
	if o := step.Once; o != nil {
		actions++
		repos = append(repos, o.From, o.To)
		if o.Head == "" {
			return fmt.Errorf("steps[%d].once: head is required", index)
		}
	}
	if sy := step.Sync; sy != nil {
		actions++
		repos = append(repos, sy.From, sy.To)
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, actions)
	}
	for _, r := range repos {
		if _, ok := s.Repos[r]; !ok {
			return fmt.Errorf("steps[%d]: unknown repo %q", index, r)
		}
	}
	return nil
}

func (s *Scenario) validateAssertion(index int, a *Assertion) error {
	var repos []string
	switch a.Type {
	case AssertBookmark:
		repos = append(repos, a.Repo)
		if a.Bookmark == "" {
			return fmt.Errorf("assertions[%d]: bookmark is required for bookmark", index)
		}
	case AssertParents, AssertPaths:
		repos = append(repos, a.Repo)
		if a.Commit == "" {
			return fmt.Errorf("assertions[%d]: commit is required for %s", index, a.Type)
		}
	case AssertOutcome:
		repos = append(repos, a.From, a.To)
		if a.Commit == "" {
			return fmt.Errorf("assertions[%d]: commit is required for outcome", index)
		}
	case AssertMappingCount:
		repos = append(repos, a.From, a.To)
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	for _, r := range repos {
		if _, ok := s.Repos[r]; !ok {
			return fmt.Errorf("assertions[%d]: unknown repo %q", index, r)
		}
	}
	return nil
}
