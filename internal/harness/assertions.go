package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/xreposync/internal/model"
)

// OutcomeNone is the outcome value asserting that a commit has no mapping
// row.
const OutcomeNone = "none"

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		r := Result{Trace: e.Trace}
		for _, line := range strings.Split(strings.TrimSuffix(r.String(), "\n"), "\n") {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}

	return buf.String()
}

// AssertionContext provides the state assertions are evaluated against.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertBookmark, AssertParents, AssertPaths, AssertOutcome, AssertMappingCount:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("assertion[%d]: %s requires repository state", i, assertion.Type)
				break
			}
			err = actx.Harness.assertState(actx.Ctx, assertion)
			if ae, ok := err.(*AssertionError); ok {
				ae.Trace = result.Trace
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertTraceCount checks that exactly Count events of the given type
// happened, in Repo if it is set.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == assertion.Event && (assertion.Repo == "" || event.Repo == assertion.Repo) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertState(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertBookmark:
		return h.assertBookmark(ctx, a)
	case AssertParents:
		return h.assertParents(ctx, a)
	case AssertPaths:
		return h.assertPaths(ctx, a)
	case AssertOutcome:
		return h.assertOutcome(ctx, a)
	default:
		return h.assertMappingCount(ctx, a)
	}
}

func (h *Harness) assertBookmark(ctx context.Context, a Assertion) error {
	repo := h.repos[a.Repo]
	at, err := h.store.Repo(repo).GetBookmark(ctx, model.BookmarkKey(a.Bookmark))
	if err != nil {
		return err
	}

	actual := "(absent)"
	if at != nil {
		actual = h.label(repo, *at)
	}
	expected := a.At
	if expected == "" {
		expected = "(absent)"
	}
	if actual != expected {
		return &AssertionError{
			Type:     AssertBookmark,
			Expected: fmt.Sprintf("%s/%s at %s", a.Repo, a.Bookmark, expected),
			Actual:   actual,
		}
	}
	return nil
}

func (h *Harness) assertParents(ctx context.Context, a Assertion) error {
	repo := h.repos[a.Repo]
	id, err := h.id(repo, a.Commit)
	if err != nil {
		return err
	}
	parents, err := h.store.Repo(repo).Parents(ctx, id)
	if err != nil {
		return err
	}

	actual := make([]string, 0, len(parents))
	for _, p := range parents {
		actual = append(actual, h.label(repo, p))
	}
	expected := a.Parents
	if expected == nil {
		expected = []string{}
	}
	if !slices.Equal(actual, expected) {
		return &AssertionError{
			Type:     AssertParents,
			Expected: fmt.Sprintf("parents of %s/%s = %v", a.Repo, a.Commit, expected),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func (h *Harness) assertPaths(ctx context.Context, a Assertion) error {
	repo := h.repos[a.Repo]
	id, err := h.id(repo, a.Commit)
	if err != nil {
		return err
	}
	cs, err := h.store.Repo(repo).Load(ctx, id)
	if err != nil {
		return err
	}

	actual := cs.SortedPaths()
	expected := slices.Clone(a.Paths)
	slices.Sort(expected)
	if len(actual) == 0 && len(expected) == 0 {
		return nil
	}
	if !slices.Equal(actual, expected) {
		return &AssertionError{
			Type:     AssertPaths,
			Expected: fmt.Sprintf("paths of %s/%s = %v", a.Repo, a.Commit, expected),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func (h *Harness) assertOutcome(ctx context.Context, a Assertion) error {
	from, to := h.repos[a.From], h.repos[a.To]
	id, err := h.id(from, a.Commit)
	if err != nil {
		return err
	}
	outcome, err := h.store.Mapping().GetOutcome(ctx, model.MappingKey{
		SourceRepo:      from,
		SourceChangeset: id,
		TargetRepo:      to,
	})
	if err != nil {
		return err
	}

	actual := OutcomeNone
	if outcome != nil {
		actual = outcome.Kind().String()
		if target, ok := model.RemappedID(outcome); ok {
			actual += " " + h.label(to, target)
		}
	}
	expected := a.Outcome
	if a.Target != "" {
		expected += " " + a.Target
	}
	if actual != expected {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("%s/%s -> %s: %s", a.From, a.Commit, a.To, expected),
			Actual:   actual,
		}
	}
	return nil
}

func (h *Harness) assertMappingCount(ctx context.Context, a Assertion) error {
	entries, err := h.store.Mapping().List(ctx, h.repos[a.From], h.repos[a.To])
	if err != nil {
		return err
	}
	if len(entries) != a.Count {
		return &AssertionError{
			Type:     AssertMappingCount,
			Expected: fmt.Sprintf("%d mapping rows %s -> %s", a.Count, a.From, a.To),
			Actual:   fmt.Sprintf("%d rows", len(entries)),
		}
	}
	return nil
}
