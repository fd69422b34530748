package harness

// Trace event types.
const (
	EventCommit   = "commit"   // a scenario step stored a commit
	EventBookmark = "bookmark" // a bookmark was created, moved or deleted
	EventEntry    = "entry"    // the tailer processed a log entry
	EventSync     = "sync"     // an import or once step returned
	EventOutcome  = "outcome"  // a sync outcome was recorded in the mapping
	EventError    = "error"    // a step failed
)

// TraceEvent is one observable effect of a scenario step. Commits are
// named by their scenario labels, never by hash, so traces are stable
// across encoding changes.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Step int    `json:"step"`
	Type string `json:"type"`

	// Repo is the repo the event happened in. For outcomes it is the
	// source repo.
	Repo string `json:"repo,omitempty"`

	Commit   string `json:"commit,omitempty"`
	Bookmark string `json:"bookmark,omitempty"`

	// To is the new bookmark position or the outcome's target commit.
	To string `json:"to,omitempty"`

	Outcome     string `json:"outcome,omitempty"`
	Result      string `json:"result,omitempty"`
	Direct      int    `json:"direct,omitempty"`
	Pushrebased int    `json:"pushrebased,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace contains the effects of all steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends e to the trace and numbers it.
func (r *Result) AddEvent(e TraceEvent) {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
}
