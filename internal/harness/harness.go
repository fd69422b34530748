package harness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/store"
	"github.com/roach88/xreposync/internal/syncconfig"
	"github.com/roach88/xreposync/internal/syncer"
	"github.com/roach88/xreposync/internal/tailer"
	"github.com/roach88/xreposync/internal/testutil"
)

const author = "harness <harness@example.com>"

// Harness executes one scenario against a fresh store. Every sync goes
// through the real syncer and tailer; the harness only builds the input
// history and observes the effects.
type Harness struct {
	store  *store.Store
	config *syncconfig.Resolver
	clock  *testutil.DeterministicClock
	runIDs *testutil.SequentialRunIDGenerator
	logger *zap.Logger

	repos  map[string]model.RepositoryID
	names  map[model.RepositoryID]string
	labels map[model.RepositoryID]*labelSet
	seen   map[model.MappingKey]bool

	result *Result
	step   int
}

// labelSet names the commits of one repo. order records creation order
// so that trace events are sorted the way the history was written.
type labelSet struct {
	ids   map[string]model.ChangesetID
	names map[model.ChangesetID]string
	order map[model.ChangesetID]int
}

func newLabelSet() *labelSet {
	return &labelSet{
		ids:   make(map[string]model.ChangesetID),
		names: make(map[model.ChangesetID]string),
		order: make(map[model.ChangesetID]int),
	}
}

func (l *labelSet) add(label string, id model.ChangesetID) {
	l.ids[label] = id
	l.names[id] = label
	l.order[id] = len(l.order)
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a deterministic
// clock, so the same scenario always produces the same trace.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	config, err := loadConfig(scenario.Config)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewDeterministicClock()
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		config: config,
		clock:  clock,
		runIDs: testutil.NewSequentialRunIDGenerator(scenario.Name),
		logger: zap.NewNop(),
		repos:  make(map[string]model.RepositoryID, len(scenario.Repos)),
		names:  make(map[model.RepositoryID]string, len(scenario.Repos)),
		labels: make(map[model.RepositoryID]*labelSet, len(scenario.Repos)),
		seen:   make(map[model.MappingKey]bool),
		result: NewResult(),
	}
	for name, id := range scenario.Repos {
		rid := model.RepositoryID(id)
		h.repos[name] = rid
		h.names[rid] = name
		h.labels[rid] = newLabelSet()
	}

	for i := range scenario.Steps {
		h.step = i + 1
		ok, err := h.executeStep(ctx, &scenario.Steps[i])
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", h.step, err)
		}
		if !ok {
			// The history no longer matches the script; assertions
			// would only report follow-up failures.
			return h.result, nil
		}
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func loadConfig(path string) (*syncconfig.Resolver, error) {
	if path != "" {
		return syncconfig.Load(path)
	}
	f, err := syncconfig.Decode([]byte(testutil.FamilyConfigYAML), syncconfig.FormatYAML, "family.yaml")
	if err != nil {
		return nil, err
	}
	return f.Build()
}

// executeStep runs one step. It returns false when the step did not
// behave as the scenario expects, and an error when the scenario itself is
// broken, such as an unknown label.
func (h *Harness) executeStep(ctx context.Context, step *Step) (bool, error) {
	var err error
	switch {
	case step.Commit != nil:
		err = h.commit(ctx, step.Commit)
	case step.Bookmark != nil:
		err = h.bookmark(ctx, step.Bookmark)
	case step.Import != nil:
		err = h.observe(ctx, func() error { return h.initialImport(ctx, step.Import) })
	case step.Once != nil:
		err = h.observe(ctx, func() error { return h.once(ctx, step.Once) })
	case step.Sync != nil:
		err = h.observe(ctx, func() error { return h.sync(ctx, step.Sync) })
	}

	var broken *scenarioError
	if errors.As(err, &broken) {
		return false, err
	}
	code := model.CodeOf(err)
	if err != nil {
		h.result.AddEvent(TraceEvent{Step: h.step, Type: EventError, Error: errorLabel(code)})
	}

	switch {
	case err == nil && step.ExpectError == "":
		return true, nil
	case err == nil:
		h.result.AddError(fmt.Sprintf("step %d: expected error %s, step succeeded", h.step, step.ExpectError))
		return false, nil
	case step.ExpectError == "":
		h.result.AddError(fmt.Sprintf("step %d: unexpected error: %v", h.step, err))
		return false, nil
	case string(code) != step.ExpectError:
		h.result.AddError(fmt.Sprintf("step %d: expected error %s, got %v", h.step, step.ExpectError, err))
		return false, nil
	default:
		return true, nil
	}
}

func errorLabel(code model.ErrorCode) string {
	if code == "" {
		return "INTERNAL"
	}
	return string(code)
}

// scenarioError marks mistakes in the scenario itself.
type scenarioError struct {
	msg string
}

func (e *scenarioError) Error() string { return e.msg }

func scenarioErrorf(format string, args ...any) error {
	return &scenarioError{msg: fmt.Sprintf(format, args...)}
}

func (h *Harness) id(repo model.RepositoryID, label string) (model.ChangesetID, error) {
	id, ok := h.labels[repo].ids[label]
	if !ok {
		return "", scenarioErrorf("unknown commit %q in repo %s", label, h.names[repo])
	}
	return id, nil
}

// label returns the label of id in repo, or its short hash.
func (h *Harness) label(repo model.RepositoryID, id model.ChangesetID) string {
	if l, ok := h.labels[repo].names[id]; ok {
		return l
	}
	return id.Short()
}

func (h *Harness) commit(ctx context.Context, c *CommitStep) error {
	repo := h.repos[c.Repo]
	if _, dup := h.labels[repo].ids[c.Label]; dup {
		return scenarioErrorf("commit label %q used twice in repo %s", c.Label, c.Repo)
	}
	cs := &model.Changeset{
		Author:      author,
		Date:        h.clock.Now(),
		Message:     c.Label,
		FileChanges: make(map[string]model.FileChange, len(c.Files)+len(c.Deleted)),
	}
	for _, p := range c.Parents {
		id, err := h.id(repo, p)
		if err != nil {
			return err
		}
		cs.Parents = append(cs.Parents, id)
	}
	for path, content := range c.Files {
		cs.FileChanges[path] = model.FileChange{Kind: model.FileRegular, Content: content}
	}
	for _, path := range c.Deleted {
		cs.FileChanges[path] = model.FileChange{Kind: model.FileDeleted}
	}

	id, err := h.store.Repo(repo).Store(ctx, cs)
	if err != nil {
		return scenarioErrorf("store commit %s: %v", c.Label, err)
	}
	h.labels[repo].add(c.Label, id)
	h.result.AddEvent(TraceEvent{Step: h.step, Type: EventCommit, Repo: c.Repo, Commit: c.Label})
	return nil
}

func (h *Harness) bookmark(ctx context.Context, b *BookmarkStep) error {
	repoID := h.repos[b.Repo]
	repo := h.store.Repo(repoID)
	name := model.BookmarkKey(b.Name)

	current, err := repo.GetBookmark(ctx, name)
	if err != nil {
		return err
	}
	txn := repo.NewTransaction()
	switch {
	case b.Delete && current == nil:
		return scenarioErrorf("bookmark %s does not exist in repo %s", b.Name, b.Repo)
	case b.Delete:
		err = txn.Delete(name, *current, model.ReasonPush)
	default:
		to, idErr := h.id(repoID, b.To)
		if idErr != nil {
			return idErr
		}
		if current == nil {
			err = txn.Create(name, to, model.ReasonPush)
		} else {
			err = txn.Update(name, to, *current, model.ReasonPush)
		}
	}
	if err != nil {
		return err
	}
	ok, err := txn.Commit(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return scenarioErrorf("bookmark %s moved concurrently", b.Name)
	}
	h.result.AddEvent(TraceEvent{Step: h.step, Type: EventBookmark, Repo: b.Repo, Bookmark: b.Name, To: b.To})
	return nil
}

func (h *Harness) syncer(from, to string) *syncer.Syncer {
	return syncer.New(
		h.store.Repo(h.repos[from]),
		h.store.Repo(h.repos[to]),
		h.store.Mapping(),
		h.config,
		syncer.WithLogger(h.logger),
		syncer.WithClock(h.clock.Now),
	)
}

func (h *Harness) initialImport(ctx context.Context, imp *ImportStep) error {
	head, err := h.id(h.repos[imp.From], imp.Head)
	if err != nil {
		return err
	}
	res, err := h.syncer(imp.From, imp.To).InitialImport(ctx, head, model.CommitSyncConfigVersion(imp.Version))
	if err != nil {
		return err
	}
	h.addSyncEvent(imp.From, imp.Head, res)
	return nil
}

func (h *Harness) once(ctx context.Context, o *OnceStep) error {
	head, err := h.id(h.repos[o.From], o.Head)
	if err != nil {
		return err
	}
	var bookmark *model.BookmarkKey
	if o.Bookmark != "" {
		b := model.BookmarkKey(o.Bookmark)
		bookmark = &b
	}
	res, err := h.syncer(o.From, o.To).SyncCommitAndAncestors(ctx, nil, head, bookmark)
	if err != nil {
		return err
	}
	h.addSyncEvent(o.From, o.Head, res)
	return nil
}

func (h *Harness) addSyncEvent(repo, head string, res *syncer.SyncResult) {
	h.result.AddEvent(TraceEvent{
		Step:        h.step,
		Type:        EventSync,
		Repo:        repo,
		Commit:      head,
		Result:      res.Kind.String(),
		Direct:      res.Direct,
		Pushrebased: res.Pushrebased,
	})
}

func (h *Harness) sync(ctx context.Context, s *SyncStep) error {
	cfg := tailer.Config{BatchSize: tailer.DefaultBatchSize, CatchUpOnce: true}
	if s.BookmarkRegex != "" {
		re, err := regexp.Compile(s.BookmarkRegex)
		if err != nil {
			return scenarioErrorf("bookmark_regex: %v", err)
		}
		cfg.BookmarkRegex = re
	}
	from, to := h.repos[s.From], h.repos[s.To]
	p := &tracingProcessor{
		inner: tailer.SyncProcessor{Syncer: h.syncer(s.From, s.To)},
		h:     h,
		repo:  s.From,
	}
	t := tailer.New(p, h.store.Repo(from), h.store,
		tailer.Checkpoint{Repo: to, Name: tailer.CounterName(from)}, cfg,
		tailer.WithLogger(h.logger),
		tailer.WithRunIDGenerator(h.runIDs),
	)
	return t.Run(ctx)
}

// tracingProcessor records every successfully processed entry.
type tracingProcessor struct {
	inner tailer.Processor
	h     *Harness
	repo  string
}

func (p *tracingProcessor) ProcessEntry(ctx context.Context, entry model.BookmarkUpdateLogEntry) (tailer.EntryResult, error) {
	res, err := p.inner.ProcessEntry(ctx, entry)
	if err != nil {
		return res, err
	}
	p.h.result.AddEvent(TraceEvent{
		Step:        p.h.step,
		Type:        EventEntry,
		Repo:        p.repo,
		Bookmark:    string(entry.BookmarkName),
		Result:      res.Outcome,
		Direct:      res.Direct,
		Pushrebased: res.Pushrebased,
	})
	return res, nil
}

// observe runs a sync step and traces the outcomes and bookmark moves it
// caused, whether or not it failed.
func (h *Harness) observe(ctx context.Context, run func() error) error {
	before, err := h.bookmarks(ctx)
	if err != nil {
		return err
	}
	runErr := run()
	if err := h.traceOutcomes(ctx); err != nil {
		return errors.Join(runErr, err)
	}
	after, err := h.bookmarks(ctx)
	if err != nil {
		return errors.Join(runErr, err)
	}
	h.traceBookmarkMoves(before, after)
	return runErr
}

func (h *Harness) repoIDs() []model.RepositoryID {
	ids := make([]model.RepositoryID, 0, len(h.names))
	for id := range h.names {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func (h *Harness) bookmarks(ctx context.Context) (map[model.RepositoryID]map[model.BookmarkKey]model.ChangesetID, error) {
	out := make(map[model.RepositoryID]map[model.BookmarkKey]model.ChangesetID, len(h.names))
	for _, id := range h.repoIDs() {
		bs, err := h.store.Repo(id).ListBookmarks(ctx)
		if err != nil {
			return nil, err
		}
		out[id] = bs
	}
	return out, nil
}

func (h *Harness) traceBookmarkMoves(before, after map[model.RepositoryID]map[model.BookmarkKey]model.ChangesetID) {
	for _, repo := range h.repoIDs() {
		var names []model.BookmarkKey
		for name := range before[repo] {
			names = append(names, name)
		}
		for name := range after[repo] {
			if _, ok := before[repo][name]; !ok {
				names = append(names, name)
			}
		}
		sort.Slice(names, func(a, b int) bool { return names[a] < names[b] })

		for _, name := range names {
			old, hadOld := before[repo][name]
			cur, hasCur := after[repo][name]
			if hadOld == hasCur && old == cur {
				continue
			}
			e := TraceEvent{Step: h.step, Type: EventBookmark, Repo: h.names[repo], Bookmark: string(name)}
			if hasCur {
				e.To = h.label(repo, cur)
			}
			h.result.AddEvent(e)
		}
	}
}

// traceOutcomes traces mapping rows written since the last call, ordered
// by source repo then by the creation order of the source commits. Target
// commits of new rows get the label "T(<source label>)" if they have none.
func (h *Harness) traceOutcomes(ctx context.Context) error {
	large := h.config.Common().LargeRepoID
	for _, source := range h.repoIDs() {
		for _, target := range h.repoIDs() {
			if source == target || (source != large && target != large) {
				continue
			}
			entries, err := h.store.Mapping().List(ctx, source, target)
			if err != nil {
				return err
			}
			var fresh []model.MappingEntry
			for _, e := range entries {
				if !h.seen[e.MappingKey] {
					h.seen[e.MappingKey] = true
					fresh = append(fresh, e)
				}
			}
			order := h.labels[source].order
			sort.SliceStable(fresh, func(a, b int) bool {
				return order[fresh[a].SourceChangeset] < order[fresh[b].SourceChangeset]
			})
			for _, e := range fresh {
				h.addOutcomeEvent(e)
			}
		}
	}
	return nil
}

func (h *Harness) addOutcomeEvent(e model.MappingEntry) {
	sourceLabel := h.label(e.SourceRepo, e.SourceChangeset)
	ev := TraceEvent{
		Step:    h.step,
		Type:    EventOutcome,
		Repo:    h.names[e.SourceRepo],
		Commit:  sourceLabel,
		Outcome: e.Outcome.Kind().String(),
	}
	if id, ok := model.RemappedID(e.Outcome); ok {
		targets := h.labels[e.TargetRepo]
		if _, named := targets.names[id]; !named {
			targets.add(h.freshLabel(e.TargetRepo, "T("+sourceLabel+")"), id)
		}
		ev.To = h.label(e.TargetRepo, id)
	}
	h.result.AddEvent(ev)
}

func (h *Harness) freshLabel(repo model.RepositoryID, label string) string {
	for {
		if _, taken := h.labels[repo].ids[label]; !taken {
			return label
		}
		label += "'"
	}
}

// String renders the trace one event per line, for failure messages.
func (r *Result) String() string {
	var b strings.Builder
	for _, e := range r.Trace {
		fmt.Fprintf(&b, "[%d] step %d %s", e.Seq, e.Step, e.Type)
		for _, kv := range [][2]string{
			{"repo", e.Repo}, {"commit", e.Commit}, {"bookmark", e.Bookmark},
			{"to", e.To}, {"outcome", e.Outcome}, {"result", e.Result}, {"error", e.Error},
		} {
			if kv[1] != "" {
				fmt.Fprintf(&b, " %s=%s", kv[0], kv[1])
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
