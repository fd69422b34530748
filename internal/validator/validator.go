// Package validator checks that the large repo agrees with the small repos
// synced into it. It reads the large repo's bookmark update log and, for
// every commit an entry brings in, compares the working copy of each small
// repo source, moved into the large repo, with the large working copy
// restricted to the paths of that small repo. It reports mismatches and
// never repairs them.
package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/xreposync/internal/metrics"
	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
	"github.com/roach88/xreposync/internal/tailer"
)

// CounterName is the checkpoint counter of the validator, stored on the
// large repo.
const CounterName = "x_repo_commit_validator"

// maxReported caps the mismatches spelled out in one error message.
const maxReported = 5

// Mapping is the part of the synced commit mapping the validator reads.
type Mapping interface {
	syncer.Mapping
	FindSources(ctx context.Context, targetRepo model.RepositoryID, cs model.ChangesetID) ([]model.MappingEntry, error)
}

// MismatchKind classifies a Mismatch.
type MismatchKind string

const (
	MismatchMissingPath      MismatchKind = "missing_path"
	MismatchExtraPath        MismatchKind = "extra_path"
	MismatchContent          MismatchKind = "content"
	MismatchBookmarkMissing  MismatchKind = "bookmark_missing"
	MismatchBookmarkExtra    MismatchKind = "bookmark_extra"
	MismatchBookmarkValue    MismatchKind = "bookmark_value"
	MismatchBookmarkUnsynced MismatchKind = "bookmark_unsynced"
)

// Mismatch is one disagreement between a small repo and the large repo.
type Mismatch struct {
	Kind      MismatchKind       `json:"kind"`
	SmallRepo model.RepositoryID `json:"small_repo"`

	// Path is set for working copy mismatches, in large repo terms.
	Path string `json:"path,omitempty"`

	// Bookmark is set for bookmark mismatches, in large repo terms.
	Bookmark model.BookmarkKey `json:"bookmark,omitempty"`

	Detail string `json:"detail,omitempty"`
}

func (m Mismatch) String() string {
	subject := m.Path
	if m.Bookmark != "" {
		subject = string(m.Bookmark)
	}
	if m.Detail == "" {
		return fmt.Sprintf("%s %s (small repo %s)", m.Kind, subject, m.SmallRepo)
	}
	return fmt.Sprintf("%s %s (small repo %s): %s", m.Kind, subject, m.SmallRepo, m.Detail)
}

// Validator compares the large repo of a family with its small repos.
type Validator struct {
	large   syncer.Repository
	smalls  map[model.RepositoryID]syncer.Repository
	mapping Mapping
	config  syncer.ConfigSource
	logger  *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// New creates a validator for large and the given small repos. Commits
// synced from repos not listed are not checked.
func New(large syncer.Repository, smalls []syncer.Repository, mapping Mapping, config syncer.ConfigSource, opts ...Option) *Validator {
	v := &Validator{
		large:   large,
		smalls:  make(map[model.RepositoryID]syncer.Repository, len(smalls)),
		mapping: mapping,
		config:  config,
		logger:  zap.NewNop(),
	}
	for _, s := range smalls {
		v.smalls[s.ID()] = s
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ProcessEntry validates every commit that entry added to the bookmark.
// Deletions are not checked. It implements tailer.Processor.
func (v *Validator) ProcessEntry(ctx context.Context, entry model.BookmarkUpdateLogEntry) (tailer.EntryResult, error) {
	res := tailer.EntryResult{Outcome: metrics.ResultValidated, TargetBookmark: entry.BookmarkName}
	if entry.IsDeletion() {
		return res, nil
	}
	var common []model.ChangesetID
	if entry.From != nil {
		common = append(common, *entry.From)
	}
	added, err := v.large.AncestorsDifference(ctx, []model.ChangesetID{*entry.To}, common)
	if err != nil {
		return res, fmt.Errorf("commits added by entry %d: %w", entry.ID, err)
	}

	// Ancestors first, so the first reported mismatch is the oldest.
	for i := len(added) - 1; i >= 0; i-- {
		mismatches, err := v.ValidateCommit(ctx, added[i])
		if err != nil {
			return res, err
		}
		if len(mismatches) > 0 {
			e := MismatchError(mismatches)
			e.Changeset = added[i]
			e.Bookmark = entry.BookmarkName
			return res, e
		}
	}
	v.logger.Debug("validated entry",
		zap.Uint64("entry_id", entry.ID),
		zap.Int("commits", len(added)),
	)
	return res, nil
}

// ValidateCommit checks one large repo commit against every small repo
// commit recorded as synced to it. A commit with no small repo source has
// nothing to check.
func (v *Validator) ValidateCommit(ctx context.Context, cs model.ChangesetID) ([]Mismatch, error) {
	sources, err := v.mapping.FindSources(ctx, v.large.ID(), cs)
	if err != nil {
		return nil, fmt.Errorf("sources of %s: %w", cs.Short(), err)
	}

	var largeWC WorkingCopy
	var out []Mismatch
	for _, src := range sources {
		small, ok := v.smalls[src.SourceRepo]
		if !ok {
			continue
		}
		if largeWC == nil {
			if largeWC, err = LoadWorkingCopy(ctx, v.large, cs); err != nil {
				return nil, err
			}
		}
		m, err := v.compare(ctx, small, src, largeWC)
		if err != nil {
			return nil, err
		}
		out = append(out, m...)
	}
	return out, nil
}

func (v *Validator) compare(ctx context.Context, small syncer.Repository, src model.MappingEntry, largeWC WorkingCopy) ([]Mismatch, error) {
	resolved, err := v.config.Resolve(src.Outcome.Version(), small.ID(), v.large.ID())
	if err != nil {
		return nil, err
	}
	smallWC, err := LoadWorkingCopy(ctx, small, src.SourceChangeset)
	if err != nil {
		return nil, err
	}

	expected := make(WorkingCopy, len(smallWC))
	for p, fc := range smallWC {
		if fc.Kind == model.FileSubmodule && resolved.SubmoduleAction == model.SubmoduleStrip {
			continue
		}
		if moved, ok := resolved.Mover(p); ok {
			expected[moved] = fc
		}
	}
	actual := make(WorkingCopy)
	for p, fc := range largeWC {
		if _, ok := resolved.ReverseMover(p); ok {
			actual[p] = fc
		}
	}

	var out []Mismatch
	for p, want := range expected {
		got, ok := actual[p]
		switch {
		case !ok:
			out = append(out, Mismatch{Kind: MismatchMissingPath, SmallRepo: small.ID(), Path: p})
		case got != want:
			detail := "content differs"
			if got.Kind != want.Kind {
				detail = fmt.Sprintf("small has a %s file, large has a %s file", want.Kind, got.Kind)
			}
			out = append(out, Mismatch{Kind: MismatchContent, SmallRepo: small.ID(), Path: p, Detail: detail})
		}
	}
	for p := range actual {
		if _, ok := expected[p]; !ok {
			out = append(out, Mismatch{Kind: MismatchExtraPath, SmallRepo: small.ID(), Path: p})
		}
	}
	sortMismatches(out)
	return out, nil
}

// ValidateBookmarks compares the bookmarks of one small repo with their
// large repo images. A shared bookmark may be ahead in the large repo; any
// other must point exactly at the copy of the small repo value.
func (v *Validator) ValidateBookmarks(ctx context.Context, smallID model.RepositoryID) ([]Mismatch, error) {
	small, ok := v.smalls[smallID]
	if !ok {
		return nil, fmt.Errorf("small repo %s is not validated", smallID)
	}
	toLarge, err := v.config.BookmarkRenamer(smallID, v.large.ID())
	if err != nil {
		return nil, err
	}
	toSmall, err := v.config.BookmarkRenamer(v.large.ID(), smallID)
	if err != nil {
		return nil, err
	}
	smallBookmarks, err := small.ListBookmarks(ctx)
	if err != nil {
		return nil, err
	}
	largeBookmarks, err := v.large.ListBookmarks(ctx)
	if err != nil {
		return nil, err
	}

	var out []Mismatch
	for name, value := range smallBookmarks {
		largeName, ok := toLarge(name)
		if !ok {
			continue
		}
		m, err := v.compareBookmark(ctx, smallID, largeName, value, largeBookmarks)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	for largeName := range largeBookmarks {
		if v.config.IsCommonPushrebaseBookmark(largeName) {
			continue
		}
		name, ok := toSmall(largeName)
		if !ok {
			continue
		}
		if _, exists := smallBookmarks[name]; !exists {
			out = append(out, Mismatch{Kind: MismatchBookmarkExtra, SmallRepo: smallID, Bookmark: largeName})
		}
	}
	sortMismatches(out)
	return out, nil
}

func (v *Validator) compareBookmark(ctx context.Context, smallID model.RepositoryID, largeName model.BookmarkKey, value model.ChangesetID, largeBookmarks map[model.BookmarkKey]model.ChangesetID) (*Mismatch, error) {
	outcome, err := v.mapping.GetOutcome(ctx, model.MappingKey{SourceRepo: smallID, SourceChangeset: value, TargetRepo: v.large.ID()})
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		return &Mismatch{Kind: MismatchBookmarkUnsynced, SmallRepo: smallID, Bookmark: largeName,
			Detail: fmt.Sprintf("%s has no sync outcome", value.Short())}, nil
	}
	remapped, ok := model.RemappedID(outcome)
	if !ok {
		return nil, nil
	}
	largeValue, exists := largeBookmarks[largeName]
	if !exists {
		return &Mismatch{Kind: MismatchBookmarkMissing, SmallRepo: smallID, Bookmark: largeName}, nil
	}
	if largeValue == remapped {
		return nil, nil
	}
	if v.config.IsCommonPushrebaseBookmark(largeName) {
		ahead, err := v.large.IsAncestor(ctx, remapped, largeValue)
		if err != nil {
			return nil, err
		}
		if ahead {
			return nil, nil
		}
	}
	return &Mismatch{Kind: MismatchBookmarkValue, SmallRepo: smallID, Bookmark: largeName,
		Detail: fmt.Sprintf("expected %s, large has %s", remapped.Short(), largeValue.Short())}, nil
}

// Once validates a single entry of log by id.
func (v *Validator) Once(ctx context.Context, log syncer.BookmarkUpdateLog, id uint64) error {
	if id == 0 {
		return fmt.Errorf("bookmark update log entry ids start at 1")
	}
	entries, err := log.ReadNextEntries(ctx, id-1, 1)
	if err != nil {
		return err
	}
	if len(entries) == 0 || entries[0].ID != id {
		return fmt.Errorf("no entry %d in the log of repo %s", id, v.large.ID())
	}
	_, err = v.ProcessEntry(ctx, entries[0])
	return err
}

// NewTailer returns a tailer that validates log, the bookmark update log of
// the large repo, and checkpoints in CounterName on the large repo.
func (v *Validator) NewTailer(log syncer.BookmarkUpdateLog, counters syncer.Counters, cfg tailer.Config, opts ...tailer.Option) *tailer.Tailer {
	checkpoint := tailer.Checkpoint{Repo: v.large.ID(), Name: CounterName}
	opts = append([]tailer.Option{tailer.WithFields(zap.Stringer("large_repo", v.large.ID()))}, opts...)
	return tailer.New(v, log, counters, checkpoint, cfg, opts...)
}

// MismatchError wraps mismatches in a ValidationMismatch error.
func MismatchError(mismatches []Mismatch) *model.SyncError {
	shown := mismatches
	if len(shown) > maxReported {
		shown = shown[:maxReported]
	}
	parts := make([]string, len(shown))
	for i, m := range shown {
		parts[i] = m.String()
	}
	msg := strings.Join(parts, "; ")
	if extra := len(mismatches) - len(shown); extra > 0 {
		msg += fmt.Sprintf("; and %d more", extra)
	}
	return model.NewSyncError(model.ErrCodeValidationMismatch, "%d mismatches: %s", len(mismatches), msg).
		WithDetail("mismatches", fmt.Sprint(len(mismatches)))
}

func sortMismatches(ms []Mismatch) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.SmallRepo != b.SmallRepo {
			return a.SmallRepo < b.SmallRepo
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Bookmark != b.Bookmark {
			return a.Bookmark < b.Bookmark
		}
		return a.Kind < b.Kind
	})
}
