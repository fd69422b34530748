package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncconfig"
)

// Syncer syncs commits and bookmark moves from a source repository into a
// target repository.
//
// Thread-safety: a Syncer holds no mutable state of its own. Running two
// Syncers for the same pair concurrently is safe as far as the mapping and
// bookmark CAS go, but entries should be fed by a single tailer so that
// they are applied in log order.
type Syncer struct {
	source    Repository
	target    Repository
	mapping   Mapping
	config    ConfigSource
	ancestors AncestorResolver
	rebaser   Rebaser
	logger    *zap.Logger
	now       func() time.Time

	pushrebaseRewriteDates bool
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithClock sets the time source used when pushrebase rewrites dates.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithAncestorResolver replaces the mapping based ancestor walk.
func WithAncestorResolver(r AncestorResolver) Option {
	return func(s *Syncer) { s.ancestors = r }
}

// WithRebaser replaces the commit graph based rebaser.
func WithRebaser(r Rebaser) Option {
	return func(s *Syncer) { s.rebaser = r }
}

// WithPushrebaseRewriteDates makes pushrebased commits take the current
// time as their date.
func WithPushrebaseRewriteDates(rewrite bool) Option {
	return func(s *Syncer) { s.pushrebaseRewriteDates = rewrite }
}

// New creates a Syncer for the (source, target) pair.
func New(source, target Repository, mapping Mapping, config ConfigSource, opts ...Option) *Syncer {
	s := &Syncer{
		source:  source,
		target:  target,
		mapping: mapping,
		config:  config,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ancestors == nil {
		s.ancestors = NewMappingAncestorResolver(source, target.ID(), mapping)
	}
	if s.rebaser == nil {
		s.rebaser = NewGraphRebaser(target, s.now)
	}
	return s
}

// Source returns the source repository.
func (s *Syncer) Source() Repository { return s.source }

// Target returns the target repository.
func (s *Syncer) Target() Repository { return s.target }

// CommitOption adjusts a single SyncCommit call.
type CommitOption func(*commitOptions)

type commitOptions struct {
	verifiedMerge bool
}

// WithVerifiedMerge tells SyncCommit that the caller has checked that a
// merge commit is safe to sync directly. Without it merges are rejected.
func WithVerifiedMerge() CommitOption {
	return func(o *commitOptions) { o.verifiedMerge = true }
}

func (s *Syncer) mappingKey(cs model.ChangesetID) model.MappingKey {
	return model.MappingKey{
		SourceRepo:      s.source.ID(),
		SourceChangeset: cs,
		TargetRepo:      s.target.ID(),
	}
}

// GetOutcome returns the recorded outcome of a source commit, or nil.
func (s *Syncer) GetOutcome(ctx context.Context, cs model.ChangesetID) (model.CommitSyncOutcome, error) {
	return s.mapping.GetOutcome(ctx, s.mappingKey(cs))
}

// SyncCommit syncs one commit whose parents are already synced, writing
// the rewritten commit to the target and recording the outcome. version
// may be empty, in which case it is taken from the parents (or the current
// version for roots). A commit that already has an outcome is returned as
// is.
func (s *Syncer) SyncCommit(ctx context.Context, cs model.ChangesetID, version model.CommitSyncConfigVersion, opts ...CommitOption) (model.CommitSyncOutcome, error) {
	var o commitOptions
	for _, opt := range opts {
		opt(&o)
	}

	existing, err := s.GetOutcome(ctx, cs)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", cs.Short(), err)
	}
	if existing != nil {
		return existing, nil
	}

	source, err := s.source.Load(ctx, cs)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", cs.Short(), err)
	}
	rw, err := s.rewrite(ctx, cs, source, version, o)
	if err != nil {
		return nil, err
	}

	outcome := rw.outcome
	if outcome == nil {
		id, err := s.target.Store(ctx, rw.changeset)
		if err != nil {
			return nil, fmt.Errorf("sync %s: store in target: %w", cs.Short(), err)
		}
		outcome = model.RewrittenAs{Target: id, ConfigVersion: rw.version}
	}
	if err := s.mapping.PutOutcome(ctx, model.MappingEntry{MappingKey: s.mappingKey(cs), Outcome: outcome}); err != nil {
		return nil, fmt.Errorf("sync %s: %w", cs.Short(), err)
	}

	s.logger.Debug("synced commit",
		zap.Stringer("changeset", cs),
		zap.Stringer("outcome", outcome),
	)
	return outcome, nil
}

// rewriteResult is a source commit prepared for the target. Exactly one
// of changeset and outcome is set: outcome when the commit needs no new
// target commit.
type rewriteResult struct {
	version   model.CommitSyncConfigVersion
	changeset *model.Changeset
	outcome   model.CommitSyncOutcome
}

func (s *Syncer) rewrite(ctx context.Context, id model.ChangesetID, cs *model.Changeset, version model.CommitSyncConfigVersion, o commitOptions) (*rewriteResult, error) {
	switch len(cs.Parents) {
	case 0:
		return s.rewriteRoot(id, cs, version)
	case 1:
		return s.rewriteSingleParent(ctx, id, cs, version)
	case 2:
		if !o.verifiedMerge {
			return nil, model.MergeAmbiguousAncestor(id)
		}
		return s.rewriteMerge(ctx, id, cs, version)
	default:
		return nil, model.UnsupportedMergeArity(id, len(cs.Parents))
	}
}

func (s *Syncer) rewriteRoot(id model.ChangesetID, cs *model.Changeset, version model.CommitSyncConfigVersion) (*rewriteResult, error) {
	if version == "" {
		current, ok := s.config.CurrentVersion()
		if !ok {
			return nil, model.UnknownSyncVersion(id, "root commit and no current version configured")
		}
		version = current
	}
	resolved, err := s.config.Resolve(version, s.source.ID(), s.target.ID())
	if err != nil {
		return nil, err
	}
	rewritten, err := rewriteChangeset(id, cs, resolved, nil)
	if err != nil {
		return nil, err
	}
	if len(cs.FileChanges) > 0 && len(rewritten.FileChanges) == 0 {
		return &rewriteResult{version: version, outcome: model.NotSyncCandidate{ConfigVersion: version}}, nil
	}
	return &rewriteResult{version: version, changeset: rewritten}, nil
}

func (s *Syncer) rewriteSingleParent(ctx context.Context, id model.ChangesetID, cs *model.Changeset, version model.CommitSyncConfigVersion) (*rewriteResult, error) {
	parent := cs.Parents[0]
	parentOutcome, err := s.GetOutcome(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("sync %s: parent outcome: %w", id.Short(), err)
	}
	if parentOutcome == nil {
		if version == "" {
			return nil, model.UnknownSyncVersion(id, "parent "+parent.Short()+" is not synced")
		}
		return nil, parentNotSynced(id, parent)
	}
	version, err = agreeOnVersion(id, version, parentOutcome)
	if err != nil {
		return nil, err
	}

	parentTarget, ok := model.RemappedID(parentOutcome)
	if !ok {
		return &rewriteResult{version: version, outcome: model.NotSyncCandidate{ConfigVersion: version}}, nil
	}

	resolved, err := s.config.Resolve(version, s.source.ID(), s.target.ID())
	if err != nil {
		return nil, err
	}
	rewritten, err := rewriteChangeset(id, cs, resolved, []model.ChangesetID{parentTarget})
	if err != nil {
		return nil, err
	}
	if len(cs.FileChanges) > 0 && len(rewritten.FileChanges) == 0 {
		return &rewriteResult{
			version: version,
			outcome: model.EquivalentWorkingCopyAncestor{Target: parentTarget, ConfigVersion: version},
		}, nil
	}
	return &rewriteResult{version: version, changeset: rewritten}, nil
}

// rewriteMerge always produces a target commit, even when the rewritten
// merge has no file changes.
func (s *Syncer) rewriteMerge(ctx context.Context, id model.ChangesetID, cs *model.Changeset, version model.CommitSyncConfigVersion) (*rewriteResult, error) {
	var parents []model.ChangesetID
	seen := make(map[model.ChangesetID]bool, len(cs.Parents))
	for _, p := range cs.Parents {
		outcome, err := s.GetOutcome(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("sync %s: parent outcome: %w", id.Short(), err)
		}
		if outcome == nil {
			return nil, parentNotSynced(id, p)
		}
		if version, err = agreeOnVersion(id, version, outcome); err != nil {
			return nil, err
		}
		if target, ok := model.RemappedID(outcome); ok && !seen[target] {
			seen[target] = true
			parents = append(parents, target)
		}
	}
	if len(parents) == 0 {
		return &rewriteResult{version: version, outcome: model.NotSyncCandidate{ConfigVersion: version}}, nil
	}

	resolved, err := s.config.Resolve(version, s.source.ID(), s.target.ID())
	if err != nil {
		return nil, err
	}
	rewritten, err := rewriteChangeset(id, cs, resolved, parents)
	if err != nil {
		return nil, err
	}
	return &rewriteResult{version: version, changeset: rewritten}, nil
}

// agreeOnVersion returns the version of a parent outcome, failing if the
// caller asked for a different one.
func agreeOnVersion(id model.ChangesetID, want model.CommitSyncConfigVersion, parent model.CommitSyncOutcome) (model.CommitSyncConfigVersion, error) {
	got := parent.Version()
	if want != "" && want != got {
		e := model.NewSyncError(model.ErrCodeAmbiguousSyncVersion,
			"parents synced with version %s, asked to sync with %s", got, want)
		e.Changeset = id
		return "", e
	}
	return got, nil
}

func parentNotSynced(id, parent model.ChangesetID) error {
	e := model.NewSyncError(model.ErrCodeParentNotSynced, "parent %s has no sync outcome", parent.Short())
	e.Changeset = id
	return e.WithDetail("parent", string(parent))
}

// rewriteChangeset moves every file change of cs with the resolved mover
// and applies the submodule policy. Changes the mover drops are omitted.
func rewriteChangeset(id model.ChangesetID, cs *model.Changeset, resolved *syncconfig.Resolved, parents []model.ChangesetID) (*model.Changeset, error) {
	out := cs.Clone()
	out.Parents = parents
	out.FileChanges = make(map[string]model.FileChange, len(cs.FileChanges))

	movedFrom := make(map[string]string, len(cs.FileChanges))
	for _, p := range cs.SortedPaths() {
		fc := cs.FileChanges[p]
		if fc.Kind == model.FileSubmodule {
			switch resolved.SubmoduleAction {
			case model.SubmoduleStrip:
				continue
			case model.SubmoduleDeny:
				e := model.NewSyncError(model.ErrCodeSubmoduleChangeDenied,
					"submodule change at %q is denied for repo %s", p, resolved.SmallRepo)
				e.Changeset = id
				return nil, e
			}
		}
		moved, ok := resolved.Mover(p)
		if !ok {
			continue
		}
		if prev, dup := movedFrom[moved]; dup {
			e := model.InvalidConfiguration("paths %q and %q both move to %q under version %s", prev, p, moved, resolved.Version)
			e.Changeset = id
			return nil, e
		}
		movedFrom[moved] = p
		out.FileChanges[moved] = fc
	}
	return out, nil
}
