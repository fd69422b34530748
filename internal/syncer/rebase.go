package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/xreposync/internal/model"
)

// GraphRebaser rebases commits by replacing every parent that is already
// an ancestor of the destination with the destination itself.
type GraphRebaser struct {
	repo graphRepo
	now  func() time.Time
}

// NewGraphRebaser returns a rebaser that stores rebased commits in repo.
func NewGraphRebaser(repo graphRepo, now func() time.Time) *GraphRebaser {
	if now == nil {
		now = time.Now
	}
	return &GraphRebaser{repo: repo, now: now}
}

// RebaseOnto stores cs rebased onto the given commit. A commit with no
// parent in the ancestry of onto has no rebase root and is rejected.
func (r *GraphRebaser) RebaseOnto(ctx context.Context, cs *model.Changeset, onto model.ChangesetID, rewriteDates bool) (*model.ChangesetID, error) {
	out := cs.Clone()
	out.Parents = out.Parents[:0]
	replaced := false
	for _, p := range cs.Parents {
		ok, err := r.repo.IsAncestor(ctx, p, onto)
		if err != nil {
			return nil, fmt.Errorf("rebase onto %s: %w", onto.Short(), err)
		}
		if !ok {
			out.Parents = append(out.Parents, p)
			continue
		}
		if !replaced {
			out.Parents = append(out.Parents, onto)
			replaced = true
		}
	}
	if !replaced {
		return nil, fmt.Errorf("rebase onto %s: no parent of the commit is an ancestor of the destination", onto.Short())
	}
	if rewriteDates {
		out.Date = r.now().In(cs.Date.Location()).Truncate(time.Second)
	}

	id, err := r.repo.Store(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("rebase onto %s: %w", onto.Short(), err)
	}
	return &id, nil
}

// SyncCommitPushrebase rewrites a commit whose parents are already synced
// and lands it on top of the target bookmark. The bookmark move and the
// mapping write happen in one transaction. A nil id is returned when no
// new target commit was created.
func (s *Syncer) SyncCommitPushrebase(ctx context.Context, cs model.ChangesetID, bookmark model.BookmarkKey, version model.CommitSyncConfigVersion, rewriteDates bool, opts ...CommitOption) (*model.ChangesetID, error) {
	var o commitOptions
	for _, opt := range opts {
		opt(&o)
	}

	existing, err := s.GetOutcome(ctx, cs)
	if err != nil {
		return nil, fmt.Errorf("pushrebase %s: %w", cs.Short(), err)
	}
	if existing != nil {
		if id, ok := model.RemappedID(existing); ok {
			return &id, nil
		}
		return nil, nil
	}

	source, err := s.source.Load(ctx, cs)
	if err != nil {
		return nil, fmt.Errorf("pushrebase %s: %w", cs.Short(), err)
	}
	rw, err := s.rewrite(ctx, cs, source, version, o)
	if err != nil {
		return nil, err
	}
	key := s.mappingKey(cs)

	if _, ok := rw.outcome.(model.NotSyncCandidate); ok {
		if err := s.mapping.PutOutcome(ctx, model.MappingEntry{MappingKey: key, Outcome: rw.outcome}); err != nil {
			return nil, fmt.Errorf("pushrebase %s: %w", cs.Short(), err)
		}
		return nil, nil
	}

	tip, err := s.target.GetBookmark(ctx, bookmark)
	if err != nil {
		return nil, fmt.Errorf("pushrebase %s: read %s: %w", cs.Short(), bookmark, err)
	}
	if tip == nil {
		e := model.NewSyncError(model.ErrCodeBookmarkTransactionFailed,
			"cannot pushrebase onto missing bookmark in repo %s", s.target.ID())
		e.Changeset, e.Bookmark = cs, bookmark
		return nil, e
	}

	var rebased *model.ChangesetID
	if rw.outcome == nil {
		rebased, err = s.rebaser.RebaseOnto(ctx, rw.changeset, *tip, rewriteDates)
		if err != nil {
			return nil, fmt.Errorf("pushrebase %s: %w", cs.Short(), err)
		}
	}
	if rebased == nil {
		// Empty after rewriting: the tip already has this working copy.
		outcome := model.EquivalentWorkingCopyAncestor{Target: *tip, ConfigVersion: rw.version}
		if err := s.mapping.PutOutcome(ctx, model.MappingEntry{MappingKey: key, Outcome: outcome}); err != nil {
			return nil, fmt.Errorf("pushrebase %s: %w", cs.Short(), err)
		}
		return nil, nil
	}

	txn := s.target.NewTransaction()
	if err := txn.Update(bookmark, *rebased, *tip, model.ReasonPushrebase); err != nil {
		return nil, err
	}
	outcome := model.RewrittenAs{Target: *rebased, ConfigVersion: rw.version}
	if err := txn.RecordOutcome(model.MappingEntry{MappingKey: key, Outcome: outcome}); err != nil {
		return nil, err
	}
	ok, err := txn.Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("pushrebase %s: %w", cs.Short(), err)
	}
	if !ok {
		e := model.NewSyncError(model.ErrCodeBookmarkTransactionFailed,
			"bookmark moved while pushrebasing onto %s", tip.Short())
		e.Changeset, e.Bookmark = cs, bookmark
		return nil, e
	}

	s.logger.Debug("pushrebased commit",
		zap.Stringer("changeset", cs),
		zap.Stringer("bookmark", bookmark),
		zap.Stringer("target", *rebased),
	)
	return rebased, nil
}
