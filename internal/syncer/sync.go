package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/xreposync/internal/model"
)

// ResultKind says what SyncCommitAndAncestors did.
type ResultKind int

const (
	// Synced means the commits were synced and the bookmark, if any, moved.
	Synced ResultKind = iota + 1
	// SkippedNoKnownVersion means no ancestor of the head has a sync
	// outcome, so there is no version to sync with. Nothing was written.
	SkippedNoKnownVersion
)

func (k ResultKind) String() string {
	switch k {
	case Synced:
		return "synced"
	case SkippedNoKnownVersion:
		return "skipped_no_known_version"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// SyncResult reports the target commits produced for one bookmark move,
// ancestors first.
type SyncResult struct {
	Kind        ResultKind
	Changesets  []model.ChangesetID
	Direct      int
	Pushrebased int

	// TargetBookmark is the renamed bookmark, set when syncing a log entry.
	TargetBookmark model.BookmarkKey
}

// SyncSingleBookmarkUpdateLogEntry replays one source bookmark movement in
// the target repository.
func (s *Syncer) SyncSingleBookmarkUpdateLogEntry(ctx context.Context, entry model.BookmarkUpdateLogEntry) (*SyncResult, error) {
	renamer, err := s.config.BookmarkRenamer(s.source.ID(), s.target.ID())
	if err != nil {
		return nil, err
	}
	target, ok := renamer(entry.BookmarkName)
	if !ok || target == "" {
		e := model.NewSyncError(model.ErrCodeEmptyBookmarkRename, "unexpected empty bookmark rename")
		e.Bookmark = entry.BookmarkName
		return nil, e
	}

	if entry.IsDeletion() {
		if s.config.IsCommonPushrebaseBookmark(entry.BookmarkName) || s.config.IsCommonPushrebaseBookmark(target) {
			e := model.NewSyncError(model.ErrCodeUnexpectedSharedBookmarkDeletion,
				"unexpected deletion of a shared bookmark")
			e.Bookmark = entry.BookmarkName
			return nil, e
		}
		if err := NewBookmarkTransactor(s.target, s.logger).Delete(ctx, target); err != nil {
			return nil, err
		}
		return &SyncResult{Kind: Synced, TargetBookmark: target}, nil
	}

	res, err := s.SyncCommitAndAncestors(ctx, entry.From, *entry.To, &target)
	if err != nil {
		return nil, err
	}
	res.TargetBookmark = target
	return res, nil
}

// SyncCommitAndAncestors syncs to and every unsynced ancestor of it, then
// moves targetBookmark (if not nil) to the result. from is the previous
// source position of the bookmark and is only used to reject non-forward
// moves of shared bookmarks.
func (s *Syncer) SyncCommitAndAncestors(ctx context.Context, from *model.ChangesetID, to model.ChangesetID, targetBookmark *model.BookmarkKey) (*SyncResult, error) {
	unsynced, versions, err := s.ancestors.FindToposortedUnsyncedAncestors(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("find unsynced ancestors of %s: %w", to.Short(), err)
	}
	if !versions.HasKnownOutcome() {
		s.logger.Info("no ancestor has a known sync version, skipping",
			zap.Stringer("changeset", to),
			zap.Int("unsynced", len(unsynced)),
		)
		return &SyncResult{Kind: SkippedNoKnownVersion}, nil
	}
	version, ok, err := versions.OnlyVersion()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.UnknownSyncVersion(to, "every synced ancestor is NotSyncCandidate")
	}

	if targetBookmark != nil && s.config.IsCommonPushrebaseBookmark(*targetBookmark) {
		if from != nil {
			if err := s.checkForwardMove(ctx, *from, to, *targetBookmark); err != nil {
				return nil, err
			}
		}
		return s.syncViaPushrebase(ctx, unsynced, *targetBookmark, version)
	}

	res := &SyncResult{Kind: Synced}
	for _, cs := range unsynced {
		outcome, err := s.syncDirect(ctx, cs, version)
		if err != nil {
			return nil, err
		}
		if id, ok := model.RemappedID(outcome); ok {
			res.Changesets = append(res.Changesets, id)
		}
		res.Direct++
	}

	if targetBookmark != nil {
		head, err := s.findRemapped(ctx, to)
		if err != nil {
			return nil, err
		}
		if err := NewBookmarkTransactor(s.target, s.logger).CreateOrMove(ctx, *targetBookmark, head); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// InitialImport syncs head and all its unsynced ancestors with an explicit
// version. No bookmark is moved. Every imported commit must end up with a
// target commit; a NotSyncCandidate outcome anywhere fails the import.
func (s *Syncer) InitialImport(ctx context.Context, head model.ChangesetID, version model.CommitSyncConfigVersion) (*SyncResult, error) {
	unsynced, _, err := s.ancestors.FindToposortedUnsyncedAncestors(ctx, head)
	if err != nil {
		return nil, fmt.Errorf("find unsynced ancestors of %s: %w", head.Short(), err)
	}
	res := &SyncResult{Kind: Synced}
	for _, cs := range unsynced {
		outcome, err := s.syncDirect(ctx, cs, version)
		if err != nil {
			return nil, err
		}
		id, ok := model.RemappedID(outcome)
		if !ok {
			return nil, notImported(head, cs, outcome)
		}
		res.Changesets = append(res.Changesets, id)
		res.Direct++
	}
	if len(unsynced) == 0 {
		outcome, err := s.GetOutcome(ctx, head)
		if err != nil {
			return nil, err
		}
		if outcome == nil {
			return nil, fmt.Errorf("initial import: %s has no sync outcome", head.Short())
		}
		if _, ok := model.RemappedID(outcome); !ok {
			return nil, notImported(head, head, outcome)
		}
	}
	return res, nil
}

func notImported(head, cs model.ChangesetID, outcome model.CommitSyncOutcome) error {
	var e *model.SyncError
	if cs == head {
		e = model.InvalidConfiguration("head changeset wasn't synced: %s", outcome)
	} else {
		e = model.InvalidConfiguration("failed to sync ancestor commit %s: %s", cs.Short(), outcome)
	}
	e.Changeset = cs
	return e
}

func (s *Syncer) checkForwardMove(ctx context.Context, from, to model.ChangesetID, bookmark model.BookmarkKey) error {
	ok, err := s.source.IsAncestor(ctx, from, to)
	if err != nil {
		return fmt.Errorf("check forward move of %s: %w", bookmark, err)
	}
	if !ok {
		e := model.NewSyncError(model.ErrCodeNonForwardMoveRejected,
			"non-forward moves of shared bookmarks are not allowed: %s is not an ancestor", from.Short())
		e.Changeset, e.Bookmark = to, bookmark
		return e
	}
	return nil
}

// syncViaPushrebase first walks the commits descendants first and marks
// the new branches brought in by merges, then lands the commits ancestors
// first: marked ones directly, the rest by pushrebase.
func (s *Syncer) syncViaPushrebase(ctx context.Context, unsynced []model.ChangesetID, bookmark model.BookmarkKey, version model.CommitSyncConfigVersion) (*SyncResult, error) {
	noPushrebase := make(map[model.ChangesetID]bool)
	for i := len(unsynced) - 1; i >= 0; i-- {
		id := unsynced[i]
		if noPushrebase[id] {
			// Merges inside an imported branch are synced as is.
			continue
		}
		cs, err := s.source.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id.Short(), err)
		}
		switch n := len(cs.Parents); {
		case n > 2:
			return nil, model.UnsupportedMergeArity(id, n)
		case n == 2:
			branch, err := ValidateNewRepoMerge(ctx, s.source, id, cs.Parents[0], cs.Parents[1])
			if err != nil {
				return nil, err
			}
			for _, b := range branch {
				noPushrebase[b] = true
			}
		}
	}

	res := &SyncResult{Kind: Synced}
	for _, id := range unsynced {
		if noPushrebase[id] {
			outcome, err := s.syncDirect(ctx, id, version)
			if err != nil {
				return nil, err
			}
			if target, ok := model.RemappedID(outcome); ok {
				res.Changesets = append(res.Changesets, target)
			}
			res.Direct++
			continue
		}
		rebased, err := s.SyncCommitPushrebase(ctx, id, bookmark, version, s.pushrebaseRewriteDates, WithVerifiedMerge())
		if err != nil {
			return nil, err
		}
		if rebased != nil {
			res.Changesets = append(res.Changesets, *rebased)
		}
		res.Pushrebased++
	}
	return res, nil
}

// syncDirect syncs one commit without rebasing. Merges are only synced
// when their target parents share no history with any shared bookmark.
func (s *Syncer) syncDirect(ctx context.Context, id model.ChangesetID, version model.CommitSyncConfigVersion) (model.CommitSyncOutcome, error) {
	cs, err := s.source.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id.Short(), err)
	}
	var opts []CommitOption
	if cs.IsMerge() {
		if len(cs.Parents) > 2 {
			return nil, model.UnsupportedMergeArity(id, len(cs.Parents))
		}
		if err := s.checkMergeAgainstSharedBookmarks(ctx, id, cs); err != nil {
			return nil, err
		}
		opts = append(opts, WithVerifiedMerge())
	}
	return s.SyncCommit(ctx, id, version, opts...)
}

func (s *Syncer) checkMergeAgainstSharedBookmarks(ctx context.Context, id model.ChangesetID, cs *model.Changeset) error {
	var values []model.ChangesetID
	for _, b := range s.config.CommonPushrebaseBookmarks() {
		v, err := s.target.GetBookmark(ctx, b)
		if err != nil {
			return fmt.Errorf("read shared bookmark %s: %w", b, err)
		}
		if v != nil {
			values = append(values, *v)
		}
	}

	var parents []model.ChangesetID
	for _, p := range cs.Parents {
		outcome, err := s.GetOutcome(ctx, p)
		if err != nil {
			return fmt.Errorf("sync %s: parent outcome: %w", id.Short(), err)
		}
		if outcome == nil {
			return parentNotSynced(id, p)
		}
		if target, ok := model.RemappedID(outcome); ok {
			parents = append(parents, target)
		}
	}
	if len(parents) == 0 {
		return nil
	}

	_, ok, err := CheckIfIndependentBranch(ctx, s.target, parents, values)
	if err != nil {
		return err
	}
	if !ok {
		e := model.NewSyncError(model.ErrCodeMergeCollidesWithSharedBookmark,
			"cannot sync merge commit - one of its ancestors is an ancestor of a common pushrebase bookmark")
		e.Changeset = id
		return e
	}
	return nil
}

// findRemapped returns the target commit of a synced source commit.
func (s *Syncer) findRemapped(ctx context.Context, cs model.ChangesetID) (model.ChangesetID, error) {
	outcome, err := s.GetOutcome(ctx, cs)
	if err != nil {
		return "", err
	}
	if outcome == nil {
		e := model.NewSyncError(model.ErrCodeParentNotSynced, "commit has no sync outcome after syncing its ancestors")
		e.Changeset = cs
		return "", e
	}
	id, ok := model.RemappedID(outcome)
	if !ok {
		e := model.InvalidConfiguration("bookmark target %s is not a sync candidate under version %s",
			cs.Short(), outcome.Version())
		e.Changeset = cs
		return "", e
	}
	return id, nil
}
