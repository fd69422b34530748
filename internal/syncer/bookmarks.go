package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/xreposync/internal/model"
)

// BookmarkTransactor moves target bookmarks with compare-and-swap
// transactions. A lost race is reported as BookmarkTransactionFailed and
// never retried here.
type BookmarkTransactor struct {
	repo   Repository
	logger *zap.Logger
}

// NewBookmarkTransactor returns a transactor for repo.
func NewBookmarkTransactor(repo Repository, logger *zap.Logger) *BookmarkTransactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookmarkTransactor{repo: repo, logger: logger}
}

// CreateOrMove points bookmark at cs, creating it if needed.
func (t *BookmarkTransactor) CreateOrMove(ctx context.Context, bookmark model.BookmarkKey, cs model.ChangesetID) error {
	current, err := t.repo.GetBookmark(ctx, bookmark)
	if err != nil {
		return fmt.Errorf("read bookmark %s: %w", bookmark, err)
	}
	if current != nil && *current == cs {
		return nil
	}

	txn := t.repo.NewTransaction()
	if current == nil {
		err = txn.Create(bookmark, cs, model.ReasonXRepoSync)
	} else {
		err = txn.Update(bookmark, cs, *current, model.ReasonXRepoSync)
	}
	if err != nil {
		return err
	}
	return t.commit(ctx, txn, bookmark)
}

// Delete removes bookmark. Deleting a bookmark that does not exist only
// logs a warning.
func (t *BookmarkTransactor) Delete(ctx context.Context, bookmark model.BookmarkKey) error {
	current, err := t.repo.GetBookmark(ctx, bookmark)
	if err != nil {
		return fmt.Errorf("read bookmark %s: %w", bookmark, err)
	}
	if current == nil {
		t.logger.Warn("bookmark to delete does not exist",
			zap.Stringer("bookmark", bookmark),
			zap.Stringer("repo", t.repo.ID()),
		)
		return nil
	}

	txn := t.repo.NewTransaction()
	if err := txn.Delete(bookmark, *current, model.ReasonXRepoSync); err != nil {
		return err
	}
	return t.commit(ctx, txn, bookmark)
}

func (t *BookmarkTransactor) commit(ctx context.Context, txn BookmarkTransaction, bookmark model.BookmarkKey) error {
	ok, err := txn.Commit(ctx)
	if err != nil {
		return fmt.Errorf("move bookmark %s: %w", bookmark, err)
	}
	if !ok {
		e := model.NewSyncError(model.ErrCodeBookmarkTransactionFailed,
			"bookmark changed concurrently in repo %s", t.repo.ID())
		e.Bookmark = bookmark
		return e
	}
	return nil
}
