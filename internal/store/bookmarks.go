package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
)

var (
	_ syncer.Bookmarks         = (*Repo)(nil)
	_ syncer.BookmarkUpdateLog = (*Repo)(nil)
	_ syncer.CommitGraph       = (*Repo)(nil)
	_ syncer.Blobstore         = (*Repo)(nil)
	_ syncer.Repository        = (*Repo)(nil)
)

// GetBookmark returns the current value of a bookmark, or nil if it does
// not exist.
func (r *Repo) GetBookmark(ctx context.Context, name model.BookmarkKey) (*model.ChangesetID, error) {
	return getBookmarkTx(ctx, r.store.db, r.id, name)
}

// ListBookmarks returns every bookmark of the repo.
func (r *Repo) ListBookmarks(ctx context.Context) (map[model.BookmarkKey]model.ChangesetID, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT name, cs_id FROM bookmarks
		WHERE repo_id = ?
		ORDER BY name COLLATE BINARY ASC
	`, r.id)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	out := make(map[model.BookmarkKey]model.ChangesetID)
	for rows.Next() {
		var name, cs string
		if err := rows.Scan(&name, &cs); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		out[model.BookmarkKey(name)] = model.ChangesetID(cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmarks: %w", err)
	}
	return out, nil
}

// NewTransaction starts staging bookmark moves. Nothing is written until
// Commit.
func (r *Repo) NewTransaction() syncer.BookmarkTransaction {
	return &BookmarkTransaction{repo: r}
}

type bookmarkOpKind int

const (
	opCreate bookmarkOpKind = iota + 1
	opUpdate
	opDelete
)

type bookmarkOp struct {
	kind   bookmarkOpKind
	name   model.BookmarkKey
	from   *model.ChangesetID
	to     *model.ChangesetID
	reason model.BookmarkUpdateReason
}

// BookmarkTransaction is a compare-and-swap batch of bookmark moves plus
// mapping writes. Either every staged change lands or none does.
type BookmarkTransaction struct {
	repo     *Repo
	ops      []bookmarkOp
	outcomes []model.MappingEntry
}

func (t *BookmarkTransaction) stage(op bookmarkOp) error {
	for _, existing := range t.ops {
		if existing.name == op.name {
			return fmt.Errorf("bookmark %s is already part of this transaction", op.name)
		}
	}
	t.ops = append(t.ops, op)
	return nil
}

// Create stages the creation of a bookmark that must not exist yet.
func (t *BookmarkTransaction) Create(name model.BookmarkKey, to model.ChangesetID, reason model.BookmarkUpdateReason) error {
	return t.stage(bookmarkOp{kind: opCreate, name: name, to: &to, reason: reason})
}

// Update stages moving a bookmark that must currently point at from.
func (t *BookmarkTransaction) Update(name model.BookmarkKey, to, from model.ChangesetID, reason model.BookmarkUpdateReason) error {
	return t.stage(bookmarkOp{kind: opUpdate, name: name, from: &from, to: &to, reason: reason})
}

// Delete stages deleting a bookmark that must currently point at from.
func (t *BookmarkTransaction) Delete(name model.BookmarkKey, from model.ChangesetID, reason model.BookmarkUpdateReason) error {
	return t.stage(bookmarkOp{kind: opDelete, name: name, from: &from, reason: reason})
}

// RecordOutcome stages a mapping write to be applied with the moves.
func (t *BookmarkTransaction) RecordOutcome(entry model.MappingEntry) error {
	if entry.Outcome == nil {
		return fmt.Errorf("record outcome for %s: nil outcome", entry.SourceChangeset.Short())
	}
	t.outcomes = append(t.outcomes, entry)
	return nil
}

// Commit applies the staged changes. It returns false without error when
// a bookmark no longer has its expected value. A conflicting mapping write
// is an error and also rolls back the bookmark moves.
func (t *BookmarkTransaction) Commit(ctx context.Context) (bool, error) {
	db := t.repo.store.db
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("bookmark transaction: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	ts := t.repo.store.now().UnixNano()
	for _, op := range t.ops {
		current, err := getBookmarkTx(ctx, tx, t.repo.id, op.name)
		if err != nil {
			return false, err
		}
		if !casMatches(op, current) {
			return false, nil
		}
		if op.to != nil {
			if _, err := generationTx(ctx, tx, t.repo.id, *op.to); err != nil {
				return false, fmt.Errorf("bookmark %s: %w", op.name, err)
			}
		}
		if err := applyBookmarkOp(ctx, tx, t.repo.id, op); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bookmark_update_log (repo_id, name, from_cs, to_cs, reason, ts)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.repo.id, string(op.name), nullableID(op.from), nullableID(op.to), string(op.reason), ts); err != nil {
			return false, fmt.Errorf("bookmark %s: append log entry: %w", op.name, err)
		}
	}

	for _, entry := range t.outcomes {
		if err := putOutcomeTx(ctx, tx, entry); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("bookmark transaction: commit: %w", err)
	}
	return true, nil
}

func casMatches(op bookmarkOp, current *model.ChangesetID) bool {
	switch op.kind {
	case opCreate:
		return current == nil
	case opUpdate, opDelete:
		return current != nil && *current == *op.from
	default:
		panic(fmt.Sprintf("unknown bookmark op %d", op.kind))
	}
}

func applyBookmarkOp(ctx context.Context, tx *sql.Tx, repo model.RepositoryID, op bookmarkOp) error {
	var err error
	switch op.kind {
	case opCreate:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bookmarks (repo_id, name, cs_id) VALUES (?, ?, ?)
		`, repo, string(op.name), string(*op.to))
	case opUpdate:
		_, err = tx.ExecContext(ctx, `
			UPDATE bookmarks SET cs_id = ? WHERE repo_id = ? AND name = ?
		`, string(*op.to), repo, string(op.name))
	case opDelete:
		_, err = tx.ExecContext(ctx, `
			DELETE FROM bookmarks WHERE repo_id = ? AND name = ?
		`, repo, string(op.name))
	}
	if err != nil {
		return fmt.Errorf("bookmark %s: %w", op.name, err)
	}
	return nil
}

func getBookmarkTx(ctx context.Context, q queryer, repo model.RepositoryID, name model.BookmarkKey) (*model.ChangesetID, error) {
	var cs string
	err := q.QueryRowContext(ctx, `
		SELECT cs_id FROM bookmarks WHERE repo_id = ? AND name = ?
	`, repo, string(name)).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bookmark %s: %w", name, err)
	}
	return model.ChangesetIDPtr(model.ChangesetID(cs)), nil
}
