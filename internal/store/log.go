package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/xreposync/internal/model"
)

// ReadNextEntries returns up to limit log entries of this repo with an id
// greater than afterID, in increasing id order.
func (r *Repo) ReadNextEntries(ctx context.Context, afterID uint64, limit int) ([]model.BookmarkUpdateLogEntry, error) {
	if limit <= 0 {
		return []model.BookmarkUpdateLogEntry{}, nil
	}
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, name, from_cs, to_cs, reason, ts
		FROM bookmark_update_log
		WHERE repo_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, r.id, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bookmark update log: %w", err)
	}
	defer rows.Close()

	entries := []model.BookmarkUpdateLogEntry{}
	for rows.Next() {
		var (
			e        model.BookmarkUpdateLogEntry
			name     string
			from, to sql.NullString
			reason   string
			ts       int64
		)
		if err := rows.Scan(&e.ID, &name, &from, &to, &reason, &ts); err != nil {
			return nil, fmt.Errorf("scan bookmark update log entry: %w", err)
		}
		e.RepoID = r.id
		e.BookmarkName = model.BookmarkKey(name)
		e.From = idFromNull(from)
		e.To = idFromNull(to)
		e.Reason = model.BookmarkUpdateReason(reason)
		e.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmark update log: %w", err)
	}
	return entries, nil
}

// LastEntryID returns the id of the newest log entry of this repo, or 0
// if the log is empty.
func (r *Repo) LastEntryID(ctx context.Context) (uint64, error) {
	var id sql.NullInt64
	err := r.store.db.QueryRowContext(ctx, `
		SELECT MAX(id) FROM bookmark_update_log WHERE repo_id = ?
	`, r.id).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("last bookmark update log entry: %w", err)
	}
	if !id.Valid {
		return 0, nil
	}
	return uint64(id.Int64), nil
}

// EntryByID returns one log entry of this repo.
func (r *Repo) EntryByID(ctx context.Context, id uint64) (*model.BookmarkUpdateLogEntry, error) {
	if id == 0 {
		return nil, fmt.Errorf("bookmark update log entry ids start at 1")
	}
	entries, err := r.ReadNextEntries(ctx, id-1, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 || entries[0].ID != id {
		return nil, fmt.Errorf("bookmark update log entry %d not found in repo %s", id, r.id)
	}
	return &entries[0], nil
}
