package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
)

var _ syncer.Counters = (*Store)(nil)

// GetCounter returns the value of a mutable counter. ok is false if the
// counter has never been set.
func (s *Store) GetCounter(ctx context.Context, repo model.RepositoryID, name string) (value int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT value FROM mutable_counters WHERE repo_id = ? AND name = ?
	`, repo, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get counter %s: %w", name, err)
	}
	return value, true, nil
}

// SetCounter stores a counter value. Counters never decrease: setting a
// smaller value than the current one is an error and leaves it unchanged.
func (s *Store) SetCounter(ctx context.Context, repo model.RepositoryID, name string, value int64) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO mutable_counters (repo_id, name, value) VALUES (?, ?, ?)
		ON CONFLICT(repo_id, name) DO UPDATE SET value = excluded.value
		WHERE excluded.value >= mutable_counters.value
	`, repo, name, value)
	if err != nil {
		return fmt.Errorf("set counter %s: %w", name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set counter %s: rows affected: %w", name, err)
	}
	if rows == 0 {
		current, _, err := s.GetCounter(ctx, repo, name)
		if err != nil {
			return err
		}
		return fmt.Errorf("set counter %s: refusing to move from %d back to %d", name, current, value)
	}
	return nil
}
