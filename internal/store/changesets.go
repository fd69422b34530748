package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/xreposync/internal/model"
)

// Repo is a view of the store scoped to one repository. It implements the
// blobstore, commit graph, bookmark and bookmark update log interfaces of
// the syncer.
type Repo struct {
	store *Store
	id    model.RepositoryID
}

// ID returns the repository id.
func (r *Repo) ID() model.RepositoryID {
	return r.id
}

// Store writes a changeset and returns its id. Every parent must already
// be stored in this repo. Writing the same changeset twice is a no-op.
func (r *Repo) Store(ctx context.Context, cs *model.Changeset) (model.ChangesetID, error) {
	id, err := model.ComputeChangesetID(cs)
	if err != nil {
		return "", fmt.Errorf("store changeset: %w", err)
	}
	content, err := marshalChangeset(cs)
	if err != nil {
		return "", fmt.Errorf("store changeset: %w", err)
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store changeset: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var generation uint64 = 1
	for _, p := range cs.Parents {
		g, err := generationTx(ctx, tx, r.id, p)
		if err != nil {
			return "", fmt.Errorf("store changeset %s: parent %s: %w", id.Short(), p.Short(), err)
		}
		if g+1 > generation {
			generation = g + 1
		}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO changesets (repo_id, cs_id, generation, content)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_id, cs_id) DO NOTHING
	`, r.id, string(id), generation, content)
	if err != nil {
		return "", fmt.Errorf("store changeset %s: %w", id.Short(), err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("store changeset %s: rows affected: %w", id.Short(), err)
	}
	if rows == 0 {
		return id, nil
	}

	for i, p := range cs.Parents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO changeset_parents (repo_id, cs_id, parent_index, parent_id)
			VALUES (?, ?, ?, ?)
		`, r.id, string(id), i, string(p)); err != nil {
			return "", fmt.Errorf("store changeset %s: parent edge: %w", id.Short(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store changeset %s: commit: %w", id.Short(), err)
	}
	return id, nil
}

// Load returns the content of a changeset. A missing changeset is a
// ChangesetNotFound error.
func (r *Repo) Load(ctx context.Context, id model.ChangesetID) (*model.Changeset, error) {
	stored, err := r.LoadStored(ctx, id)
	if err != nil {
		return nil, err
	}
	return stored.Changeset, nil
}

// LoadStored returns a changeset together with its generation number.
func (r *Repo) LoadStored(ctx context.Context, id model.ChangesetID) (*model.StoredChangeset, error) {
	var (
		generation uint64
		content    string
	)
	err := r.store.db.QueryRowContext(ctx, `
		SELECT generation, content FROM changesets
		WHERE repo_id = ? AND cs_id = ?
	`, r.id, string(id)).Scan(&generation, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ChangesetNotFound(r.id, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load changeset %s: %w", id.Short(), err)
	}
	cs, err := unmarshalChangeset(content)
	if err != nil {
		return nil, fmt.Errorf("load changeset %s: %w", id.Short(), err)
	}
	return &model.StoredChangeset{ID: id, Generation: generation, Changeset: cs}, nil
}

// Exists reports whether the changeset is stored in this repo.
func (r *Repo) Exists(ctx context.Context, id model.ChangesetID) (bool, error) {
	var one int
	err := r.store.db.QueryRowContext(ctx, `
		SELECT 1 FROM changesets WHERE repo_id = ? AND cs_id = ?
	`, r.id, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("changeset exists %s: %w", id.Short(), err)
	}
	return true, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func generationTx(ctx context.Context, q queryer, repo model.RepositoryID, id model.ChangesetID) (uint64, error) {
	var generation uint64
	err := q.QueryRowContext(ctx, `
		SELECT generation FROM changesets WHERE repo_id = ? AND cs_id = ?
	`, repo, string(id)).Scan(&generation)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.ChangesetNotFound(repo, id)
	}
	if err != nil {
		return 0, fmt.Errorf("generation of %s: %w", id.Short(), err)
	}
	return generation, nil
}
