package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
)

var _ syncer.Mapping = (*Mapping)(nil)

// Mapping is the synced commit mapping of the family.
type Mapping struct {
	store *Store
}

// Mapping returns the synced commit mapping.
func (s *Store) Mapping() *Mapping {
	return &Mapping{store: s}
}

// GetOutcome returns the recorded outcome for key, or nil if the source
// changeset has not been synced to the target repo.
func (m *Mapping) GetOutcome(ctx context.Context, key model.MappingKey) (model.CommitSyncOutcome, error) {
	return getOutcomeTx(ctx, m.store.db, key)
}

// PutOutcome records an outcome. Writing an identical outcome again is a
// no-op; writing a different one fails with ConflictingOutcome.
func (m *Mapping) PutOutcome(ctx context.Context, entry model.MappingEntry) error {
	tx, err := m.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put outcome: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := putOutcomeTx(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put outcome: commit: %w", err)
	}
	return nil
}

// FindSources returns the mapping rows whose target changeset is cs.
// Results are ordered by source repo then source changeset.
func (m *Mapping) FindSources(ctx context.Context, targetRepo model.RepositoryID, cs model.ChangesetID) ([]model.MappingEntry, error) {
	return m.query(ctx, `
		SELECT source_repo, source_cs, target_repo, kind, target_cs, version
		FROM synced_commit_mapping
		WHERE target_repo = ? AND target_cs = ?
		ORDER BY source_repo ASC, source_cs COLLATE BINARY ASC
	`, targetRepo, string(cs))
}

// List returns every row synced from sourceRepo to targetRepo, ordered by
// source changeset.
func (m *Mapping) List(ctx context.Context, sourceRepo, targetRepo model.RepositoryID) ([]model.MappingEntry, error) {
	return m.query(ctx, `
		SELECT source_repo, source_cs, target_repo, kind, target_cs, version
		FROM synced_commit_mapping
		WHERE source_repo = ? AND target_repo = ?
		ORDER BY source_cs COLLATE BINARY ASC
	`, sourceRepo, targetRepo)
}

func (m *Mapping) query(ctx context.Context, query string, args ...any) ([]model.MappingEntry, error) {
	rows, err := m.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mapping: %w", err)
	}
	defer rows.Close()

	entries := []model.MappingEntry{}
	for rows.Next() {
		var (
			sourceRepo, targetRepo int32
			sourceCS, kind, version string
			targetCS                sql.NullString
		)
		if err := rows.Scan(&sourceRepo, &sourceCS, &targetRepo, &kind, &targetCS, &version); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		outcome, err := decodeOutcome(kind, targetCS, version)
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.MappingEntry{
			MappingKey: model.MappingKey{
				SourceRepo:      model.RepositoryID(sourceRepo),
				SourceChangeset: model.ChangesetID(sourceCS),
				TargetRepo:      model.RepositoryID(targetRepo),
			},
			Outcome: outcome,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mapping: %w", err)
	}
	return entries, nil
}

func getOutcomeTx(ctx context.Context, q queryer, key model.MappingKey) (model.CommitSyncOutcome, error) {
	var (
		kind, version string
		targetCS      sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT kind, target_cs, version FROM synced_commit_mapping
		WHERE source_repo = ? AND source_cs = ? AND target_repo = ?
	`, key.SourceRepo, string(key.SourceChangeset), key.TargetRepo).Scan(&kind, &targetCS, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome of %s: %w", key.SourceChangeset.Short(), err)
	}
	return decodeOutcome(kind, targetCS, version)
}

// putOutcomeTx inserts an outcome inside an open transaction.
func putOutcomeTx(ctx context.Context, tx *sql.Tx, entry model.MappingEntry) error {
	target, _ := model.RemappedID(entry.Outcome)
	var targetCS any
	if target != "" {
		targetCS = string(target)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO synced_commit_mapping
		(source_repo, source_cs, target_repo, kind, target_cs, version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_repo, source_cs, target_repo) DO NOTHING
	`,
		entry.SourceRepo,
		string(entry.SourceChangeset),
		entry.TargetRepo,
		entry.Outcome.Kind().String(),
		targetCS,
		string(entry.Outcome.Version()),
	)
	if err != nil {
		return fmt.Errorf("put outcome of %s: %w", entry.SourceChangeset.Short(), err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("put outcome of %s: rows affected: %w", entry.SourceChangeset.Short(), err)
	}
	if rows > 0 {
		return nil
	}

	existing, err := getOutcomeTx(ctx, tx, entry.MappingKey)
	if err != nil {
		return err
	}
	if model.OutcomesEqual(existing, entry.Outcome) {
		return nil
	}
	e := model.NewSyncError(model.ErrCodeConflictingOutcome,
		"mapping already holds %s, refusing to record %s", existing, entry.Outcome)
	e.Changeset = entry.SourceChangeset
	return e
}

func decodeOutcome(kind string, targetCS sql.NullString, version string) (model.CommitSyncOutcome, error) {
	k, err := model.ParseOutcomeKind(kind)
	if err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	outcome, err := model.NewOutcome(k, model.ChangesetID(targetCS.String), model.CommitSyncConfigVersion(version))
	if err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	return outcome, nil
}
