package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/xreposync/internal/model"
)

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "family.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	id := storeTestCommit(t, s1.Repo(1), "a")
	if err := s1.Mapping().PutOutcome(ctx, model.MappingEntry{
		MappingKey: model.MappingKey{SourceRepo: 1, SourceChangeset: id, TargetRepo: 0},
		Outcome:    model.NotSyncCandidate{ConfigVersion: "v1"},
	}); err != nil {
		t.Fatalf("PutOutcome() failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		s2, err := Open(path)
		if err != nil {
			t.Fatalf("reopen %d failed: %v", i, err)
		}
		if ok, err := s2.Repo(1).Exists(ctx, id); err != nil || !ok {
			t.Errorf("reopen %d: Exists(a) = %v, %v", i, ok, err)
		}
		o, err := s2.Mapping().GetOutcome(ctx, model.MappingKey{SourceRepo: 1, SourceChangeset: id, TargetRepo: 0})
		if err != nil || o == nil {
			t.Errorf("reopen %d: GetOutcome() = %v, %v", i, o, err)
		}
		s2.Close()
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	if _, err := Open("/nonexistent/dir/family.db"); err == nil {
		t.Error("expected error for a path in a missing directory")
	}
}

func TestOpen_SharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "family.db")
	writer, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer writer.Close()
	reader, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer reader.Close()

	id := storeTestCommit(t, writer.Repo(3), "a")
	if ok, err := reader.Repo(3).Exists(context.Background(), id); err != nil || !ok {
		t.Errorf("second handle does not see the commit: %v, %v", ok, err)
	}
}

func TestClose(t *testing.T) {
	if err := (&Store{}).Close(); err != nil {
		t.Errorf("Close() of an unopened store: %v", err)
	}

	s, err := Open(filepath.Join(t.TempDir(), "family.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	_ = s.Close()
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

// Schema table tests

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)

	tests := map[string][]string{
		"changesets":            {"repo_id", "cs_id", "generation", "content"},
		"changeset_parents":     {"repo_id", "cs_id", "parent_index", "parent_id"},
		"bookmarks":             {"repo_id", "name", "cs_id"},
		"bookmark_update_log":   {"id", "repo_id", "name", "from_cs", "to_cs", "reason", "ts"},
		"synced_commit_mapping": {"source_repo", "source_cs", "target_repo", "kind", "target_cs", "version"},
		"mutable_counters":      {"repo_id", "name", "value"},
	}
	for table, want := range tests {
		columns := getTableColumns(t, s.db, table)
		for _, col := range want {
			if !contains(columns, col) {
				t.Errorf("%s table missing column %q, got %v", table, col, columns)
			}
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := createTestStore(t)

	if indexes := getTableIndexes(t, s.db, "bookmark_update_log"); !contains(indexes, "idx_bookmark_update_log_repo") {
		t.Errorf("bookmark_update_log missing idx_bookmark_update_log_repo, got %v", indexes)
	}
	if indexes := getTableIndexes(t, s.db, "synced_commit_mapping"); !contains(indexes, "idx_synced_commit_mapping_target") {
		t.Errorf("synced_commit_mapping missing idx_synced_commit_mapping_target, got %v", indexes)
	}
}

func TestConstraint_MappingPrimaryKey(t *testing.T) {
	s := createTestStore(t)

	insert := `INSERT INTO synced_commit_mapping
		(source_repo, source_cs, target_repo, kind, target_cs, version)
		VALUES (1, 'abc', 0, 'NotSyncCandidate', NULL, 'v1')`
	if _, err := s.db.Exec(insert); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := s.db.Exec(insert); err == nil {
		t.Error("expected primary key violation for duplicate mapping row")
	}

	// Same source changeset synced to another target repo is a separate row.
	if _, err := s.db.Exec(`INSERT INTO synced_commit_mapping
		(source_repo, source_cs, target_repo, kind, target_cs, version)
		VALUES (1, 'abc', 2, 'NotSyncCandidate', NULL, 'v1')`); err != nil {
		t.Errorf("insert for another target repo failed: %v", err)
	}
}

func TestConstraint_ForeignKeyParentToChangeset(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO changeset_parents (repo_id, cs_id, parent_index, parent_id)
		VALUES (1, 'missing', 0, 'p')`)
	if err == nil {
		t.Error("expected foreign key violation for parent edge of unknown changeset")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_IdempotentUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}

		var version int
		if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			t.Fatalf("failed to get user_version: %v", err)
		}
		if version != currentSchemaVersion {
			t.Errorf("iteration %d: user_version = %d, want %d", i, version, currentSchemaVersion)
		}

		s.Close()
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// A v0 database: schema without the reverse lookup index.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("DROP INDEX idx_synced_commit_mapping_target"); err != nil {
		t.Fatalf("failed to drop index: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}
	if indexes := getTableIndexes(t, s.db, "synced_commit_mapping"); !contains(indexes, "idx_synced_commit_mapping_target") {
		t.Errorf("expected idx_synced_commit_mapping_target after migration, got indexes: %v", indexes)
	}
}

func TestOpenWithRetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenWithRetry(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenWithRetry() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestOpenWithRetry_PermanentError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := OpenWithRetry(ctx, "/nonexistent/dir/test.db")
	if err == nil {
		t.Fatal("expected error for invalid path, got nil")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("non-busy error was retried for %v", elapsed)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
