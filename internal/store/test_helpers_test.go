package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/xreposync/internal/model"
)

var testEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	ticks := 0
	s, err := Open(path, WithClock(func() time.Time {
		ticks++
		return testEpoch.Add(time.Duration(ticks) * time.Second)
	}))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// storeTestCommit stores a commit whose message is label and returns its id.
func storeTestCommit(t *testing.T, r *Repo, label string, parents ...model.ChangesetID) model.ChangesetID {
	t.Helper()
	id, err := r.Store(context.Background(), &model.Changeset{
		Parents: parents,
		Author:  "test",
		Date:    testEpoch,
		Message: label,
		FileChanges: map[string]model.FileChange{
			label: {Kind: model.FileRegular, Content: label},
		},
	})
	if err != nil {
		t.Fatalf("Store(%s) failed: %v", label, err)
	}
	return id
}

// setTestBookmark points name at cs, creating it if needed.
func setTestBookmark(t *testing.T, r *Repo, name model.BookmarkKey, cs model.ChangesetID) {
	t.Helper()
	ctx := context.Background()
	current, err := r.GetBookmark(ctx, name)
	if err != nil {
		t.Fatalf("GetBookmark(%s) failed: %v", name, err)
	}
	txn := r.NewTransaction()
	if current == nil {
		err = txn.Create(name, cs, model.ReasonPush)
	} else {
		err = txn.Update(name, cs, *current, model.ReasonPush)
	}
	if err != nil {
		t.Fatalf("stage bookmark %s: %v", name, err)
	}
	ok, err := txn.Commit(ctx)
	if err != nil || !ok {
		t.Fatalf("Commit() = %v, %v", ok, err)
	}
}
