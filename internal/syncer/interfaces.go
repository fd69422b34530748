package syncer

import (
	"context"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncconfig"
)

// CommitGraph answers ancestry questions about one repository.
type CommitGraph interface {
	// IsAncestor reports whether ancestor is reachable from descendant.
	// Every changeset is its own ancestor.
	IsAncestor(ctx context.Context, ancestor, descendant model.ChangesetID) (bool, error)

	// GenerationNumber is 1 for roots and 1 + max(parent) otherwise.
	GenerationNumber(ctx context.Context, id model.ChangesetID) (uint64, error)

	// AncestorsDifference returns ancestors of heads (inclusive) that are
	// not ancestors of common (inclusive).
	AncestorsDifference(ctx context.Context, heads, common []model.ChangesetID) ([]model.ChangesetID, error)
}

// Blobstore loads and stores commit content.
type Blobstore interface {
	Load(ctx context.Context, id model.ChangesetID) (*model.Changeset, error)
	Store(ctx context.Context, cs *model.Changeset) (model.ChangesetID, error)
}

// BookmarkTransaction stages compare-and-swap bookmark moves together with
// mapping writes. Commit returns false without error when any bookmark no
// longer holds its expected value; nothing is applied in that case.
type BookmarkTransaction interface {
	Create(name model.BookmarkKey, to model.ChangesetID, reason model.BookmarkUpdateReason) error
	Update(name model.BookmarkKey, to, from model.ChangesetID, reason model.BookmarkUpdateReason) error
	Delete(name model.BookmarkKey, from model.ChangesetID, reason model.BookmarkUpdateReason) error
	RecordOutcome(entry model.MappingEntry) error
	Commit(ctx context.Context) (bool, error)
}

// Bookmarks is the bookmark namespace of one repository.
type Bookmarks interface {
	GetBookmark(ctx context.Context, name model.BookmarkKey) (*model.ChangesetID, error)
	ListBookmarks(ctx context.Context) (map[model.BookmarkKey]model.ChangesetID, error)
	NewTransaction() BookmarkTransaction
}

// BookmarkUpdateLog is the ordered record of bookmark movements of one
// repository.
type BookmarkUpdateLog interface {
	ReadNextEntries(ctx context.Context, afterID uint64, limit int) ([]model.BookmarkUpdateLogEntry, error)
}

// Repository bundles what the syncer needs from either side of a pair.
type Repository interface {
	ID() model.RepositoryID
	CommitGraph
	Blobstore
	Bookmarks
}

// Mapping is the synced commit mapping. PutOutcome must reject a second
// write of a different outcome for the same key with ConflictingOutcome
// and accept an identical one as a no-op.
type Mapping interface {
	GetOutcome(ctx context.Context, key model.MappingKey) (model.CommitSyncOutcome, error)
	PutOutcome(ctx context.Context, entry model.MappingEntry) error
}

// Counters stores per repo checkpoints. ok is false for unset counters.
type Counters interface {
	GetCounter(ctx context.Context, repo model.RepositoryID, name string) (value int64, ok bool, err error)
	SetCounter(ctx context.Context, repo model.RepositoryID, name string, value int64) error
}

// AncestorResolver finds the commits that must be synced before head can
// be, ancestors first, together with the config versions seen at the
// boundary of already synced history.
type AncestorResolver interface {
	FindToposortedUnsyncedAncestors(ctx context.Context, head model.ChangesetID) ([]model.ChangesetID, AncestorVersions, error)
}

// Rebaser rebases a rewritten commit onto the current position of a target
// bookmark and stores the result. A nil id means the commit was elided
// because it would be empty.
type Rebaser interface {
	RebaseOnto(ctx context.Context, cs *model.Changeset, onto model.ChangesetID, rewriteDates bool) (*model.ChangesetID, error)
}

// ConfigSource is the resolved commit sync configuration of a repo family.
// *syncconfig.Resolver implements it.
type ConfigSource interface {
	Resolve(v model.CommitSyncConfigVersion, source, target model.RepositoryID) (*syncconfig.Resolved, error)
	CurrentVersion() (model.CommitSyncConfigVersion, bool)
	IsCommonPushrebaseBookmark(b model.BookmarkKey) bool
	CommonPushrebaseBookmarks() []model.BookmarkKey
	BookmarkRenamer(source, target model.RepositoryID) (syncconfig.BookmarkRenamer, error)
}

var _ ConfigSource = (*syncconfig.Resolver)(nil)
