package syncconfig

import (
	"sort"
	"sync"

	"github.com/roach88/xreposync/internal/model"
)

// Resolved is a config version resolved for one (source, target) pair.
type Resolved struct {
	Version   model.CommitSyncConfigVersion
	Source    model.RepositoryID
	Target    model.RepositoryID
	SmallRepo model.RepositoryID
	Direction model.CommitSyncDirection

	// Mover maps source paths to target paths; ReverseMover is its inverse.
	Mover        Mover
	ReverseMover Mover

	// BookmarkRenamer maps source bookmarks to target bookmarks;
	// ReverseBookmarkRenamer is its inverse.
	BookmarkRenamer        BookmarkRenamer
	ReverseBookmarkRenamer BookmarkRenamer

	SubmoduleAction model.SubmoduleAction
}

type resolveKey struct {
	version model.CommitSyncConfigVersion
	source  model.RepositoryID
	target  model.RepositoryID
}

// Resolver answers questions about one repo family's configuration.
//
// Thread-safety: all methods are safe for concurrent use. The only mutable
// state is the resolution cache.
type Resolver struct {
	common   *model.CommonCommitSyncConfig
	versions map[model.CommitSyncConfigVersion]*model.CommitSyncConfig
	current  model.CommitSyncConfigVersion

	mu    sync.Mutex
	cache map[resolveKey]*Resolved
}

// NewResolver validates the configuration and builds a Resolver. current
// may be empty, in which case root commits cannot be synced without an
// explicit version.
func NewResolver(common *model.CommonCommitSyncConfig, versions []*model.CommitSyncConfig, current model.CommitSyncConfigVersion) (*Resolver, error) {
	if common == nil {
		return nil, model.InvalidConfiguration("missing common commit sync config")
	}
	if err := common.Validate(); err != nil {
		return nil, &model.SyncError{Code: model.ErrCodeInvalidConfiguration, Message: "invalid common config", Cause: err}
	}
	r := &Resolver{
		common:   common,
		versions: make(map[model.CommitSyncConfigVersion]*model.CommitSyncConfig, len(versions)),
		current:  current,
		cache:    make(map[resolveKey]*Resolved),
	}
	for _, v := range versions {
		if err := v.Validate(common); err != nil {
			return nil, &model.SyncError{Code: model.ErrCodeInvalidConfiguration, Message: "invalid config version", Cause: err}
		}
		if _, dup := r.versions[v.Version]; dup {
			return nil, model.InvalidConfiguration("config version %s declared twice", v.Version)
		}
		r.versions[v.Version] = v
	}
	if current != "" {
		if _, ok := r.versions[current]; !ok {
			return nil, model.InvalidConfiguration("current version %s is not declared", current)
		}
	}
	return r, nil
}

// Common returns the static family config.
func (r *Resolver) Common() *model.CommonCommitSyncConfig {
	return r.common
}

// CommonPushrebaseBookmarks returns the bookmarks shared by every repo.
func (r *Resolver) CommonPushrebaseBookmarks() []model.BookmarkKey {
	return append([]model.BookmarkKey(nil), r.common.CommonPushrebaseBookmarks...)
}

// IsCommonPushrebaseBookmark reports whether b is shared by every repo.
func (r *Resolver) IsCommonPushrebaseBookmark(b model.BookmarkKey) bool {
	return r.common.IsCommonPushrebaseBookmark(b)
}

// VersionExists reports whether v is a declared version.
func (r *Resolver) VersionExists(v model.CommitSyncConfigVersion) bool {
	_, ok := r.versions[v]
	return ok
}

// CurrentVersion returns the version used for commits with no synced
// ancestry.
func (r *Resolver) CurrentVersion() (model.CommitSyncConfigVersion, bool) {
	return r.current, r.current != ""
}

// Versions returns all declared versions in name order.
func (r *Resolver) Versions() []model.CommitSyncConfigVersion {
	out := make([]model.CommitSyncConfigVersion, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SmallReposForVersion returns the small repos a version covers.
func (r *Resolver) SmallReposForVersion(v model.CommitSyncConfigVersion) ([]model.RepositoryID, error) {
	cfg, ok := r.versions[v]
	if !ok {
		return nil, unknownVersion(v)
	}
	out := make([]model.RepositoryID, 0, len(cfg.SmallRepos))
	for id := range cfg.SmallRepos {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Version returns the published config of version v. The result must not
// be modified.
func (r *Resolver) Version(v model.CommitSyncConfigVersion) (*model.CommitSyncConfig, error) {
	cfg, ok := r.versions[v]
	if !ok {
		return nil, unknownVersion(v)
	}
	return cfg, nil
}

// SubmoduleAction returns the submodule policy of a small repo under v.
func (r *Resolver) SubmoduleAction(v model.CommitSyncConfigVersion, repo model.RepositoryID) (model.SubmoduleAction, error) {
	cfg, ok := r.versions[v]
	if !ok {
		return "", unknownVersion(v)
	}
	small, ok := cfg.SmallRepos[repo]
	if !ok {
		return "", model.InvalidConfiguration("version %s does not cover repo %s", v, repo)
	}
	if small.SubmoduleAction == "" {
		return model.SubmoduleKeep, nil
	}
	return small.SubmoduleAction, nil
}

// Direction classifies a repo pair. Exactly one of source and target must
// be the large repo and the other a declared small repo.
func (r *Resolver) Direction(source, target model.RepositoryID) (model.CommitSyncDirection, model.RepositoryID, error) {
	_, sourceSmall := r.common.SmallRepos[source]
	_, targetSmall := r.common.SmallRepos[target]
	switch {
	case sourceSmall && target == r.common.LargeRepoID:
		return model.SmallToLarge, source, nil
	case targetSmall && source == r.common.LargeRepoID:
		return model.LargeToSmall, target, nil
	default:
		return 0, 0, model.InvalidConfiguration(
			"repos %s and %s are not a small/large pair of this family (large repo %s)",
			source, target, r.common.LargeRepoID)
	}
}

// Resolve builds the movers and renamers of version v for syncing from
// source to target.
func (r *Resolver) Resolve(v model.CommitSyncConfigVersion, source, target model.RepositoryID) (*Resolved, error) {
	key := resolveKey{version: v, source: source, target: target}

	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.cache[key]; ok {
		return res, nil
	}

	cfg, ok := r.versions[v]
	if !ok {
		return nil, unknownVersion(v)
	}
	direction, smallID, err := r.Direction(source, target)
	if err != nil {
		return nil, err
	}
	small, ok := cfg.SmallRepos[smallID]
	if !ok {
		return nil, model.InvalidConfiguration("version %s does not cover small repo %s", v, smallID)
	}
	prefix := r.common.SmallRepos[smallID].BookmarkPrefix
	common := r.common.CommonPushrebaseBookmarks

	forward := newSmallToLargeMover(small)
	reverse := newLargeToSmallMover(small)
	forwardRenamer := newSmallToLargeRenamer(prefix, common)
	reverseRenamer := newLargeToSmallRenamer(prefix, common)

	res := &Resolved{
		Version:         v,
		Source:          source,
		Target:          target,
		SmallRepo:       smallID,
		Direction:       direction,
		SubmoduleAction: small.SubmoduleAction,
	}
	if res.SubmoduleAction == "" {
		res.SubmoduleAction = model.SubmoduleKeep
	}
	if direction == model.SmallToLarge {
		res.Mover, res.ReverseMover = forward, reverse
		res.BookmarkRenamer, res.ReverseBookmarkRenamer = forwardRenamer, reverseRenamer
	} else {
		res.Mover, res.ReverseMover = reverse, forward
		res.BookmarkRenamer, res.ReverseBookmarkRenamer = reverseRenamer, forwardRenamer
	}

	r.cache[key] = res
	return res, nil
}

func unknownVersion(v model.CommitSyncConfigVersion) *model.SyncError {
	return model.InvalidConfiguration("unknown commit sync config version %q", v).
		WithDetail("version", string(v))
}

// BookmarkRenamer returns the renamer for syncing from source to target.
// Bookmark prefixes are not versioned, so no version is needed.
func (r *Resolver) BookmarkRenamer(source, target model.RepositoryID) (BookmarkRenamer, error) {
	direction, smallID, err := r.Direction(source, target)
	if err != nil {
		return nil, err
	}
	prefix := r.common.SmallRepos[smallID].BookmarkPrefix
	if direction == model.SmallToLarge {
		return newSmallToLargeRenamer(prefix, r.common.CommonPushrebaseBookmarks), nil
	}
	return newLargeToSmallRenamer(prefix, r.common.CommonPushrebaseBookmarks), nil
}
