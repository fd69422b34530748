package model

import "fmt"

// DefaultPathAction is what a mover does with paths no Map entry covers.
type DefaultPathAction string

const (
	ActionPrependPrefix DefaultPathAction = "prepend_prefix"
	ActionPreserve      DefaultPathAction = "preserve"
)

// SubmoduleAction controls how submodule file changes are synced.
type SubmoduleAction string

const (
	SubmoduleKeep  SubmoduleAction = "keep"
	SubmoduleStrip SubmoduleAction = "strip"
	SubmoduleDeny  SubmoduleAction = "deny"
)

// SmallRepoCommitSyncConfig is the path remapping of one small repo under
// one config version. Map keys are small repo prefixes, values are large
// repo prefixes.
type SmallRepoCommitSyncConfig struct {
	DefaultAction   DefaultPathAction
	DefaultPrefix   string
	Map             map[string]string
	SubmoduleAction SubmoduleAction
}

// CommitSyncConfig is one published config version. Once published it is
// never modified.
type CommitSyncConfig struct {
	Version     CommitSyncConfigVersion
	LargeRepoID RepositoryID
	SmallRepos  map[RepositoryID]SmallRepoCommitSyncConfig
}

// SmallRepoCommonConfig holds the per small repo facts that do not change
// between versions.
type SmallRepoCommonConfig struct {
	BookmarkPrefix string
}

// CommonCommitSyncConfig holds the static facts of a repo family.
type CommonCommitSyncConfig struct {
	LargeRepoID               RepositoryID
	SmallRepos                map[RepositoryID]SmallRepoCommonConfig
	CommonPushrebaseBookmarks []BookmarkKey
}

// IsCommonPushrebaseBookmark reports whether b is shared by every repo of
// the family.
func (c *CommonCommitSyncConfig) IsCommonPushrebaseBookmark(b BookmarkKey) bool {
	for _, common := range c.CommonPushrebaseBookmarks {
		if common == b {
			return true
		}
	}
	return false
}

// Validate checks that the static config is usable.
func (c *CommonCommitSyncConfig) Validate() error {
	if len(c.SmallRepos) == 0 {
		return fmt.Errorf("common config declares no small repos")
	}
	if _, ok := c.SmallRepos[c.LargeRepoID]; ok {
		return fmt.Errorf("repo %s is declared both large and small", c.LargeRepoID)
	}
	return nil
}

// Validate checks one version against the common config.
func (c *CommitSyncConfig) Validate(common *CommonCommitSyncConfig) error {
	if c.Version == "" {
		return fmt.Errorf("config version has no name")
	}
	if c.LargeRepoID != common.LargeRepoID {
		return fmt.Errorf("version %s: large repo %s does not match common config large repo %s",
			c.Version, c.LargeRepoID, common.LargeRepoID)
	}
	for repo, small := range c.SmallRepos {
		if _, ok := common.SmallRepos[repo]; !ok {
			return fmt.Errorf("version %s: small repo %s is not in the common config", c.Version, repo)
		}
		switch small.DefaultAction {
		case ActionPrependPrefix:
			if small.DefaultPrefix == "" {
				return fmt.Errorf("version %s: small repo %s: prepend_prefix needs default_prefix", c.Version, repo)
			}
		case ActionPreserve:
		default:
			return fmt.Errorf("version %s: small repo %s: unknown default action %q", c.Version, repo, small.DefaultAction)
		}
		switch small.SubmoduleAction {
		case SubmoduleKeep, SubmoduleStrip, SubmoduleDeny, "":
		default:
			return fmt.Errorf("version %s: small repo %s: unknown submodule action %q", c.Version, repo, small.SubmoduleAction)
		}
	}
	return nil
}
