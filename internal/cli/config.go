package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncconfig"
)

// ConfigOutput describes one resolved commit sync config version.
type ConfigOutput struct {
	Version                   string            `json:"version"`
	Current                   bool              `json:"current"`
	LargeRepo                 int32             `json:"large_repo"`
	CommonPushrebaseBookmarks []string          `json:"common_pushrebase_bookmarks"`
	SmallRepos                []SmallRepoOutput `json:"small_repos"`
}

// SmallRepoOutput describes the movers and renamers of one small repo.
type SmallRepoOutput struct {
	RepoID          int32    `json:"repo_id"`
	BookmarkPrefix  string   `json:"bookmark_prefix"`
	DefaultAction   string   `json:"default_action"`
	DefaultPrefix   string   `json:"default_prefix,omitempty"`
	SubmoduleAction string   `json:"submodule_action"`
	Map             []Rename `json:"map"`
	Paths           []Rename `json:"paths,omitempty"`
	Bookmarks       []Rename `json:"bookmarks,omitempty"`
}

// Rename is a small repo name and its large repo counterpart. Large is
// empty when the name is not synced.
type Rename struct {
	Small string `json:"small"`
	Large string `json:"large"`
}

func (r Rename) String() string {
	if r.Large == "" {
		return r.Small + " -> (not synced)"
	}
	return r.Small + " -> " + r.Large
}

func (o ConfigOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version %s", o.Version)
	if o.Current {
		b.WriteString(" (current)")
	}
	fmt.Fprintf(&b, "\nlarge repo %d, common pushrebase bookmarks: %s",
		o.LargeRepo, strings.Join(o.CommonPushrebaseBookmarks, ", "))
	for _, s := range o.SmallRepos {
		fmt.Fprintf(&b, "\nsmall repo %d", s.RepoID)
		fmt.Fprintf(&b, "\n  bookmark prefix: %q", s.BookmarkPrefix)
		fmt.Fprintf(&b, "\n  default: %s %s", s.DefaultAction, s.DefaultPrefix)
		fmt.Fprintf(&b, "\n  submodules: %s", s.SubmoduleAction)
		for _, r := range s.Map {
			fmt.Fprintf(&b, "\n  map %s", r)
		}
		for _, r := range s.Paths {
			fmt.Fprintf(&b, "\n  path %s", r)
		}
		for _, r := range s.Bookmarks {
			fmt.Fprintf(&b, "\n  bookmark %s", r)
		}
	}
	return b.String()
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the commit sync config",
	}
	cmd.AddCommand(newConfigShowCommand(opts))
	return cmd
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	var (
		version   string
		paths     []string
		bookmarks []string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the movers and renamers of a config version",
		Long: `Load --sync-config and print how a version maps each small repo into the
large repo. --path and --bookmark run small repo names through the movers
and renamers of every small repo.

Example:
  xreposync config show --sync-config family.yaml --version v2 --path README --bookmark master`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadJobConfig(opts.viper)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if cfg.SyncConfig == "" {
				return NewExitError(ExitCommandError, "invalid configuration: sync_config is required")
			}
			resolver, err := syncconfig.Load(cfg.SyncConfig)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load sync config", err)
			}
			out, err := describeVersion(resolver, model.CommitSyncConfigVersion(version), paths, bookmarks)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to resolve config", err)
			}
			return opts.formatter(cmd).Success(out)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "config version (default: current version)")
	cmd.Flags().StringArrayVar(&paths, "path", nil, "small repo path to move (repeatable)")
	cmd.Flags().StringArrayVar(&bookmarks, "bookmark", nil, "small repo bookmark to rename (repeatable)")

	return cmd
}

func describeVersion(r *syncconfig.Resolver, version model.CommitSyncConfigVersion, paths, bookmarks []string) (*ConfigOutput, error) {
	current, hasCurrent := r.CurrentVersion()
	if version == "" {
		if !hasCurrent {
			return nil, fmt.Errorf("no current version is configured, pass --version")
		}
		version = current
	}
	cfg, err := r.Version(version)
	if err != nil {
		return nil, err
	}
	common := r.Common()

	out := &ConfigOutput{
		Version:                   string(version),
		Current:                   hasCurrent && version == current,
		LargeRepo:                 int32(common.LargeRepoID),
		CommonPushrebaseBookmarks: make([]string, 0, len(common.CommonPushrebaseBookmarks)),
	}
	for _, b := range common.CommonPushrebaseBookmarks {
		out.CommonPushrebaseBookmarks = append(out.CommonPushrebaseBookmarks, string(b))
	}

	smalls, err := r.SmallReposForVersion(version)
	if err != nil {
		return nil, err
	}
	for _, id := range smalls {
		small := cfg.SmallRepos[id]
		resolved, err := r.Resolve(version, id, common.LargeRepoID)
		if err != nil {
			return nil, err
		}
		s := SmallRepoOutput{
			RepoID:          int32(id),
			BookmarkPrefix:  common.SmallRepos[id].BookmarkPrefix,
			DefaultAction:   string(small.DefaultAction),
			DefaultPrefix:   small.DefaultPrefix,
			SubmoduleAction: string(resolved.SubmoduleAction),
			Map:             make([]Rename, 0, len(small.Map)),
		}
		for from, to := range small.Map {
			s.Map = append(s.Map, Rename{Small: from, Large: to})
		}
		sort.Slice(s.Map, func(a, b int) bool { return s.Map[a].Small < s.Map[b].Small })
		for _, p := range paths {
			moved, _ := resolved.Mover(p)
			s.Paths = append(s.Paths, Rename{Small: p, Large: moved})
		}
		for _, b := range bookmarks {
			renamed, _ := resolved.BookmarkRenamer(model.BookmarkKey(b))
			s.Bookmarks = append(s.Bookmarks, Rename{Small: b, Large: string(renamed)})
		}
		out.SmallRepos = append(out.SmallRepos, s)
	}
	return out, nil
}
