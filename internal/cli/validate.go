package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
	"github.com/roach88/xreposync/internal/tailer"
	"github.com/roach88/xreposync/internal/validator"
)

// ValidateOutput is the report of a validate command.
type ValidateOutput struct {
	Checked    string               `json:"checked"`
	Mismatches []validator.Mismatch `json:"mismatches"`
}

func (o ValidateOutput) String() string {
	if len(o.Mismatches) == 0 {
		return fmt.Sprintf("%s: ok", o.Checked)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d mismatches", o.Checked, len(o.Mismatches))
	for _, m := range o.Mismatches {
		fmt.Fprintf(&b, "\n  %s", m)
	}
	return b.String()
}

// NewValidateCommand creates the validate command group.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that the large repo agrees with its small repos",
		Long: `Compare the large repo with the small repos synced into it. Mismatches
are reported and the command exits with status 1; nothing is repaired.

The family is read from --sync-config; repo id flags are not needed.`,
	}

	cmd.AddCommand(newValidateOnceCommand(opts))
	cmd.AddCommand(newValidateTailCommand(opts))
	cmd.AddCommand(newValidateCommitCommand(opts))
	cmd.AddCommand(newValidateBookmarksCommand(opts))

	return cmd
}

func newValidateOnceCommand(opts *RootOptions) *cobra.Command {
	var entryID uint64

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Validate one entry of the large repo bookmark update log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd, opts.Logger())
			defer cancel()

			j, err := opts.openJob(ctx, false)
			if err != nil {
				return err
			}
			defer j.Close()

			v, large := newValidator(j)
			if err := v.Once(ctx, j.store.Repo(large), entryID); err != nil {
				return reportFailure(opts, "validation failed", err)
			}
			return opts.formatter(cmd).Success(ValidateOutput{
				Checked:    fmt.Sprintf("entry %d", entryID),
				Mismatches: []validator.Mismatch{},
			})
		},
	}

	cmd.Flags().Uint64Var(&entryID, "entry-id", 0, "bookmark update log entry to validate (required)")
	_ = cmd.MarkFlagRequired("entry-id")

	return cmd
}

func newValidateTailCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Validate the large repo bookmark update log as it grows",
		Long: `Follow the bookmark update log of the large repo and validate every commit
each entry brings in. Progress is checkpointed on the large repo in the
counter x_repo_commit_validator. The job stops on the first mismatch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd, opts.Logger())
			defer cancel()

			j, err := opts.openJob(ctx, false)
			if err != nil {
				return err
			}
			defer j.Close()
			tcfg, err := j.cfg.TailerConfig()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if err := j.serveMetrics(); err != nil {
				return err
			}

			v, large := newValidator(j)
			t := v.NewTailer(j.store.Repo(large), j.store, tcfg,
				tailer.WithLogger(j.logger),
				tailer.WithMetrics(j.metrics("validate", large, large)),
			)
			return finishTail(ctx, cmd, opts, t)
		},
	}
	addTailFlags(cmd)
	return cmd
}

func newValidateCommitCommand(opts *RootOptions) *cobra.Command {
	var commit string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Validate one large repo commit against its small repo sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := model.ParseChangesetID(commit)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --commit", err)
			}
			ctx, cancel := signalContext(cmd, opts.Logger())
			defer cancel()

			j, err := opts.openJob(ctx, false)
			if err != nil {
				return err
			}
			defer j.Close()

			v, _ := newValidator(j)
			mismatches, err := v.ValidateCommit(ctx, cs)
			if err != nil {
				return reportFailure(opts, "validation failed", err)
			}
			return reportMismatches(cmd, opts, "commit "+cs.Short(), mismatches)
		},
	}

	cmd.Flags().StringVar(&commit, "commit", "", "large repo commit to validate (required)")
	_ = cmd.MarkFlagRequired("commit")

	return cmd
}

func newValidateBookmarksCommand(opts *RootOptions) *cobra.Command {
	var smallRepo int64

	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "Compare the bookmarks of the small repos with the large repo",
		Long: `Compare the bookmarks of every small repo, or only of --small-repo-id,
with the renamed bookmarks of the large repo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd, opts.Logger())
			defer cancel()

			j, err := opts.openJob(ctx, false)
			if err != nil {
				return err
			}
			defer j.Close()

			v, _ := newValidator(j)
			smalls := smallRepoIDs(j.config.Common())
			if smallRepo >= 0 {
				smalls = []model.RepositoryID{model.RepositoryID(smallRepo)}
			}
			var all []validator.Mismatch
			for _, id := range smalls {
				mismatches, err := v.ValidateBookmarks(ctx, id)
				if err != nil {
					return reportFailure(opts, "validation failed", err)
				}
				all = append(all, mismatches...)
			}
			return reportMismatches(cmd, opts, "bookmarks", all)
		},
	}

	cmd.Flags().Int64Var(&smallRepo, "small-repo-id", -1, "only check this small repo")

	return cmd
}

// reportMismatches prints the outcome of a check. Any mismatch makes the
// command fail with ExitFailure after the report is printed.
func reportMismatches(cmd *cobra.Command, opts *RootOptions, checked string, mismatches []validator.Mismatch) error {
	if mismatches == nil {
		mismatches = []validator.Mismatch{}
	}
	out := ValidateOutput{Checked: checked, Mismatches: mismatches}
	if len(mismatches) == 0 {
		return opts.formatter(cmd).Success(out)
	}
	if opts.Format == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	return reportFailure(opts, "validation failed", validator.MismatchError(mismatches))
}

// newValidator builds a validator over every repo of the family.
func newValidator(j *job) (*validator.Validator, model.RepositoryID) {
	common := j.config.Common()
	var smalls []syncer.Repository
	for _, id := range smallRepoIDs(common) {
		smalls = append(smalls, j.store.Repo(id))
	}
	v := validator.New(j.store.Repo(common.LargeRepoID), smalls, j.store.Mapping(), j.config,
		validator.WithLogger(j.logger))
	return v, common.LargeRepoID
}

func smallRepoIDs(common *model.CommonCommitSyncConfig) []model.RepositoryID {
	ids := make([]model.RepositoryID, 0, len(common.SmallRepos))
	for id := range common.SmallRepos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}
