package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
	"github.com/roach88/xreposync/internal/tailer"
)

// SyncOutput is the result of initial-import and once.
type SyncOutput struct {
	Result     string   `json:"result"`
	Changesets []string `json:"changesets"`
	Direct     int      `json:"direct"`
	Pushrebase int      `json:"pushrebased"`
	Bookmark   string   `json:"bookmark,omitempty"`
}

func (o SyncOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d commits synced directly, %d pushrebased", o.Result, o.Direct, o.Pushrebase)
	if o.Bookmark != "" {
		fmt.Fprintf(&b, ", bookmark %s moved", o.Bookmark)
	}
	for _, cs := range o.Changesets {
		fmt.Fprintf(&b, "\n  %s", cs)
	}
	return b.String()
}

func newSyncOutput(res *syncer.SyncResult, bookmark *model.BookmarkKey) SyncOutput {
	out := SyncOutput{
		Result:     res.Kind.String(),
		Changesets: make([]string, 0, len(res.Changesets)),
		Direct:     res.Direct,
		Pushrebase: res.Pushrebased,
	}
	for _, cs := range res.Changesets {
		out.Changesets = append(out.Changesets, cs.String())
	}
	if bookmark != nil && res.Kind == syncer.Synced {
		out.Bookmark = string(*bookmark)
	}
	return out
}

// NewInitialImportCommand creates the initial-import command.
func NewInitialImportCommand(opts *RootOptions) *cobra.Command {
	var commit, version string

	cmd := &cobra.Command{
		Use:   "initial-import",
		Short: "Sync a commit and all its ancestors with an explicit config version",
		Long: `Sync a source commit and every unsynced ancestor of it into the target
repo using the given commit sync config version. No bookmark is moved.

This is how a small repo is first merged into the large repo.

Example:
  xreposync initial-import --db ./sync.db --sync-config family.yaml \
    --source-repo-id 1 --target-repo-id 0 --version-name v1 --commit <hash>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitialImport(cmd, opts, commit, model.CommitSyncConfigVersion(version))
		},
	}

	cmd.Flags().StringVar(&commit, "commit", "", "source commit to import (required)")
	cmd.Flags().StringVar(&version, "version-name", "", "commit sync config version (required)")
	_ = cmd.MarkFlagRequired("commit")
	_ = cmd.MarkFlagRequired("version-name")

	return cmd
}

func runInitialImport(cmd *cobra.Command, opts *RootOptions, commit string, version model.CommitSyncConfigVersion) error {
	head, err := model.ParseChangesetID(commit)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --commit", err)
	}
	ctx, cancel := signalContext(cmd, opts.Logger())
	defer cancel()

	j, err := opts.openJob(ctx, true)
	if err != nil {
		return err
	}
	defer j.Close()
	if !j.config.VersionExists(version) {
		return WrapExitError(ExitCommandError, "invalid --version-name",
			fmt.Errorf("unknown commit sync config version %q", version))
	}

	res, err := j.syncer().InitialImport(ctx, head, version)
	if err != nil {
		return reportFailure(opts, "initial import failed", err)
	}
	return opts.formatter(cmd).Success(newSyncOutput(res, nil))
}

// NewOnceCommand creates the once command.
func NewOnceCommand(opts *RootOptions) *cobra.Command {
	var commit, bookmark string

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Sync one commit and its unsynced ancestors",
		Long: `Sync a source commit and every unsynced ancestor of it into the target
repo, then optionally move a target bookmark to the synced commit.

The config version is taken from the synced ancestors. Moving a common
pushrebase bookmark syncs the commits by pushrebase.

Example:
  xreposync once --db ./sync.db --sync-config family.yaml \
    --source-repo-id 1 --target-repo-id 0 --commit <hash> --target-bookmark master`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var target *model.BookmarkKey
			if bookmark != "" {
				b := model.BookmarkKey(bookmark)
				target = &b
			}
			return runOnce(cmd, opts, commit, target)
		},
	}

	cmd.Flags().StringVar(&commit, "commit", "", "source commit to sync (required)")
	cmd.Flags().StringVar(&bookmark, "target-bookmark", "", "target bookmark to move to the synced commit")
	_ = cmd.MarkFlagRequired("commit")

	return cmd
}

func runOnce(cmd *cobra.Command, opts *RootOptions, commit string, bookmark *model.BookmarkKey) error {
	head, err := model.ParseChangesetID(commit)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --commit", err)
	}
	ctx, cancel := signalContext(cmd, opts.Logger())
	defer cancel()

	j, err := opts.openJob(ctx, true)
	if err != nil {
		return err
	}
	defer j.Close()

	res, err := j.syncer().SyncCommitAndAncestors(ctx, nil, head, bookmark)
	if err != nil {
		return reportFailure(opts, "sync failed", err)
	}
	return opts.formatter(cmd).Success(newSyncOutput(res, bookmark))
}

// TailOutput is the result of a tail run that returned.
type TailOutput struct {
	Checkpoint uint64 `json:"checkpoint"`
}

func (o TailOutput) String() string {
	return fmt.Sprintf("caught up at entry %d", o.Checkpoint)
}

// NewTailCommand creates the tail command.
func NewTailCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Replay the source bookmark update log into the target repo",
		Long: `Follow the bookmark update log of the source repo and replay every entry
in the target repo, in order. Progress is checkpointed on the target repo
in the counter xreposync_from_<source repo id>, so a restarted job resumes
after the last fully synced entry.

The job stops on the first entry that fails. With --catch-up-once it stops
once the log is exhausted, otherwise it polls every --sleep.

Example:
  xreposync tail --db ./sync.db --sync-config family.yaml \
    --source-repo-id 1 --target-repo-id 0 --bookmark-regex '^(master|release/.*)$'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd, opts)
		},
	}
	addTailFlags(cmd)
	return cmd
}

func addTailFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("sleep", tailer.DefaultSleep, "pause between polls once caught up")
	cmd.Flags().Int("batch-size", tailer.DefaultBatchSize, "entries read per query")
	cmd.Flags().Bool("catch-up-once", false, "exit once the log is exhausted")
	cmd.Flags().String("bookmark-regex", "", "only sync source bookmarks matching this regex")
}

func runTail(cmd *cobra.Command, opts *RootOptions) error {
	ctx, cancel := signalContext(cmd, opts.Logger())
	defer cancel()

	j, err := opts.openJob(ctx, true)
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

	s := j.syncer()
	t := tailer.NewSyncTailer(s, j.store.Repo(j.cfg.Source()), j.store, tcfg,
		tailer.WithLogger(j.logger),
		tailer.WithMetrics(j.metrics("sync", j.cfg.Source(), j.cfg.Target())),
	)
	return finishTail(ctx, cmd, opts, t)
}

// finishTail runs t and reports where it stopped.
func finishTail(ctx context.Context, cmd *cobra.Command, opts *RootOptions, t *tailer.Tailer) error {
	runErr := t.Run(ctx)
	if runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
		opts.Logger().Info("tailer stopped")
		runErr = nil
	}
	if runErr != nil {
		return reportFailure(opts, "tail failed", runErr)
	}
	checkpoint, err := t.Checkpoint(context.WithoutCancel(ctx))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read checkpoint", err)
	}
	return opts.formatter(cmd).Success(TailOutput{Checkpoint: checkpoint})
}

// reportFailure logs err and wraps it for the exit code. Execute prints
// it in the output format.
func reportFailure(opts *RootOptions, message string, err error) error {
	opts.Logger().Error(message,
		zap.String("error_code", string(model.CodeOf(err))),
		zap.Error(err),
	)
	return wrapSyncError(message, err)
}
