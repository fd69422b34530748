package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RootOptions holds global flags and the state shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	viper       *viper.Viper
	buildLogger LoggerBuilder
	logger      *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the xreposync CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand(NewLogger)
	return cmd
}

// Execute runs the CLI with args, prints any error in the selected output
// format and returns the process exit code. Errors raised by cobra itself,
// such as unknown or missing flags, are command errors.
func Execute(ctx context.Context, args []string) int {
	return execute(ctx, args, NewLogger, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, buildLogger LoggerBuilder, stdout, stderr io.Writer) int {
	cmd, opts := newRootCommand(buildLogger)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	if !isValidFormat(opts.Format) {
		opts.Format = "text"
	}
	_ = opts.formatter(cmd).Error(err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

func newRootCommand(buildLogger LoggerBuilder) (*cobra.Command, *RootOptions) {
	opts := &RootOptions{
		viper:       newViper(),
		buildLogger: buildLogger,
	}

	cmd := &cobra.Command{
		Use:   "xreposync",
		Short: "Cross-repository commit sync",
		Long: `Replays commits and bookmark moves between a small repository and the
large repository that embeds it, and validates the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if err := readConfigFile(opts.viper, opts.ConfigFile); err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			if err := bindFlags(opts.viper, cmd.Flags()); err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			logger, err := opts.buildLogger(opts.Verbose)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create logger", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigFile, "config", "", "job config file (default ./xreposync.yaml if present)")
	pf.String("db", "", "path to the SQLite store")
	pf.String("sync-config", "", "commit sync config file (.yaml or .cue)")
	pf.Int64("source-repo-id", -1, "repo to sync from")
	pf.Int64("target-repo-id", -1, "repo to sync into")
	pf.Bool("pushrebase-rewrite-dates", false, "give pushrebased commits the current date")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(NewInitialImportCommand(opts))
	cmd.AddCommand(NewOnceCommand(opts))
	cmd.AddCommand(NewTailCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd, opts
}

// formatter returns the output formatter of cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// Logger returns the logger built for the running command.
func (o *RootOptions) Logger() *zap.Logger {
	if o.logger == nil {
		return zap.NewNop()
	}
	return o.logger
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
