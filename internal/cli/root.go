// Package cli provides the command-line interface for pterobackup.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/config"
	"github.com/kiwitech/pterobackup/internal/core"
	"github.com/kiwitech/pterobackup/internal/logging"
	"github.com/kiwitech/pterobackup/internal/version"
)

// options holds the parsed flags of one invocation.
type options struct {
	verbose    int
	exclude    string
	configPath string
	noProgress bool
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	validArgs := make([]string, 0, len(config.ServerTypes))
	names := make([]string, 0, len(config.ServerTypes))
	for _, s := range config.ServerTypes {
		validArgs = append(validArgs, s.String()+"\t"+s.Description())
		names = append(names, fmt.Sprintf("  %s  %s", s, s.Description()))
	}

	rootCmd := &cobra.Command{
		Use:   "pterobackup <smp|cmp>",
		Short: "Back up a game server volume to cloud storage",
		Long: `pterobackup ` + version.Version + ` - Built: ` + version.BuildTime + `
Archives a server volume to a dated tar.gz, uploads it to the configured
bucket and deletes the local copy once the upload is confirmed.

Servers:
` + strings.Join(names, "\n") + `

The archive is kept on disk if anything after archiving fails.`,
		Example: `  pterobackup smp
  pterobackup cmp -vv -e logs
  pterobackup smp -c /etc/pterobackup/config.json`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     validArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version + " (" + version.BuildTime + ")",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	rootCmd.Flags().CountVarP(&opts.verbose, "verbose", "v", "Increase log verbosity (-v warn, -vv info, -vvv debug)")
	rootCmd.Flags().StringVarP(&opts.exclude, "exclude", "e", "", "Skip every path containing this substring")
	rootCmd.Flags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Configuration file path")
	rootCmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Do not show the archiving spinner or the upload bar")

	return rootCmd
}

// run performs one backup for serverArg.
func run(ctx context.Context, opts *options, serverArg string, out io.Writer) error {
	server, err := config.ParseServerType(serverArg)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Options{
		Verbosity: opts.verbose,
		Output:    out,
		FilePath:  cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logger.Close()

	logger.Debug().
		Str("config", opts.configPath).
		Str("backend", cfg.Backend).
		Str("server", server.String()).
		Str("exclude", opts.exclude).
		Msg("Configuration loaded")

	engine, err := core.NewEngine(core.Options{
		Config:   cfg,
		Server:   server,
		Exclude:  opts.exclude,
		Logger:   logger,
		Progress: !opts.noProgress,
	})
	if err != nil {
		return err
	}

	res, err := engine.Run(ctx)
	if err != nil {
		logger.Error().
			Err(err).
			Str("kind", string(apperr.KindOf(err))).
			Str("stage", res.Stage.String()).
			Str("archive", res.ArchivePath).
			Msg("Backup failed")
		return err
	}

	logger.Info().
		Str("object", res.ObjectName).
		Dur("elapsed", res.Elapsed).
		Msg("Backup complete")
	return nil
}

// Execute runs the root command. There is no signal handling: an
// interrupted run simply exits, leaving any archive on disk.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}
