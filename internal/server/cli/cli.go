// Package cli implements the toolsync-server commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iudanet/toolsync/internal/logging"
	"github.com/iudanet/toolsync/internal/server/config"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// env holds what every subcommand needs after flags are parsed.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func (e *env) Close() {
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

// NewRootCommand returns the toolsync-server command tree.
func NewRootCommand(build BuildInfo) *cobra.Command {
	root := &cobra.Command{
		Use:           "toolsync-server",
		Short:         "Authoritative server for whole-snapshot tools_data sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newArchiveCmd(),
		newTokenCmd(),
		newVersionCmd(build),
	)

	return root
}

// loadEnv reads configuration from the parsed flags and builds the logger.
func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.New(logging.Options{
		Output:     cmd.ErrOrStderr(),
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	return &env{cfg: cfg, logger: logger, closer: closer}, nil
}

func newVersionCmd(build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "toolsync-server\n")
			fmt.Fprintf(out, "Version:    %s\n", build.Version)
			fmt.Fprintf(out, "Build Date: %s\n", build.BuildDate)
			fmt.Fprintf(out, "Git Commit: %s\n", build.GitCommit)
			return nil
		},
	}
}
