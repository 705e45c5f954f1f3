// Package cli implements the toolsync client commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	httpClient "github.com/iudanet/toolsync/internal/client/api"
	"github.com/iudanet/toolsync/internal/client/iocli"
	"github.com/iudanet/toolsync/internal/client/storage/boltdb"
	"github.com/iudanet/toolsync/internal/client/sync"
	"github.com/iudanet/toolsync/internal/logging"
	"github.com/iudanet/toolsync/internal/validation"
)

// Defaults and environment fallbacks for the global flags.
const (
	DefaultServerURL = "http://localhost:8000"
	DefaultDBPath    = "toolsync-client.db"

	EnvServer = "TOOLSYNC_SERVER"
	EnvUser   = "TOOLSYNC_USER"
	EnvToken  = "TOOLSYNC_TOKEN"
	EnvDB     = "TOOLSYNC_CLIENT_DB"
)

// Options are the global flags shared by every command.
type Options struct {
	ServerURL string
	DBPath    string
	UserID    string
	Token     string
	LogLevel  string
}

type Cli struct {
	io          iocli.IO
	apiClient   httpClient.ClientAPI
	syncService sync.Service
	logger      *slog.Logger
	closers     []io.Closer
	opts        Options
}

// New creates a Cli with ready dependencies. NewRootCommand builds them from
// flags instead.
func New(out iocli.IO, apiClient httpClient.ClientAPI, syncService sync.Service, opts Options) *Cli {
	return &Cli{
		io:          out,
		apiClient:   apiClient,
		syncService: syncService,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		opts:        opts,
	}
}

// Execute runs the command line in args and releases local state afterwards.
func Execute(ctx context.Context, out iocli.IO, version string, args []string) error {
	root, c := newRootCommand(out, version)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}

// NewRootCommand returns the toolsync command tree.
func NewRootCommand(out iocli.IO, version string) *cobra.Command {
	root, _ := newRootCommand(out, version)
	return root
}

func newRootCommand(out iocli.IO, version string) (*cobra.Command, *Cli) {
	c := &Cli{io: out}

	root := &cobra.Command{
		Use:           "toolsync",
		Short:         "Sync a tools_data snapshot with a toolsync server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context())
		},
	}
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVar(&c.opts.ServerURL, "server", envOr(EnvServer, DefaultServerURL), "server URL ($"+EnvServer+")")
	f.StringVar(&c.opts.DBPath, "db", envOr(EnvDB, DefaultDBPath), "path to local state database ($"+EnvDB+")")
	f.StringVar(&c.opts.UserID, "user", os.Getenv(EnvUser), "user id ($"+EnvUser+")")
	f.StringVar(&c.opts.Token, "token", os.Getenv(EnvToken), "bearer token when the server requires auth ($"+EnvToken+")")
	f.StringVar(&c.opts.LogLevel, "log-level", "warn", "log level for diagnostics on stderr")

	root.AddCommand(
		newSyncCmd(c),
		newRecordsCmd(c),
		newRecordCmd(c),
		newSnapshotCmd(c),
		newRollbackCmd(c),
		newStatusCmd(c),
	)

	return root, c
}

// setup opens local state and builds the API client from the flags.
func (c *Cli) setup(ctx context.Context) error {
	if c.syncService != nil {
		return nil
	}

	logger, _, err := logging.New(logging.Options{Output: os.Stderr, Level: c.opts.LogLevel})
	if err != nil {
		return err
	}
	c.logger = logger

	store, err := boltdb.New(ctx, c.opts.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open local state: %w", err)
	}
	c.closers = append(c.closers, store)

	apiClient := httpClient.NewClient(c.opts.ServerURL)
	c.apiClient = apiClient
	c.syncService = sync.NewService(apiClient, store, logger)

	return nil
}

// Close releases local resources opened by setup.
func (c *Cli) Close() error {
	var errs []error
	for _, closer := range c.closers {
		errs = append(errs, closer.Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Cli) userID() (string, error) {
	userID, err := validation.NormalizeUserID(c.opts.UserID)
	if err != nil {
		return "", fmt.Errorf("--user is required: %w", err)
	}
	return userID, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
