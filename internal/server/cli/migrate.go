package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/iudanet/toolsync/internal/server/storage/sqlite"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withProvider(cmd, func(p *goose.Provider) error {
					results, err := p.Up(cmd.Context())
					if err != nil {
						return fmt.Errorf("goose up failed: %w", err)
					}
					for _, r := range results {
						fmt.Fprintf(cmd.OutOrStdout(), "OK   %s (%s)\n", r.Source.Path, r.Duration.Round(time.Millisecond))
					}
					if len(results) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "no migrations to apply")
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withProvider(cmd, func(p *goose.Provider) error {
					r, err := p.Down(cmd.Context())
					if errors.Is(err, goose.ErrNoNextVersion) {
						fmt.Fprintln(cmd.OutOrStdout(), "no migrations to roll back")
						return nil
					}
					if err != nil {
						return fmt.Errorf("goose down failed: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "DOWN %s\n", r.Source.Path)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withProvider(cmd, func(p *goose.Provider) error {
					statuses, err := p.Status(cmd.Context())
					if err != nil {
						return fmt.Errorf("goose status failed: %w", err)
					}
					for _, s := range statuses {
						applied := "-"
						if s.State == goose.StateApplied {
							applied = s.AppliedAt.UTC().Format(time.RFC3339)
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-25s %s\n", s.State, applied, s.Source.Path)
					}
					return nil
				})
			},
		},
	)

	return cmd
}

// withProvider opens the database without auto-migrating and hands goose to fn.
func withProvider(cmd *cobra.Command, fn func(p *goose.Provider) error) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	store, err := sqlite.New(cmd.Context(), e.cfg.Database.Path,
		sqlite.WithLogger(e.logger),
		sqlite.WithBusyTimeout(e.cfg.Database.BusyTimeout),
		sqlite.WithoutMigrations(),
	)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	provider, err := store.Migrations()
	if err != nil {
		return err
	}
	return fn(provider)
}
