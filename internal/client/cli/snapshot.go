package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/toolsync/internal/client/iocli"
	"github.com/iudanet/toolsync/pkg/api"
)

func newSnapshotCmd(c *Cli) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "snapshot <revision>",
		Short: "Fetch the tools_data stored at a server revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revision, err := parsePositive(args[0], "revision")
			if err != nil {
				return err
			}
			return c.runSnapshot(cmd.Context(), revision, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write tools_data to this file instead of stdout")

	return cmd
}

func (c *Cli) runSnapshot(ctx context.Context, revision int64, output string) error {
	userID, err := c.userID()
	if err != nil {
		return err
	}

	resp, err := c.apiClient.GetSnapshot(ctx, c.opts.Token, userID, revision)
	if err != nil {
		return err
	}

	if output == "" {
		return iocli.WriteJSON(c.io, resp.Snapshot.ToolsData)
	}

	if err := writeSnapshotFile(output, resp.Snapshot.ToolsData); err != nil {
		return err
	}
	c.io.Printf("Wrote revision %d to %s\n", resp.Snapshot.ServerRevision, output)
	return nil
}

func newRollbackCmd(c *Cli) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rollback <revision>",
		Short: "Restore a historical revision as the new current server snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revision, err := parsePositive(args[0], "revision")
			if err != nil {
				return err
			}
			return c.runRollback(cmd.Context(), revision, yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func (c *Cli) runRollback(ctx context.Context, revision int64, yes bool) error {
	userID, err := c.userID()
	if err != nil {
		return err
	}

	if !yes {
		answer, err := c.io.ReadInput(fmt.Sprintf("Restore revision %d for %s as a new revision? [y/N]: ", revision, userID))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if answer != "y" && answer != "Y" && answer != "yes" {
			c.io.Println("Rollback cancelled")
			return nil
		}
	}

	resp, err := c.apiClient.Rollback(ctx, c.opts.Token, api.RollbackRequest{
		UserID:         userID,
		TargetRevision: revision,
	})
	if err != nil {
		return err
	}

	c.io.Printf("Restored revision %d as revision %d\n", resp.RestoredFromRevision, resp.ServerRevision)
	c.io.Println("Run 'toolsync sync' on each device to pick it up.")
	return nil
}
