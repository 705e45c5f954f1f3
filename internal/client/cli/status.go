package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/toolsync/internal/client/storage"
)

func newStatusCmd(c *Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last sync of this device and server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runStatus(cmd.Context())
		},
	}
}

func (c *Cli) runStatus(ctx context.Context) error {
	userID, err := c.userID()
	if err != nil {
		return err
	}

	c.io.Println("=== Sync Status ===")
	c.io.Printf("User:   %s\n", userID)
	c.io.Printf("Server: %s\n", c.opts.ServerURL)

	health, err := c.apiClient.Health(ctx)
	if err != nil {
		// сервер недоступен, но локальное состояние все равно показываем
		c.io.Printf("Health: unreachable (%v)\n", err)
	} else {
		c.io.Printf("Health: %s\n", health.Status)
	}

	state, err := c.syncService.Status(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrStateNotFound):
		c.io.Println()
		c.io.Println("This device has not synced yet.")
		return nil
	case err != nil:
		return fmt.Errorf("failed to read sync state: %w", err)
	}

	c.io.Println()
	c.io.Printf("Last decision:        %s\n", state.LastDecision)
	c.io.Printf("Last server revision: %d\n", state.LastServerRevision)
	c.io.Printf("Last server time:     %s\n", formatMillis(state.LastServerTimeMs))
	c.io.Printf("Last synced at:       %s\n", formatMillis(state.LastSyncedAtMs))
	return nil
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
