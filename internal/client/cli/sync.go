package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/iudanet/toolsync/internal/client/iocli"
	"github.com/iudanet/toolsync/internal/client/sync"
	"github.com/iudanet/toolsync/internal/resolve"
)

var syncExample = `
  toolsync --user alice sync tools.json
  toolsync --user alice sync --force use_server tools.json`

func newSyncCmd(c *Cli) *cobra.Command {
	var force string

	cmd := &cobra.Command{
		Use:     "sync <file.json>",
		Short:   "Sync a tools_data file with the server",
		Long:    "Sends the file to the server. When the server copy wins, the file is replaced with it. A missing file is synced as an empty snapshot.",
		Example: syncExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSync(cmd.Context(), args[0], force)
		},
	}
	cmd.Flags().StringVar(&force, "force", "", "override the decision: use_client or use_server")

	return cmd
}

func (c *Cli) runSync(ctx context.Context, path, force string) error {
	userID, err := c.userID()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// новое устройство еще не имеет файла
		data = []byte("{}")
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	result, err := c.syncService.Sync(ctx, sync.SyncParams{
		UserID:      userID,
		AccessToken: c.opts.Token,
		Force:       force,
		ToolsData:   data,
	})
	if err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}

	c.io.Printf("Decision:        %s\n", result.Decision)
	c.io.Printf("Server revision: %d\n", result.ServerRevision)
	if result.Message != "" {
		c.io.Printf("Message:         %s\n", result.Message)
	}

	if result.Decision == resolve.UseServer {
		if err := writeSnapshotFile(path, result.ToolsData); err != nil {
			return err
		}
		c.io.Printf("Updated %s from server\n", path)
	}

	return nil
}

// writeSnapshotFile заменяет файл атомарно через временный файл
func writeSnapshotFile(path string, data []byte) error {
	formatted, err := iocli.FormatJSON(data, true)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(formatted); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
