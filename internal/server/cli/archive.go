package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/toolsync/internal/server/archive"
	"github.com/iudanet/toolsync/internal/server/storage/sqlite"
)

func newArchiveCmd() *cobra.Command {
	var (
		userID   string
		revision int64
		bucket   string
	)

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Upload a stored revision to S3-compatible storage",
		Long: "Uploads the canonical JSON of a revision to the configured bucket under " +
			"users/<user>/revisions/<rev>-<sha256>.json. Revision 0 archives the live snapshot.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if bucket != "" {
				e.cfg.Archive.Bucket = bucket
			}
			if err := e.cfg.ValidateArchive(); err != nil {
				return err
			}

			store, err := sqlite.New(cmd.Context(), e.cfg.Database.Path,
				sqlite.WithLogger(e.logger),
				sqlite.WithBusyTimeout(e.cfg.Database.BusyTimeout),
			)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			client, err := archive.NewS3Client(cmd.Context(), e.cfg.Archive)
			if err != nil {
				return err
			}

			result, err := archive.NewArchiver(e.logger, store, client, e.cfg.Archive.Bucket).
				ArchiveRevision(cmd.Context(), userID, revision)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "s3://%s/%s (revision %d, %d bytes)\n",
				result.Bucket, result.Key, result.Revision, result.Size)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&userID, "user", "", "user whose snapshot to archive")
	f.Int64Var(&revision, "revision", 0, "revision to archive, 0 for the live snapshot")
	f.StringVar(&bucket, "bucket", "", "override archive.bucket")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
