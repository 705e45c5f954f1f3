package cli

import (
	"github.com/spf13/cobra"

	"github.com/iudanet/toolsync/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP sync server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			srv, err := server.New(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
