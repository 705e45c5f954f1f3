package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	httpClient "github.com/iudanet/toolsync/internal/client/api"
	"github.com/iudanet/toolsync/internal/client/iocli"
)

func newRecordsCmd(c *Cli) *cobra.Command {
	var (
		limit  int
		before int64
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List sync audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := httpClient.RecordsQuery{Limit: limit}
			if cmd.Flags().Changed("before") {
				q.BeforeID = &before
			}
			return c.runRecords(cmd.Context(), q)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default 50, at most 200)")
	cmd.Flags().Int64Var(&before, "before", 0, "only records with id below this one")

	return cmd
}

func (c *Cli) runRecords(ctx context.Context, q httpClient.RecordsQuery) error {
	userID, err := c.userID()
	if err != nil {
		return err
	}
	q.UserID = userID

	resp, err := c.apiClient.ListRecords(ctx, c.opts.Token, q)
	if err != nil {
		return err
	}
	return iocli.WriteValue(c.io, resp)
}

func newRecordCmd(c *Cli) *cobra.Command {
	return &cobra.Command{
		Use:   "record <id>",
		Short: "Show one sync audit record with its full diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePositive(args[0], "record id")
			if err != nil {
				return err
			}
			return c.runRecord(cmd.Context(), id)
		},
	}
}

func (c *Cli) runRecord(ctx context.Context, id int64) error {
	userID, err := c.userID()
	if err != nil {
		return err
	}

	resp, err := c.apiClient.GetRecord(ctx, c.opts.Token, userID, id)
	if err != nil {
		return err
	}
	return iocli.WriteValue(c.io, resp.Record)
}

func parsePositive(raw, what string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", what, raw)
	}
	return v, nil
}
