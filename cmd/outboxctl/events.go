package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helixir/search-outbox/internal/pipeline"
)

// eventCommand describes one tenant-scoped event operation.
type eventCommand struct {
	use       string
	short     string
	operation string
	// verb renders the count in text output, e.g. "reprocessed".
	verb  string
	apply func(adminClient) func(context.Context, string) (int64, error)
}

var eventOps = []eventCommand{
	{
		use:       "count-aborted",
		short:     "Count aborted events",
		operation: pipeline.OpCountAborted,
		verb:      "aborted",
		apply:     func(a adminClient) func(context.Context, string) (int64, error) { return a.CountAbortedEvents },
	},
	{
		use:       "count-pending",
		short:     "Count pending events",
		operation: pipeline.OpCountPending,
		verb:      "pending",
		apply:     func(a adminClient) func(context.Context, string) (int64, error) { return a.CountPendingEvents },
	},
	{
		use:       "reprocess-aborted",
		short:     "Return aborted events to the pending queue with a fresh retry budget",
		operation: pipeline.OpReprocessAborted,
		verb:      "reprocessed",
		apply:     func(a adminClient) func(context.Context, string) (int64, error) { return a.ReprocessAbortedEvents },
	},
	{
		use:       "clear-aborted",
		short:     "Delete all aborted events",
		operation: pipeline.OpClearAborted,
		verb:      "cleared",
		apply:     func(a adminClient) func(context.Context, string) (int64, error) { return a.ClearAllAbortedEvents },
	},
}

func (c *cli) eventCommands() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(eventOps))
	for _, op := range eventOps {
		cmd := &cobra.Command{
			Use:     op.use,
			Short:   op.short,
			GroupID: "events",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := c.ctx(cmd)
				defer cancel()

				n, err := op.apply(c.admin)(ctx, c.tenantID)
				if err != nil {
					return err
				}

				if c.jsonOutput {
					return printJSON(cmd.OutOrStdout(), countOutput{
						Operation: op.operation,
						TenantID:  c.tenantID,
						Count:     n,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d events %s%s\n", n, op.verb, tenantSuffix(c.tenantID))
				return nil
			},
		}
		cmd.Flags().StringVar(&c.tenantID, "tenant", "", "tenant id (required when multi-tenancy is enabled)")
		cmds = append(cmds, cmd)
	}
	return cmds
}

func tenantSuffix(tenantID string) string {
	if tenantID == "" {
		return ""
	}
	return fmt.Sprintf(" (tenant %s)", tenantID)
}
