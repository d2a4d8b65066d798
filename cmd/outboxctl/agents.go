package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (c *cli) agentsCmd() *cobra.Command {
	agents := &cobra.Command{
		Use:     "agents",
		Short:   "Inspect and control cluster agents",
		GroupID: "agents",
	}

	agents.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered agents and their shard assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			list, err := c.admin.ListAgents(ctx)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), toAgentOutputs(list))
			}
			printAgentTable(cmd.OutOrStdout(), list)
			return nil
		},
	})

	agents.AddCommand(&cobra.Command{
		Use:   "suspend <agent-id>",
		Short: "Suspend an agent; it keeps its shard but stops draining",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.setAgentState(cmd, args[0], "suspended")
		},
	})

	agents.AddCommand(&cobra.Command{
		Use:   "resume <agent-id>",
		Short: "Resume a suspended agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.setAgentState(cmd, args[0], "resumed")
		},
	})

	return agents
}

func (c *cli) setAgentState(cmd *cobra.Command, arg, verb string) error {
	id, err := uuid.Parse(arg)
	if err != nil {
		return fmt.Errorf("invalid agent id %q: %w", arg, err)
	}

	ctx, cancel := c.ctx(cmd)
	defer cancel()

	apply := c.admin.SuspendAgent
	if verb == "resumed" {
		apply = c.admin.ResumeAgent
	}
	if err := apply(ctx, id); err != nil {
		return err
	}

	if c.jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]string{"agent_id": id.String(), "result": verb})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "agent %s %s\n", id, verb)
	return nil
}
