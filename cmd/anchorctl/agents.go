package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getanchor/anchor-go/pkg/anchor"
)

func newAgentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Register and manage agents",
	}
	cmd.AddCommand(
		newAgentsCreateCmd(a),
		newAgentsGetCmd(a),
		newAgentsListCmd(a),
		newAgentsUpdateCmd(a),
		newAgentsDeleteCmd(a),
		newAgentsStatusCmd(a, "suspend", "Stop an agent from reading or writing data"),
		newAgentsStatusCmd(a, "activate", "Resume a suspended agent"),
	)
	return cmd
}

func newAgentsCreateCmd(a *app) *cobra.Command {
	var (
		metadata map[string]string
		config   string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a new agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := &anchor.CreateAgentParams{Metadata: metadataMap(metadata)}
			if config != "" {
				cfg, err := readJSONArg(config)
				if err != nil {
					return err
				}
				params.Config = cfg
			}

			client, err := a.api()
			if err != nil {
				return err
			}
			agent, err := client.Agents.Create(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			return a.print(agent)
		},
	}
	cmd.Flags().StringToStringVarP(&metadata, "metadata", "m", nil, "Metadata as key=value (repeatable)")
	cmd.Flags().StringVar(&config, "config-json", "", "Initial configuration as JSON or @file")
	return cmd
}

func newAgentsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get AGENT",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			agent, err := client.Agents.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(agent)
		},
	}
}

func newAgentsListCmd(a *app) *cobra.Command {
	var params anchor.ListAgentsParams
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents in the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			agents, err := client.Agents.List(cmd.Context(), &params)
			if err != nil {
				return err
			}
			if agents == nil {
				agents = []anchor.Agent{}
			}
			return a.print(agents)
		},
	}
	cmd.Flags().StringVar(&params.Status, "status", "", "Filter by status (active, suspended)")
	cmd.Flags().IntVar(&params.Limit, "limit", 0, "Maximum number of agents")
	cmd.Flags().IntVar(&params.Offset, "offset", 0, "Number of agents to skip")
	return cmd
}

func newAgentsUpdateCmd(a *app) *cobra.Command {
	var (
		name     string
		metadata map[string]string
	)
	cmd := &cobra.Command{
		Use:   "update AGENT",
		Short: "Rename an agent or replace its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params anchor.UpdateAgentParams
			if cmd.Flags().Changed("name") {
				params.Name = &name
			}
			params.Metadata = metadataMap(metadata)
			if params.Name == nil && params.Metadata == nil {
				return fmt.Errorf("nothing to update: set --name or --metadata")
			}

			client, err := a.api()
			if err != nil {
				return err
			}
			agent, err := client.Agents.Update(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			return a.print(agent)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New agent name")
	cmd.Flags().StringToStringVarP(&metadata, "metadata", "m", nil, "Metadata as key=value (repeatable)")
	return cmd
}

func newAgentsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete AGENT",
		Short: "Delete an agent and its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			if err := client.Agents.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.print(map[string]any{"id": args[0], "deleted": true})
		},
	}
}

// newAgentsStatusCmd builds the suspend and activate commands.
func newAgentsStatusCmd(a *app, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " AGENT",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			change := client.Agents.Activate
			if verb == "suspend" {
				change = client.Agents.Suspend
			}
			agent, err := change(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(agent)
		},
	}
}
