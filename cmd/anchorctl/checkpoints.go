package main

import (
	"github.com/spf13/cobra"

	"github.com/getanchor/anchor-go/pkg/anchor"
)

func newCheckpointsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"checkpoint", "cp"},
		Short:   "Snapshot and restore agent data",
	}
	cmd.AddCommand(
		newCheckpointsCreateCmd(a),
		newCheckpointsListCmd(a),
		newCheckpointsGetCmd(a),
		newCheckpointsRestoreCmd(a),
		newCheckpointsDeleteCmd(a),
	)
	return cmd
}

func newCheckpointsCreateCmd(a *app) *cobra.Command {
	var (
		params   anchor.CreateCheckpointParams
		metadata map[string]string
	)
	cmd := &cobra.Command{
		Use:   "create AGENT",
		Short: "Snapshot the agent's current data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Metadata = metadataMap(metadata)
			client, err := a.api()
			if err != nil {
				return err
			}
			cp, err := client.Checkpoints.Create(cmd.Context(), args[0], &params)
			if err != nil {
				return err
			}
			return a.print(cp)
		},
	}
	cmd.Flags().StringVar(&params.Label, "label", "", "Checkpoint label")
	cmd.Flags().StringVar(&params.Description, "description", "", "Checkpoint description")
	cmd.Flags().StringToStringVarP(&metadata, "metadata", "m", nil, "Metadata as key=value (repeatable)")
	return cmd
}

func newCheckpointsListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list AGENT",
		Short: "List checkpoints, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			cps, err := client.Checkpoints.List(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if cps == nil {
				cps = []anchor.Checkpoint{}
			}
			return a.print(cps)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of checkpoints")
	return cmd
}

func newCheckpointsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get AGENT CHECKPOINT",
		Short: "Show a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			cp, err := client.Checkpoints.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(cp)
		},
	}
}

func newCheckpointsRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore AGENT CHECKPOINT",
		Short: "Replace the agent's data with a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			res, err := client.Checkpoints.Restore(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
}

func newCheckpointsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete AGENT CHECKPOINT",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			if err := client.Checkpoints.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return a.print(map[string]any{"id": args[1], "deleted": true})
		},
	}
}
