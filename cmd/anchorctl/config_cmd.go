package main

import (
	"github.com/spf13/cobra"

	"github.com/getanchor/anchor-go/pkg/anchor"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and version agent configuration",
	}
	cmd.AddCommand(
		newConfigGetCmd(a),
		newConfigUpdateCmd(a),
		newConfigVersionsCmd(a),
		newConfigGetVersionCmd(a),
		newConfigRollbackCmd(a),
	)
	return cmd
}

func newConfigGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get AGENT",
		Short: "Show the current configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			cfg, err := client.Config.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cfg)
		},
	}
}

func newConfigUpdateCmd(a *app) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "update AGENT --data JSON|@FILE",
		Short: "Store a new configuration version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readJSONArg(data)
			if err != nil {
				return err
			}
			client, err := a.api()
			if err != nil {
				return err
			}
			updated, err := client.Config.Update(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}
			return a.print(updated)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Configuration as a JSON object or @file (JSONC accepted)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newConfigVersionsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "versions AGENT",
		Short: "List stored configuration versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			versions, err := client.Config.Versions(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if versions == nil {
				versions = []anchor.ConfigVersion{}
			}
			return a.print(versions)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of versions")
	return cmd
}

func newConfigGetVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get-version AGENT VERSION",
		Short: "Show one stored configuration version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			cfg, err := client.Config.GetVersion(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(cfg)
		},
	}
}

func newConfigRollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback AGENT VERSION",
		Short: "Make a previous version current again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			cfg, err := client.Config.Rollback(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(cfg)
		},
	}
}
