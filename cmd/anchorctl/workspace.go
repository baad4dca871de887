package main

import (
	"github.com/spf13/cobra"
)

func newWorkspaceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "workspace",
		Short: "Print the workspace requests are scoped to",
		Long: `Print the configured workspace id. When none is configured, the first
workspace visible to the API key is looked up; an empty id means requests are
sent without a workspace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			id, err := client.ResolveWorkspaceID(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(map[string]string{"workspaceId": id})
		},
	}
}
