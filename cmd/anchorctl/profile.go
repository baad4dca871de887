package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newProfileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Print the effective profile with the API key masked",
		Long: `Print the profile after the file, environment and flags are merged. Keys
use the profile file's names so the output can be pasted back into it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(a.profile.Redacted())
			if err != nil {
				return fmt.Errorf("failed to encode profile: %w", err)
			}
			var generic map[string]any
			if err := yaml.Unmarshal(data, &generic); err != nil {
				return fmt.Errorf("failed to encode profile: %w", err)
			}
			return a.print(generic)
		},
	}
}
