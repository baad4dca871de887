package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getanchor/anchor-go/pkg/anchor"
)

func newDataCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Read and write policy-governed agent data",
	}
	cmd.AddCommand(
		newDataWriteCmd(a),
		newDataReadCmd(a),
		newDataReadFullCmd(a),
		newDataDeleteCmd(a),
		newDataDeletePrefixCmd(a),
		newDataListCmd(a),
		newDataSearchCmd(a),
	)
	return cmd
}

func newDataWriteCmd(a *app) *cobra.Command {
	var metadata map[string]string
	cmd := &cobra.Command{
		Use:   "write AGENT KEY [VALUE|-]",
		Short: "Store a value; a policy block exits non-zero",
		Long: `Store a value under KEY. The value is read from stdin when omitted or "-".
A write the service blocks by policy prints the result and exits with status 5.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := valueArg(cmd, args, 2)
			if err != nil {
				return err
			}
			client, err := a.api()
			if err != nil {
				return err
			}
			res, err := client.Data.Write(cmd.Context(), args[0], args[1], value, metadataMap(metadata))
			if err != nil {
				return err
			}
			if err := a.print(res); err != nil {
				return err
			}
			if !res.Allowed {
				return fmt.Errorf("write to %q blocked by %s: %s: %w", res.Key, res.BlockedBy, res.Reason, anchor.ErrPolicyViolation)
			}
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&metadata, "metadata", "m", nil, "Metadata as key=value (repeatable)")
	return cmd
}

// valueArg returns args[i], or stdin when it is absent or "-".
func valueArg(cmd *cobra.Command, args []string, i int) (string, error) {
	if len(args) > i && args[i] != "-" {
		return args[i], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read value from stdin: %w", err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

func newDataReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read AGENT KEY",
		Short: "Print the value stored under KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			value, ok, err := client.Data.Read(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key %q: %w", args[1], anchor.ErrNotFound)
			}
			_, err = fmt.Fprintln(a.stdout, value)
			return err
		},
	}
}

func newDataReadFullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read-full AGENT KEY",
		Short: "Show the record stored under KEY with its metadata",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			entry, err := client.Data.ReadFull(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(entry)
		},
	}
}

func newDataDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete AGENT KEY",
		Short: "Delete one key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			if err := client.Data.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return a.print(map[string]any{"key": args[1], "deleted": true})
		},
	}
}

func newDataDeletePrefixCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-prefix AGENT PREFIX",
		Short: "Delete every key starting with PREFIX",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			n, err := client.Data.DeletePrefix(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(map[string]any{"prefix": args[1], "deleted": n})
		},
	}
}

func newDataListCmd(a *app) *cobra.Command {
	var params anchor.ListDataParams
	cmd := &cobra.Command{
		Use:   "list AGENT",
		Short: "List stored records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			entries, err := client.Data.List(cmd.Context(), args[0], &params)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []anchor.Entry{}
			}
			return a.print(entries)
		},
	}
	cmd.Flags().StringVar(&params.Prefix, "prefix", "", "Only keys with this prefix")
	cmd.Flags().IntVar(&params.Limit, "limit", 0, "Maximum number of records")
	return cmd
}

func newDataSearchCmd(a *app) *cobra.Command {
	var params anchor.SearchParams
	cmd := &cobra.Command{
		Use:   "search AGENT QUERY",
		Short: "Find records similar to QUERY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			results, err := client.Data.Search(cmd.Context(), args[0], args[1], &params)
			if err != nil {
				return err
			}
			if results == nil {
				results = []anchor.SearchResult{}
			}
			return a.print(results)
		},
	}
	cmd.Flags().IntVar(&params.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().Float64Var(&params.MinScore, "min-score", 0, "Minimum similarity score")
	return cmd
}
