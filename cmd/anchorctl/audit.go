package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/getanchor/anchor-go/pkg/anchor"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query, verify and export the audit trail",
	}
	cmd.AddCommand(
		newAuditQueryCmd(a),
		newAuditGetCmd(a),
		newAuditVerifyCmd(a),
		newAuditExportCmd(a),
	)
	return cmd
}

// timeRange holds the --start/--end flag values.
type timeRange struct {
	start, end string
}

func (r *timeRange) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.start, "start", "", "Start time (RFC 3339, or a duration ago such as 24h)")
	cmd.Flags().StringVar(&r.end, "end", "", "End time (RFC 3339, or a duration ago)")
}

func (r *timeRange) parse(now time.Time) (start, end *time.Time, err error) {
	if start, err = parseTimeFlag(r.start, now); err != nil {
		return nil, nil, fmt.Errorf("--start: %w", err)
	}
	if end, err = parseTimeFlag(r.end, now); err != nil {
		return nil, nil, fmt.Errorf("--end: %w", err)
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, fmt.Errorf("--end is before --start")
	}
	return start, end, nil
}

func newAuditQueryCmd(a *app) *cobra.Command {
	var (
		q   anchor.AuditQuery
		rng timeRange
	)
	cmd := &cobra.Command{
		Use:   "query AGENT",
		Short: "List audit events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if q.Start, q.End, err = rng.parse(time.Now()); err != nil {
				return err
			}
			client, err := a.api()
			if err != nil {
				return err
			}
			events, err := client.Audit.Query(cmd.Context(), args[0], &q)
			if err != nil {
				return err
			}
			if events == nil {
				events = []anchor.AuditEvent{}
			}
			return a.print(events)
		},
	}
	cmd.Flags().StringSliceVar(&q.Operations, "operation", nil, "Only these operations (repeatable)")
	cmd.Flags().StringVar(&q.Resource, "resource", "", "Only events for this resource")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "Maximum number of events")
	rng.addFlags(cmd)
	return cmd
}

func newAuditGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get AGENT EVENT",
		Short: "Show one audit event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			ev, err := client.Audit.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(ev)
		},
	}
}

func newAuditVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify AGENT",
		Short: "Ask the service to verify the audit hash chain",
		Long:  "Ask the service to verify the audit hash chain. Exits non-zero when the chain is broken.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.api()
			if err != nil {
				return err
			}
			v, err := client.Audit.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.print(v); err != nil {
				return err
			}
			if !v.Valid {
				return fmt.Errorf("audit chain invalid at event %q", v.FirstInvalid)
			}
			return nil
		},
	}
}

func newAuditExportCmd(a *app) *cobra.Command {
	var (
		params anchor.ExportParams
		rng    timeRange
	)
	cmd := &cobra.Command{
		Use:   "export AGENT",
		Short: "Generate a downloadable audit export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if params.Format != anchor.ExportFormatJSON && params.Format != anchor.ExportFormatCSV {
				return fmt.Errorf("invalid --format %q, supported: json, csv", params.Format)
			}
			var err error
			if params.Start, params.End, err = rng.parse(time.Now()); err != nil {
				return err
			}
			client, err := a.api()
			if err != nil {
				return err
			}
			res, err := client.Audit.Export(cmd.Context(), args[0], &params)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().StringVar(&params.Format, "format", anchor.ExportFormatJSON, "Export format (json, csv)")
	cmd.Flags().BoolVar(&params.IncludeVerification, "verify", false, "Include a chain verification in the export")
	rng.addFlags(cmd)
	return cmd
}
