package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/getanchor/anchor-go/pkg/anchor"
	"github.com/getanchor/anchor-go/pkg/config"
	"github.com/getanchor/anchor-go/pkg/policy"
	"github.com/getanchor/anchor-go/pkg/telemetry"
)

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Build and apply policy packs",
		Long: `Build the default policy pack, optionally overridden from a pack file and
flags, and store it as an agent's configuration.

A pack file may set a key to null to omit that policy, for example:

  max_query_size: null
  require_approval_for: [delete]`,
	}
	cmd.AddCommand(
		newPolicyDefaultsCmd(a),
		newPolicyApplyCmd(a),
		newPolicyWatchCmd(a),
	)
	return cmd
}

func newPolicyDefaultsCmd(a *app) *cobra.Command {
	var pf packFlags
	cmd := &cobra.Command{
		Use:         "defaults",
		Short:       "Print the policy pack without applying it",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := pf.Config(cmd.Flags())
			if err != nil {
				return err
			}
			return a.print(policy.BuildDefaultPolicies(cfg))
		},
	}
	pf.AddFlags(cmd.Flags())
	return cmd
}

func newPolicyApplyCmd(a *app) *cobra.Command {
	var pf packFlags
	cmd := &cobra.Command{
		Use:   "apply AGENT",
		Short: "Store the policy pack as the agent's new configuration version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pf.Config(cmd.Flags())
			if err != nil {
				return err
			}
			client, err := a.api()
			if err != nil {
				return err
			}
			updated, err := client.Config.Update(cmd.Context(), args[0], policy.BuildDefaultPolicies(cfg))
			if err != nil {
				return err
			}
			return a.print(updated)
		},
	}
	pf.AddFlags(cmd.Flags())
	return cmd
}

func newPolicyWatchCmd(a *app) *cobra.Command {
	var (
		pf          packFlags
		metricsAddr string
		debounce    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch AGENT --file PACK",
		Short: "Apply a pack file and re-apply it whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			agentID := args[0]
			logger := a.logger.With("component", "policy_watch", "agent_id", agentID, "file", pf.File)

			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				m, err := telemetry.NewPrometheusMetrics(reg)
				if err != nil {
					return err
				}
				a.transport = m.Transport(a.transport)
				stop, err := serveMetrics(ctx, metricsAddr, reg, logger)
				if err != nil {
					return err
				}
				defer stop()
			}

			profiles, err := a.watchProfile(logger)
			if err != nil {
				return err
			}
			if profiles != nil {
				defer profiles.Close()
			}

			var mu sync.Mutex
			client := func() (*anchor.Client, error) {
				mu.Lock()
				defer mu.Unlock()
				if profiles != nil {
					if p := profiles.Current(); p != nil && p != a.profile {
						a.profile, a.client = p, nil
					}
				}
				return a.api()
			}

			apply := func() error {
				cfg, err := pf.Config(cmd.Flags())
				if err != nil {
					return err
				}
				c, err := client()
				if err != nil {
					return err
				}
				updated, err := c.Config.Update(ctx, agentID, policy.BuildDefaultPolicies(cfg))
				if err != nil {
					return err
				}
				logger.Info("policy pack applied", "version", string(updated.Version))
				return nil
			}

			if err := apply(); err != nil {
				return err
			}

			watcher, err := config.WatchFile(pf.File, debounce, logger, func() {
				if err := apply(); err != nil {
					logger.Error("failed to apply policy pack, keeping previous version", "error", err)
				}
			})
			if err != nil {
				return err
			}
			defer watcher.Close()

			logger.Info("watching policy pack")
			<-ctx.Done()
			return nil
		},
	}
	pf.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().DurationVar(&debounce, "debounce", config.DefaultDebounce, "Quiet period before re-applying after a change")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// watchProfile reloads the profile file as it changes so a rotated API key
// takes effect on the next apply. It returns nil when there is no profile
// file to watch.
func (a *app) watchProfile(logger *slog.Logger) (*config.Loader, error) {
	path := a.profilePath()
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		logger.Debug("profile file not found, not watching it", "path", path)
		return nil, nil
	}
	loader, err := config.NewLoader(path, a.overrides(), logger)
	if err != nil {
		return nil, err
	}
	if _, err := loader.Load(); err != nil {
		return nil, err
	}
	if err := loader.Watch(nil); err != nil {
		return nil, err
	}
	return loader, nil
}

// serveMetrics serves /metrics on addr until stop is called.
func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
