// Package mcp wraps a Model Context Protocol server so it runs under an
// Anchor agent's governance.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getanchor/anchor-go/pkg/anchor"
)

// ErrInvalidAgentID is returned by Wrap for an empty agent id.
var ErrInvalidAgentID = errors.New("mcp: agent id must be a non-empty string")

// Server is an MCP server that can be started.
type Server interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by servers that support a graceful stop.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Hook runs around the base server's Start.
type Hook func(ctx context.Context, s *GovernedServer) error

// Options tunes Wrap. The zero value validates the agent and logs through
// slog.Default().
type Options struct {
	// SkipValidation disables the Agents.Get check in Wrap.
	SkipValidation bool
	// Logger receives lifecycle events.
	Logger *slog.Logger
	// PreStart runs before the base server starts. An error aborts Start.
	PreStart Hook
	// PostStart runs after the base server started.
	PostStart Hook
}

// GovernedServer delegates to a base MCP server on behalf of one agent.
type GovernedServer struct {
	client  *anchor.Client
	agentID string
	base    Server
	logger  *slog.Logger
	pre     Hook
	post    Hook
}

// Wrap validates agentID and returns a governed wrapper around base.
// Unless opts.SkipValidation is set, the agent must exist.
func Wrap(ctx context.Context, client *anchor.Client, agentID string, base Server, opts *Options) (*GovernedServer, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, ErrInvalidAgentID
	}
	if base == nil {
		return nil, errors.New("mcp: base server is required")
	}
	if opts == nil {
		opts = &Options{}
	}

	if !opts.SkipValidation {
		if client == nil {
			return nil, errors.New("mcp: client is required to validate the agent; set SkipValidation to skip")
		}
		if _, err := client.Agents.Get(ctx, agentID); err != nil {
			return nil, fmt.Errorf("mcp: failed to validate agent %q (set SkipValidation to skip): %w", agentID, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GovernedServer{
		client:  client,
		agentID: agentID,
		base:    base,
		logger:  logger.With("component", "mcp", "agent_id", agentID),
		pre:     opts.PreStart,
		post:    opts.PostStart,
	}, nil
}

// AgentID returns the governing agent.
func (s *GovernedServer) AgentID() string { return s.agentID }

// Client returns the Anchor client, which may be nil when validation was
// skipped.
func (s *GovernedServer) Client() *anchor.Client { return s.client }

// Base returns the wrapped server.
func (s *GovernedServer) Base() Server { return s.base }

// Start runs the pre-start hook, starts the base server, then runs the
// post-start hook.
func (s *GovernedServer) Start(ctx context.Context) error {
	if s.pre != nil {
		if err := s.pre(ctx, s); err != nil {
			return fmt.Errorf("mcp: pre-start hook: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "starting governed MCP server")
	if err := s.base.Start(ctx); err != nil {
		return err
	}

	if s.post != nil {
		if err := s.post(ctx, s); err != nil {
			return fmt.Errorf("mcp: post-start hook: %w", err)
		}
	}
	return nil
}

// Stop stops the base server if it implements Stopper, and is a no-op
// otherwise.
func (s *GovernedServer) Stop(ctx context.Context) error {
	stopper, ok := s.base.(Stopper)
	if !ok {
		return nil
	}
	s.logger.InfoContext(ctx, "stopping governed MCP server")
	return stopper.Stop(ctx)
}

func (s *GovernedServer) String() string {
	return fmt.Sprintf("mcp.GovernedServer(agent_id=%q, base=%T)", s.agentID, s.base)
}
