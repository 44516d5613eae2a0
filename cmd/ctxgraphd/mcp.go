package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxgraph/internal/config"
	mcpserver "github.com/fyrsmithlabs/ctxgraph/internal/mcp"
)

// mcpCmd runs the MCP server on stdio.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the retrieval engine as an MCP server on stdio",
	Long: `Start an MCP server on stdin/stdout exposing the knowledge, graph and
session tools. Logs are written to stderr.

Examples:
  # Register with an MCP client
  ctxgraphd mcp --config ~/.config/ctxgraph/config.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runMCP(cmd.Context(), cfg)
	},
}

// runMCP serves MCP on stdio until ctx is cancelled or the client hangs up.
func runMCP(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	srv, err := newMCPServer(a)
	if err != nil {
		return err
	}

	go a.persistLoop(ctx)
	return srv.Run(ctx)
}

func newMCPServer(a *app) (*mcpserver.Server, error) {
	srv, err := mcpserver.NewServer(&mcpserver.Config{
		Name:    "ctxgraph",
		Version: version,
		Logger:  a.logger.Component("mcp"),
		Meter:   a.telemetry.Meter("github.com/fyrsmithlabs/ctxgraph/internal/mcp"),
	}, a.retriever, a.sessions)
	if err != nil {
		return nil, fmt.Errorf("creating mcp server: %w", err)
	}
	return srv, nil
}
