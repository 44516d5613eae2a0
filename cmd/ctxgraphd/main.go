// Ctxgraphd runs the ctxgraph hybrid retrieval engine.
//
// The engine is served over HTTP (serve) or over MCP on stdio (mcp).
// Configuration is read from a YAML file and environment variables named
// after the config sections (SERVER_HTTP_PORT, EMBEDDINGS_PROVIDER, ...).
//
// Usage:
//
//	# Serve HTTP on the configured host and port
//	ctxgraphd serve
//
//	# Serve MCP on stdio with a config file
//	ctxgraphd mcp --config ~/.config/ctxgraph/config.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxgraph/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag value. Empty uses the default location.
var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ctxgraphd",
	Short: "Hybrid graph and vector knowledge retrieval daemon",
	Long: `ctxgraphd ingests documents into a knowledge graph and a vector index and
serves ranked, fused retrieval contexts to agents over HTTP or MCP.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/ctxgraph/config.yaml)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("ctxgraphd %s (commit %s, built %s)\n", version, gitCommit, buildDate))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config selected by --config.
func loadConfig() (*config.Config, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ctxgraphd %s\n", version)
	fmt.Fprintf(w, "  commit: %s\n", gitCommit)
	fmt.Fprintf(w, "  built:  %s\n", buildDate)
}
