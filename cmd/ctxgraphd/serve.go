package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/config"
	httpapi "github.com/fyrsmithlabs/ctxgraph/internal/http"
)

// serveCmd runs the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the retrieval engine over HTTP",
	Long: `Start the HTTP API on server.http_host:server.http_port.

The engine state is restored from the snapshot store on start and saved again
on shutdown when persistence is enabled.

Examples:
  # Serve with the default config location
  ctxgraphd serve

  # Override the port through the environment
  SERVER_HTTP_PORT=9292 ctxgraphd serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

// runServe serves HTTP until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	srv, err := newHTTPServer(a)
	if err != nil {
		return err
	}

	go a.persistLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func newHTTPServer(a *app) (*httpapi.Server, error) {
	zl := a.logger.Component("http")
	opts := []httpapi.Option{
		httpapi.WithMetrics(httpapi.NewRequestMetrics(a.telemetry.Meter("github.com/fyrsmithlabs/ctxgraph/internal/http"), zl)),
		httpapi.WithGatherer(prometheus.DefaultGatherer),
	}
	if a.store != nil {
		opts = append(opts, httpapi.WithSnapshotStore(a.store))
	}
	srv, err := httpapi.NewServer(a.retriever, a.sessions, zl, &httpapi.Config{
		Host: a.cfg.Server.Host,
		Port: a.cfg.Server.Port,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating http server: %w", err)
	}
	return srv, nil
}
