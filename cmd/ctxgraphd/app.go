package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/cache"
	"github.com/fyrsmithlabs/ctxgraph/internal/config"
	"github.com/fyrsmithlabs/ctxgraph/internal/embeddings"
	"github.com/fyrsmithlabs/ctxgraph/internal/logging"
	"github.com/fyrsmithlabs/ctxgraph/internal/persistence"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
	"github.com/fyrsmithlabs/ctxgraph/internal/session"
	"github.com/fyrsmithlabs/ctxgraph/internal/telemetry"
)

// app holds the services shared by the serve and mcp commands.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
	provider  embeddings.Provider
	retriever *retriever.Retriever
	sessions  *session.Service

	// store is nil when persistence is disabled.
	store *persistence.SQLiteStore
}

// newApp builds every service from cfg. stderrLogs routes console logs to
// stderr so stdout stays free for the MCP stdio stream.
func newApp(ctx context.Context, cfg *config.Config, stderrLogs bool) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging, a.telemetry.IsEnabled() && a.telemetry.LoggerProvider() != nil)
	if err != nil {
		return nil, fmt.Errorf("building logging config: %w", err)
	}
	logCfg.Stderr = stderrLogs
	a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.provider, err = embeddings.NewProvider(providerConfig(cfg.Embeddings,
		a.logger.Component("embeddings"),
		a.telemetry.Meter("github.com/fyrsmithlabs/ctxgraph/internal/embeddings"),
	))
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings provider: %w", err)
	}

	rc, err := retrieverConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.retriever, err = retriever.New(rc, a.provider,
		retriever.WithLogger(a.logger.Component("retriever")),
		retriever.WithCacheMetrics(cache.NewMetrics()),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing retriever: %w", err)
	}

	a.sessions, err = session.NewService(a.retriever, a.logger.Component("session"),
		session.WithTracer(a.telemetry.Tracer("github.com/fyrsmithlabs/ctxgraph/internal/session")),
		session.WithMeter(a.telemetry.Meter("github.com/fyrsmithlabs/ctxgraph/internal/session")),
		session.WithMaxIterations(cfg.Retriever.MaxIterations),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing sessions: %w", err)
	}

	if cfg.Persistence.Enabled {
		a.store, err = persistence.NewSQLiteStore(cfg.Persistence.Path, a.logger.Component("persistence"))
		if err != nil {
			return nil, fmt.Errorf("opening snapshot store: %w", err)
		}
		if err := a.restore(ctx); err != nil {
			return nil, err
		}
	}

	a.logger.Info(ctx, "ctxgraph initialized",
		zap.String("version", version),
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
		zap.Int("dimension", a.retriever.Dimension()),
		zap.Bool("persistence", a.store != nil),
	)
	return a, nil
}

// restore loads the stored snapshot into the retriever, if there is one.
func (a *app) restore(ctx context.Context) error {
	snap, err := a.store.Load(ctx)
	if errors.Is(err, persistence.ErrNoSnapshot) {
		a.logger.Info(ctx, "no snapshot to restore", zap.String("path", a.cfg.Persistence.Path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if err := a.retriever.Restore(ctx, snap); err != nil {
		return fmt.Errorf("restoring snapshot: %w", err)
	}
	stats := a.retriever.Stats()
	a.logger.Info(ctx, "snapshot restored",
		zap.Int("nodes", stats.Nodes),
		zap.Int("edges", stats.Edges),
		zap.Int("vectors", stats.Vectors),
	)
	return nil
}

// save writes the current engine state to the snapshot store.
func (a *app) save(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	info, err := a.store.Save(ctx, a.retriever.Snapshot(ctx))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	a.logger.Info(ctx, "snapshot saved",
		zap.String("snapshot_id", info.ID),
		zap.Int("nodes", info.Nodes),
		zap.Int("vectors", info.Vectors),
	)
	return nil
}

// persistLoop saves a snapshot every persistence.save_interval until ctx is
// done. A zero interval disables periodic saves.
func (a *app) persistLoop(ctx context.Context) {
	interval := a.cfg.Persistence.SaveInterval.Duration()
	if a.store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.save(ctx); err != nil {
				a.logger.Warn(ctx, "periodic snapshot failed", zap.Error(err))
			}
		}
	}
}

// close saves a final snapshot and releases every resource. It is safe on a
// partially built app.
func (a *app) close(ctx context.Context) {
	if a.store != nil && a.retriever != nil {
		if err := a.save(ctx); err != nil && a.logger != nil {
			a.logger.Error(ctx, "final snapshot failed", zap.Error(err))
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.provider != nil {
		_ = a.provider.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
}

// providerConfig maps the embeddings section onto a provider config. Each
// fallback name reuses the primary's model, endpoint and dimension.
func providerConfig(e config.EmbeddingsConfig, logger *zap.Logger, meter metric.Meter) embeddings.ProviderConfig {
	base := embeddings.ProviderConfig{
		Provider:       e.Provider,
		Model:          e.Model,
		BaseURL:        e.BaseURL,
		APIKey:         e.APIKey.Value(),
		Dimension:      e.Dimension,
		Timeout:        e.Timeout.Duration(),
		CacheDir:       e.CacheDir,
		InstallRuntime: e.InstallRuntime,
		Meter:          meter,
		Logger:         logger,
	}

	pc := base
	for _, name := range e.Fallback {
		fb := base
		fb.Provider = name
		pc.Fallback = append(pc.Fallback, fb)
	}
	pc.RateLimit = e.RateLimit
	pc.Burst = e.Burst
	if e.BreakerEnabled {
		b := embeddings.DefaultBreakerConfig()
		if e.BreakerThreshold > 0 {
			b.FailureThreshold = e.BreakerThreshold
		}
		if d := e.BreakerTimeout.Duration(); d > 0 {
			b.Timeout = d
		}
		pc.Breaker = &b
	}
	return pc
}

// retrieverConfig maps the retriever and cache sections onto a retriever
// config.
func retrieverConfig(cfg *config.Config) (retriever.Config, error) {
	r := cfg.Retriever
	strategy, err := retriever.ParseStrategy(r.DefaultStrategy)
	if err != nil {
		return retriever.Config{}, fmt.Errorf("retriever.default_strategy: %w", err)
	}
	rc := retriever.Config{
		GraphWeight:         r.GraphWeight,
		VectorWeight:        r.VectorWeight,
		MaxGraphDepth:       r.MaxGraphDepth,
		MaxResults:          r.MaxResults,
		SimilarityThreshold: r.SimilarityThreshold,
		TraversalThreshold:  r.TraversalThreshold,
		MaxSeeds:            r.MaxSeeds,
		SeedBoost:           r.SeedBoost,
		ResultCacheTTL:      cfg.Cache.ResultTTL.Duration(),
		ResultCacheSize:     cfg.Cache.ResultSize,
		EmbeddingCacheSize:  cfg.Cache.EmbeddingSize,
		DefaultStrategy:     strategy,
	}
	rc.ApplyDefaults()
	return rc, nil
}
