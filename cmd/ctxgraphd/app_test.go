package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxgraph/internal/config"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Embeddings.Provider = "hash"
	cfg.Embeddings.Dimension = 64
	cfg.Persistence.Enabled = true
	cfg.Persistence.Path = filepath.Join(t.TempDir(), "ctxgraph.db")
	return cfg
}

func TestNewApp_SaveRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := newApp(ctx, cfg, false)
	require.NoError(t, err)
	assert.Equal(t, 64, a.retriever.Dimension())
	assert.Zero(t, a.retriever.Stats().Nodes)

	require.NoError(t, a.retriever.IngestBatch(ctx, []retriever.Document{
		{ID: "auth", Content: "token validation for the login service"},
		{ID: "db", Content: "connection pooling for postgres"},
	}))
	require.NoError(t, a.retriever.AddRelationship(ctx, "auth", "db", "depends_on", 0.8))
	want := a.retriever.Stats()
	a.close(ctx)

	b, err := newApp(ctx, cfg, false)
	require.NoError(t, err)
	defer b.close(ctx)

	got := b.retriever.Stats()
	assert.Equal(t, want.Nodes, got.Nodes)
	assert.Equal(t, want.Edges, got.Edges)
	assert.Equal(t, want.Vectors, got.Vectors)

	node, ok := b.retriever.GetNode("auth")
	require.True(t, ok)
	assert.Equal(t, "token validation for the login service", node.Content)
}

func TestNewApp_PersistenceDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Persistence.Enabled = false

	a, err := newApp(ctx, cfg, true)
	require.NoError(t, err)
	defer a.close(ctx)

	assert.Nil(t, a.store)
	assert.NoError(t, a.save(ctx))
}

func TestNewApp_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown provider", mutate: func(c *config.Config) { c.Embeddings.Provider = "word2vec" }},
		{name: "unknown strategy", mutate: func(c *config.Config) { c.Retriever.DefaultStrategy = "greedy" }},
		{name: "bad log level", mutate: func(c *config.Config) { c.Logging.Level = "loud" }},
		{name: "negative weight", mutate: func(c *config.Config) { c.Retriever.GraphWeight = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := newApp(context.Background(), cfg, false)
			assert.Error(t, err)
		})
	}
}

func TestPersistLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Persistence.SaveInterval = config.Duration(10 * time.Millisecond)

	a, err := newApp(context.Background(), cfg, false)
	require.NoError(t, err)
	defer a.close(context.Background())

	require.NoError(t, a.retriever.Ingest(context.Background(), retriever.Document{ID: "doc", Content: "periodic save"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.persistLoop(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		info, err := a.store.Info(context.Background())
		return err == nil && info.Nodes == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("persist loop did not stop")
	}
}

func TestProviderConfig(t *testing.T) {
	e := config.Default().Embeddings
	e.Provider = "tei"
	e.Dimension = 384
	e.Fallback = []string{"fastembed", "hash"}
	e.RateLimit = 5
	e.Burst = 10
	e.BreakerEnabled = true
	e.BreakerThreshold = 0.4
	e.BreakerTimeout = config.Duration(time.Minute)

	pc := providerConfig(e, nil, nil)
	assert.Equal(t, "tei", pc.Provider)
	assert.Equal(t, 384, pc.Dimension)
	assert.Equal(t, 5.0, pc.RateLimit)
	assert.Equal(t, 10, pc.Burst)

	require.Len(t, pc.Fallback, 2)
	assert.Equal(t, "fastembed", pc.Fallback[0].Provider)
	assert.Equal(t, "hash", pc.Fallback[1].Provider)
	assert.Equal(t, 384, pc.Fallback[1].Dimension)
	assert.Empty(t, pc.Fallback[0].Fallback)

	require.NotNil(t, pc.Breaker)
	assert.Equal(t, 0.4, pc.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, pc.Breaker.Timeout)

	e.BreakerEnabled = false
	assert.Nil(t, providerConfig(e, nil, nil).Breaker)
}

func TestRetrieverConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retriever.DefaultStrategy = "graph_first"
	cfg.Retriever.GraphWeight = 0.7
	cfg.Retriever.VectorWeight = 0.3
	cfg.Cache.ResultTTL = config.Duration(5 * time.Minute)

	rc, err := retrieverConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, retriever.StrategyGraphFirst, rc.DefaultStrategy)
	assert.Equal(t, 0.7, rc.GraphWeight)
	assert.Equal(t, 5*time.Minute, rc.ResultCacheTTL)
	assert.Equal(t, 1000, rc.ResultCacheSize)
	require.NoError(t, rc.Validate())

	cfg.Retriever.DefaultStrategy = "greedy"
	_, err = retrieverConfig(cfg)
	assert.ErrorIs(t, err, retriever.ErrInvalidInput)
}

func TestNewServers(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, true)
	require.NoError(t, err)
	defer a.close(context.Background())

	httpSrv, err := newHTTPServer(a)
	require.NoError(t, err)
	assert.Nil(t, httpSrv.Addr())

	mcpSrv, err := newMCPServer(a)
	require.NoError(t, err)
	assert.Contains(t, mcpSrv.Registry().ListNames(), "knowledge_retrieve")
}

func TestRootCmd_Subcommands(t *testing.T) {
	var names []string
	for _, cmd := range rootCmd.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"serve", "mcp", "version"})

	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "ctxgraphd "+version)
	assert.Contains(t, buf.String(), "commit: "+gitCommit)
}
