package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nowtrending/nowtrending/internal/blob"
	"github.com/nowtrending/nowtrending/internal/config"
	"github.com/nowtrending/nowtrending/internal/docstore"
	"github.com/nowtrending/nowtrending/internal/embedding"
	"github.com/nowtrending/nowtrending/internal/logging"
	"github.com/nowtrending/nowtrending/internal/merge"
	"github.com/nowtrending/nowtrending/internal/search"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "nowtrending",
	Short: "Track trending search topics and search them semantically",
	Long: `nowtrending scrapes trending topics, keeps them in a single JSON
document in object storage, embeds them and serves semantic search.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./config.yaml, ./configs or ~/.nowtrending)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// app holds the components shared by all commands
type app struct {
	cfg    *config.Config
	loader *config.Loader
	log    *slog.Logger
	level  *slog.LevelVar
	blob   blob.Store
	docs   *docstore.Store
	merger *merge.Engine
}

func newApp(ctx context.Context) (*app, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, level := logging.New(cfg.Log)
	slog.SetDefault(log)

	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	docs := docstore.New(store, docstore.Options{
		Key:    cfg.Blob.ObjectKey(),
		Cache:  docstore.NewCache(cfg.Store.CacheDuration(), nil),
		Logger: log,
	})

	return &app{
		cfg:    cfg,
		loader: loader,
		log:    log,
		level:  level,
		blob:   store,
		docs:   docs,
		merger: merge.NewEngine(docs, merge.WithRetention(cfg.Store.Retention()), merge.WithLogger(log)),
	}, nil
}

func (a *app) Close() {
	if err := a.blob.Close(); err != nil {
		a.log.Warn("failed to close blob store", "error", err)
	}
}

// provider builds the configured embedding provider. When that fails the
// returned provider is Disabled and ok is false.
func (a *app) provider() (embedding.Provider, bool) {
	p, err := embedding.NewProvider(a.cfg)
	if err != nil {
		a.log.Warn("embedding provider unavailable", "provider", a.cfg.Embedding.Provider, "error", err)
		return embedding.Disabled{Err: err}, false
	}
	return p, true
}

func (a *app) pipeline(p embedding.Provider) *embedding.Pipeline {
	return embedding.NewPipeline(p, a.docs, embedding.PipelineOptions{
		BatchSize: a.cfg.Embedding.BatchSize,
		RateLimit: a.cfg.Embedding.RateLimit,
		Logger:    a.log,
	})
}

func (a *app) searcher(p embedding.Provider) (*search.QueryService, error) {
	strategy, err := search.NewStrategy(a.cfg.Search.Strategy, a.cfg.Search.Workers)
	if err != nil {
		return nil, err
	}
	a.log.Debug("search strategy selected", "strategy", strategy.Name())
	return search.NewQueryService(p, search.NewEngine(a.docs, strategy, nil), a.log), nil
}
