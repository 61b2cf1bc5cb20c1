package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soluris/lexrag/internal/core/ask"
	"github.com/soluris/lexrag/internal/core/chunk"
	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/internal/core/embedding"
	"github.com/soluris/lexrag/internal/core/generation"
	"github.com/soluris/lexrag/internal/core/ingestion"
	"github.com/soluris/lexrag/internal/core/retrieval"
	"github.com/soluris/lexrag/internal/infra/anthropic"
	"github.com/soluris/lexrag/internal/infra/cohere"
	"github.com/soluris/lexrag/internal/infra/openai"
	"github.com/soluris/lexrag/internal/infra/postgres"
	"github.com/soluris/lexrag/internal/infra/rediscache"
	"github.com/soluris/lexrag/internal/platform/metrics"
	"github.com/soluris/lexrag/pkg/config"
)

// ServiceContainer は設定から組み立てた依存関係を保持する
type ServiceContainer struct {
	Config    *config.Config
	Store     corpus.Store
	Gateway   *embedding.Gateway
	Generator generation.Provider
	Retriever *retrieval.Retriever
	Ask       *ask.Service
	Chunker   *chunk.Chunker
	Metrics   *metrics.Recorder

	// Degraded はストアに接続できず、劣化モードで動作していることを示す
	Degraded bool

	logger  *slog.Logger
	closers []func()
}

type containerOptions struct {
	logger        *slog.Logger
	store         corpus.Store
	embedder      embedding.Provider
	generator     generation.Provider
	metrics       *metrics.Recorder
	allowDegraded bool
	disableCache  bool
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerStore はストアを注入する（省略時は PostgreSQL に接続）
func WithContainerStore(store corpus.Store) ContainerOption {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithContainerEmbedder は埋め込みプロバイダを差し替える
func WithContainerEmbedder(provider embedding.Provider) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = provider
	}
}

// WithContainerGenerator は回答生成プロバイダを差し替える
func WithContainerGenerator(provider generation.Provider) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = provider
	}
}

// WithContainerMetrics はメトリクスの記録先を設定する
func WithContainerMetrics(m *metrics.Recorder) ContainerOption {
	return func(opts *containerOptions) {
		opts.metrics = m
	}
}

// WithDegradedStore はストアに接続できない場合も劣化モードで構築を続ける
func WithDegradedStore() ContainerOption {
	return func(opts *containerOptions) {
		opts.allowDegraded = true
	}
}

// WithoutQueryCache は Redis のクエリキャッシュを使わない
func WithoutQueryCache() ContainerOption {
	return func(opts *containerOptions) {
		opts.disableCache = true
	}
}

// NewContainer は設定からコンテナを生成する
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	c := &ServiceContainer{
		Config:  cfg,
		Metrics: options.metrics,
		logger:  logger,
	}

	// Embedding Gateway
	provider := options.embedder
	if provider == nil {
		var err error
		provider, err = NewEmbeddingProvider(cfg.Embedding)
		if err != nil {
			return nil, err
		}
	}
	gatewayOpts := []embedding.Option{
		embedding.WithGatewayLogger(logger),
		embedding.WithMetrics(c.Metrics),
		embedding.WithRetryPolicy(embedding.RetryPolicy{
			MaxRetries: cfg.Embedding.MaxRetries,
			BaseDelay:  cfg.Embedding.BaseDelay,
			MaxDelay:   cfg.Embedding.MaxDelay,
		}),
		embedding.WithTimeouts(cfg.Embedding.QueryTimeout, cfg.Embedding.BatchTimeout),
		embedding.WithRateLimit(cfg.Embedding.RequestsPerSecond, cfg.Embedding.Burst),
		embedding.WithCircuitBreaker(cfg.Embedding.BreakerFailures, cfg.Embedding.BreakerTimeout),
	}
	if cfg.Cache.RedisAddr != "" && !options.disableCache {
		cache, err := rediscache.NewQueryCache(ctx, rediscache.Config{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			// キャッシュなしでも動作は変わらない
			logger.Warn("Query embedding cache disabled", "addr", cfg.Cache.RedisAddr, "error", err)
		} else {
			gatewayOpts = append(gatewayOpts, embedding.WithQueryCache(cache))
			c.closers = append(c.closers, func() { _ = cache.Close() })
		}
	}
	c.Gateway = embedding.NewGateway(provider, gatewayOpts...)

	// Store
	store := options.store
	if store == nil {
		pg, err := postgres.Open(ctx, postgres.Options{
			ConnString:       cfg.Database.ConnString(),
			MaxConns:         cfg.Database.MaxConns,
			AcquireTimeout:   cfg.Database.AcquireTimeout,
			Dimensions:       cfg.Embedding.Dimension,
			ExactSearchBelow: cfg.Retrieval.ExactSearchBelow,
		}, postgres.WithStoreLogger(logger))
		switch {
		case err == nil:
			store = pg
			c.closers = append(c.closers, pg.Close)
		case options.allowDegraded && errors.Is(err, corpus.ErrStoreUnavailable):
			logger.Warn("Vector store unavailable, answers will not be grounded", "error", err)
			store = unavailableStore{cause: err}
			c.Degraded = true
		default:
			c.Close()
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
	}
	c.Store = store

	// Chunker
	chunker, err := chunk.New(chunk.Config{
		MaxChars: cfg.Chunking.MaxChars,
		MinChars: cfg.Chunking.MinChars,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}
	c.Chunker = chunker

	// Retriever
	retriever, err := retrieval.New(c.Gateway, c.Store, retrieval.Config{
		TopK:           cfg.Retrieval.TopK,
		RelevanceFloor: cfg.Retrieval.RelevanceFloor,
		HighConfidence: cfg.Retrieval.HighConfidence,
		AnnotateQuery:  cfg.Retrieval.AnnotateQuery,
	}, retrieval.WithRetrieverLogger(logger), retrieval.WithMetrics(c.Metrics))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}
	c.Retriever = retriever

	// Answer Generator
	generator := options.generator
	if generator == nil {
		generator, err = NewGenerationProvider(cfg.Generation)
		if err != nil {
			c.Close()
			return nil, err
		}
	}
	c.Generator = generator
	c.Ask = ask.NewService(retriever, generator, ask.Config{
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		HistoryTurns:    cfg.Retrieval.HistoryTurns,
		MaxTokens:       cfg.Generation.MaxTokens,
	}, ask.WithAskLogger(logger), ask.WithMetrics(c.Metrics))

	logger.Debug("Service container ready",
		"embeddingProvider", provider.Name(),
		"dimensions", provider.Dimensions(),
		"generationProvider", generator.Name(),
		"degraded", c.Degraded,
	)
	return c, nil
}

// Pipeline は取り込みパイプラインを作成する
func (c *ServiceContainer) Pipeline(cfg ingestion.PipelineConfig) *ingestion.Pipeline {
	return ingestion.NewPipeline(c.Store, c.Chunker, cfg,
		ingestion.WithEmbedder(c.Gateway),
		ingestion.WithPipelineLogger(c.logger),
		ingestion.WithPipelineMetrics(c.Metrics),
	)
}

// Backfiller は埋め込みバックフィルを作成する
func (c *ServiceContainer) Backfiller(cfg ingestion.BackfillConfig) *ingestion.Backfiller {
	return ingestion.NewBackfiller(c.Store, c.Gateway, cfg,
		ingestion.WithBackfillLogger(c.logger),
		ingestion.WithBackfillMetrics(c.Metrics),
	)
}

// Close は内部リソースを解放する
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// NewEmbeddingProvider は設定に応じた埋め込みプロバイダを返す
func NewEmbeddingProvider(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case "cohere", "":
		return cohere.NewEmbedder(cohere.Config{
			APIKey:     cfg.CohereAPIKey,
			BaseURL:    cfg.CohereURL,
			Model:      cfg.CohereModel,
			Dimensions: cfg.Dimension,
		}), nil
	case "openai":
		return openai.NewEmbedder(cfg.OpenAIAPIKey,
			openai.WithEmbeddingModel(cfg.OpenAIModel),
			openai.WithEmbeddingDimension(cfg.Dimension),
		), nil
	}
	return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
}

// NewGenerationProvider は設定に応じた回答生成プロバイダを返す
func NewGenerationProvider(cfg config.GenerationConfig) (generation.Provider, error) {
	switch cfg.Provider {
	case "anthropic", "":
		return anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicURL,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.Timeout,
		}), nil
	case "openai":
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, openai.WithTimeout(cfg.Timeout)), nil
	}
	return nil, fmt.Errorf("unsupported generation provider: %q", cfg.Provider)
}
