package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// ロガー設定
	Log LogConfig

	// Embedding設定（ベクトル化プロバイダ）
	Embedding EmbeddingConfig

	// 回答生成用LLM設定
	Generation GenerationConfig

	// 検索設定
	Retrieval RetrievalConfig

	// チャンク分割設定
	Chunking ChunkingConfig

	// 取り込み設定
	Ingestion IngestionConfig

	// クエリEmbeddingキャッシュ設定
	Cache CacheConfig

	// メトリクス公開設定
	Metrics MetricsConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	URL      string // DATABASE_URL が指定された場合は個別項目より優先
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxConns       int           // プール上限
	AcquireTimeout time.Duration // プール枯渇時の待機上限
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// EmbeddingConfig はEmbeddingプロバイダ設定
type EmbeddingConfig struct {
	Provider     string // "cohere" or "openai"
	CohereAPIKey string
	CohereModel  string
	CohereURL    string
	OpenAIAPIKey string
	OpenAIModel  string
	Dimension    int

	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	QueryTimeout time.Duration
	BatchTimeout time.Duration

	RequestsPerSecond float64 // 0 の場合はスロットリングなし
	Burst             int

	BreakerFailures int           // 連続失敗でブレーカーを開く閾値
	BreakerTimeout  time.Duration // オープン状態の継続時間
}

// GenerationConfig は回答生成LLM設定
type GenerationConfig struct {
	Provider        string // "anthropic" or "openai"
	AnthropicAPIKey string
	AnthropicModel  string
	AnthropicURL    string
	OpenAIAPIKey    string
	OpenAIModel     string
	MaxTokens       int
	Timeout         time.Duration
}

// RetrievalConfig は検索・信頼度の閾値設定
type RetrievalConfig struct {
	TopK             int
	RelevanceFloor   float64
	HighConfidence   float64
	AnnotateQuery    bool
	MaxContextChars  int
	HistoryTurns     int
	ExactSearchBelow int // 埋め込み済みチャンク数がこれ未満なら全件走査
}

// ChunkingConfig はチャンク長の上下限
type ChunkingConfig struct {
	MaxChars int
	MinChars int
}

// IngestionConfig は取り込みバッチ設定
type IngestionConfig struct {
	Workers        int
	InlineEmbed    bool
	SkipUnchanged  bool
	BackfillBatch  int
	ContentMaxChar int
}

// CacheConfig はRedisキャッシュ設定（Addr が空なら無効）
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// MetricsConfig はPrometheusメトリクス公開設定（Addr が空なら無効）
type MetricsConfig struct {
	Addr string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvAsInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "lexrag"),
			Password:       getEnv("DB_PASSWORD", ""),
			DBName:         getEnv("DB_NAME", "lexrag"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConns:       getEnvAsInt("DB_MAX_CONNS", 5),
			AcquireTimeout: getEnvAsDuration("DB_ACQUIRE_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Embedding: EmbeddingConfig{
			Provider:          strings.ToLower(getEnv("EMBEDDING_PROVIDER", "cohere")),
			CohereAPIKey:      getEnv("COHERE_API_KEY", ""),
			CohereModel:       getEnv("COHERE_EMBEDDING_MODEL", "embed-multilingual-v3.0"),
			CohereURL:         getEnv("COHERE_API_URL", "https://api.cohere.com"),
			OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:       getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension:         getEnvAsInt("EMBEDDING_DIMENSION", 0),
			MaxRetries:        getEnvAsInt("EMBEDDING_MAX_RETRIES", 3),
			BaseDelay:         getEnvAsDuration("EMBEDDING_RETRY_BASE_DELAY", time.Second),
			MaxDelay:          getEnvAsDuration("EMBEDDING_RETRY_MAX_DELAY", 30*time.Second),
			QueryTimeout:      getEnvAsDuration("EMBEDDING_QUERY_TIMEOUT", 30*time.Second),
			BatchTimeout:      getEnvAsDuration("EMBEDDING_BATCH_TIMEOUT", 120*time.Second),
			RequestsPerSecond: getEnvAsFloat("EMBEDDING_RATE_LIMIT", 0),
			Burst:             getEnvAsInt("EMBEDDING_RATE_BURST", 1),
			BreakerFailures:   getEnvAsInt("EMBEDDING_BREAKER_FAILURES", 5),
			BreakerTimeout:    getEnvAsDuration("EMBEDDING_BREAKER_TIMEOUT", 30*time.Second),
		},
		Generation: GenerationConfig{
			Provider:        strings.ToLower(getEnv("GENERATION_PROVIDER", "anthropic")),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
			AnthropicURL:    getEnv("ANTHROPIC_API_URL", "https://api.anthropic.com"),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:       getEnvAsInt("GENERATION_MAX_TOKENS", 4096),
			Timeout:         getEnvAsDuration("GENERATION_TIMEOUT", 60*time.Second),
		},
		Retrieval: RetrievalConfig{
			TopK:             getEnvAsInt("RETRIEVAL_TOP_K", 10),
			RelevanceFloor:   getEnvAsFloat("RETRIEVAL_RELEVANCE_FLOOR", 0.35),
			HighConfidence:   getEnvAsFloat("RETRIEVAL_HIGH_CONFIDENCE", 0.55),
			AnnotateQuery:    getEnvAsBool("RETRIEVAL_ANNOTATE_QUERY", true),
			MaxContextChars:  getEnvAsInt("RETRIEVAL_MAX_CONTEXT_CHARS", 40000),
			HistoryTurns:     getEnvAsInt("RETRIEVAL_HISTORY_TURNS", 8),
			ExactSearchBelow: getEnvAsInt("RETRIEVAL_EXACT_SEARCH_BELOW", 20000),
		},
		Chunking: ChunkingConfig{
			MaxChars: getEnvAsInt("CHUNK_MAX_CHARS", 2500),
			MinChars: getEnvAsInt("CHUNK_MIN_CHARS", 50),
		},
		Ingestion: IngestionConfig{
			Workers:        getEnvAsInt("INGEST_WORKERS", 4),
			InlineEmbed:    getEnvAsBool("INGEST_INLINE_EMBED", false),
			SkipUnchanged:  getEnvAsBool("INGEST_SKIP_UNCHANGED", false),
			BackfillBatch:  getEnvAsInt("EMBED_BACKFILL_BATCH", 200),
			ContentMaxChar: getEnvAsInt("INGEST_CONTENT_MAX_CHARS", 100000),
		},
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("QUERY_CACHE_TTL", 24*time.Hour),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
	}

	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = defaultDimension(cfg.Embedding.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は相互に依存する設定値の整合性を検証します
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "cohere", "openai":
	default:
		return fmt.Errorf("unsupported EMBEDDING_PROVIDER: %q", c.Embedding.Provider)
	}
	switch c.Generation.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported GENERATION_PROVIDER: %q", c.Generation.Provider)
	}
	if c.Retrieval.RelevanceFloor < 0 || c.Retrieval.RelevanceFloor > 1 {
		return fmt.Errorf("RETRIEVAL_RELEVANCE_FLOOR must be within [0,1], got %v", c.Retrieval.RelevanceFloor)
	}
	if c.Retrieval.HighConfidence < c.Retrieval.RelevanceFloor {
		return fmt.Errorf("RETRIEVAL_HIGH_CONFIDENCE (%v) must not be below the relevance floor (%v)",
			c.Retrieval.HighConfidence, c.Retrieval.RelevanceFloor)
	}
	if c.Chunking.MinChars <= 0 || c.Chunking.MaxChars <= c.Chunking.MinChars {
		return fmt.Errorf("invalid chunk bounds: min=%d max=%d", c.Chunking.MinChars, c.Chunking.MaxChars)
	}
	return nil
}

// ConnString はpgxに渡す接続文字列を返します
func (d DatabaseConfig) ConnString() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func defaultDimension(provider string) int {
	if provider == "openai" {
		return 1536
	}
	return 1024
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "30s" 形式の環境変数を time.Duration として取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
