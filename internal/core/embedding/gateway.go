package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/soluris/lexrag/internal/platform/metrics"
)

const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultQueryTimeout = 30 * time.Second
	DefaultBatchTimeout = 120 * time.Second
)

// RetryPolicy は再試行可能エラーに対する指数バックオフの設定
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Delay は attempt 回目（0始まり）の再試行前の待ち時間
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt >= 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay << attempt
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// BatchFailure はベクトルを得られなかったバッチ
type BatchFailure struct {
	Offset int // texts 内の先頭位置
	Count  int
	Err    error
}

// DocumentEmbeddings は文書埋め込みの結果。
// Vectors は入力と同じ長さで、失敗したバッチの位置は nil になる。
type DocumentEmbeddings struct {
	Vectors  [][]float32
	Failures []BatchFailure
}

// Embedded はベクトルを得られた件数
func (d DocumentEmbeddings) Embedded() int {
	n := 0
	for _, v := range d.Vectors {
		if v != nil {
			n++
		}
	}
	return n
}

// Gateway はプロバイダ呼び出しにバッチ分割・切り詰め・再試行・流量制御をかける。
// 再試行はこの層だけで行う。
type Gateway struct {
	provider     Provider
	policy       RetryPolicy
	queryTimeout time.Duration
	batchTimeout time.Duration
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	cache        QueryCache
	logger       *slog.Logger
	metrics      *metrics.Recorder
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option は Gateway のオプション設定
type Option func(*Gateway)

// WithGatewayLogger はロガーを設定する
func WithGatewayLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics はメトリクスの記録先を設定する
func WithMetrics(m *metrics.Recorder) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithRetryPolicy は再試行ポリシーを上書きする
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *Gateway) {
		g.policy = p
	}
}

// WithTimeouts はクエリ/バッチ1回あたりのタイムアウトを設定する
func WithTimeouts(query, batch time.Duration) Option {
	return func(g *Gateway) {
		if query > 0 {
			g.queryTimeout = query
		}
		if batch > 0 {
			g.batchTimeout = batch
		}
	}
}

// WithRateLimit はプロバイダ呼び出しの秒間上限を設定する（rps <= 0 で無効）
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker は連続 failures 回の失敗で timeout の間呼び出しを遮断する
func WithCircuitBreaker(failures int, timeout time.Duration) Option {
	return func(g *Gateway) {
		if failures <= 0 {
			g.breaker = nil
			return
		}
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "embedding",
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(failures)
			},
			IsSuccessful: func(err error) bool {
				// 呼び出し側のキャンセルはプロバイダの故障として数えない
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				g.logger.Warn("embedding circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		})
	}
}

// WithQueryCache はクエリ埋め込みキャッシュを設定する
func WithQueryCache(c QueryCache) Option {
	return func(g *Gateway) {
		g.cache = c
	}
}

// NewGateway は新しい Gateway を作成する
func NewGateway(provider Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider: provider,
		policy: RetryPolicy{
			MaxRetries: DefaultMaxRetries,
			BaseDelay:  DefaultBaseDelay,
			MaxDelay:   DefaultMaxDelay,
		},
		queryTimeout: DefaultQueryTimeout,
		batchTimeout: DefaultBatchTimeout,
		logger:       slog.Default(),
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Provider は内部のプロバイダを返す
func (g *Gateway) Provider() Provider {
	return g.provider
}

// Dimensions はベクトル次元数を返す
func (g *Gateway) Dimensions() int {
	return g.provider.Dimensions()
}

// EmbedDocuments は文書モードで埋め込む。
// 失敗したバッチは記録して後続のバッチを続行する。
func (g *Gateway) EmbedDocuments(ctx context.Context, texts []string) DocumentEmbeddings {
	out := DocumentEmbeddings{Vectors: make([][]float32, len(texts))}
	if len(texts) == 0 {
		return out
	}

	size := g.provider.MaxBatchSize()
	if size <= 0 {
		size = len(texts)
	}

	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))

		if err := ctx.Err(); err != nil {
			out.Failures = append(out.Failures, BatchFailure{Offset: start, Count: len(texts) - start, Err: err})
			g.metrics.EmbeddingBatchFailed()
			break
		}

		batch := make([]string, 0, end-start)
		for _, t := range texts[start:end] {
			batch = append(batch, truncateTail(t, g.provider.MaxInputChars()))
		}

		var vectors [][]float32
		err := g.withRetry(ctx, ModeDocument, g.batchTimeout, func(ctx context.Context) error {
			vs, err := g.provider.EmbedDocuments(ctx, batch)
			if err != nil {
				return err
			}
			if len(vs) != len(batch) {
				return fmt.Errorf("provider returned %d vectors for %d texts", len(vs), len(batch))
			}
			for _, v := range vs {
				if err := g.checkDims(v); err != nil {
					return err
				}
			}
			vectors = vs
			return nil
		})
		if err != nil {
			g.logger.Warn("embedding batch failed",
				"provider", g.provider.Name(),
				"offset", start,
				"count", end-start,
				"error", err,
			)
			g.metrics.EmbeddingBatchFailed()
			out.Failures = append(out.Failures, BatchFailure{Offset: start, Count: end - start, Err: err})
			continue
		}
		copy(out.Vectors[start:end], vectors)
	}
	return out
}

// EmbedQuery はクエリモードで1件埋め込む。
// 失敗時は ErrUnavailable をラップしたエラーを返す。
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = truncateTail(text, g.provider.MaxInputChars())

	key := ""
	if g.cache != nil {
		key = CacheKey(g.provider.Name(), g.provider.Dimensions(), text)
		v, ok, err := g.cache.Get(ctx, key)
		switch {
		case err != nil:
			g.metrics.QueryCache("error")
			g.logger.Debug("query cache lookup failed", "error", err)
		case ok && g.checkDims(v) == nil:
			g.metrics.QueryCache("hit")
			return v, nil
		default:
			g.metrics.QueryCache("miss")
		}
	}

	var vector []float32
	err := g.withRetry(ctx, ModeQuery, g.queryTimeout, func(ctx context.Context) error {
		v, err := g.provider.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		if err := g.checkDims(v); err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if g.cache != nil {
		if err := g.cache.Set(ctx, key, vector); err != nil {
			g.logger.Debug("query cache store failed", "error", err)
		}
	}
	return vector, nil
}

// withRetry は再試行可能エラーに限り指数バックオフで再試行する
func (g *Gateway) withRetry(ctx context.Context, mode Mode, timeout time.Duration, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= g.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.policy.Delay(attempt-1)); err != nil {
				return err
			}
		}

		err := g.callOnce(ctx, mode, timeout, call)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
		reason := "transient"
		if errors.Is(err, ErrRateLimited) {
			reason = "rate_limited"
		}
		g.metrics.EmbeddingRetry(g.provider.Name(), reason)
		g.logger.Debug("retrying embedding call",
			"provider", g.provider.Name(),
			"mode", string(mode),
			"attempt", attempt+1,
			"reason", reason,
		)
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", g.policy.MaxRetries+1, lastErr)
}

func (g *Gateway) callOnce(ctx context.Context, mode Mode, timeout time.Duration, call func(context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	var err error
	if g.breaker != nil {
		_, err = g.breaker.Execute(func() (interface{}, error) {
			return nil, call(callCtx)
		})
	} else {
		err = call(callCtx)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// 1回分のタイムアウトは再試行可能として扱う
			err = fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	g.metrics.EmbeddingCall(g.provider.Name(), string(mode), outcome, time.Since(started))
	return err
}

func (g *Gateway) checkDims(v []float32) error {
	if want := g.provider.Dimensions(); want > 0 && len(v) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), want)
	}
	return nil
}

// truncateTail は上限を超える入力の末尾を落とす
func truncateTail(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
