// Package rediscache はクエリ埋め込みを Redis にキャッシュする
package rediscache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/soluris/lexrag/internal/core/embedding"
)

const (
	// DefaultTTL はキャッシュエントリの有効期間
	DefaultTTL = 24 * time.Hour

	keyPrefix = "lexrag:qemb:"
)

var _ embedding.QueryCache = (*QueryCache)(nil)

// Config は Redis 接続設定
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// QueryCache は embedding.QueryCache の Redis 実装
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQueryCache は接続を確認してから QueryCache を作成する
func NewQueryCache(ctx context.Context, cfg Config) (*QueryCache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &QueryCache{client: rdb, ttl: cfg.TTL}, nil
}

// Get は未登録の場合 (nil, false, nil) を返す
func (c *QueryCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get query embedding: %w", err)
	}
	v, err := decodeVector(data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *QueryCache) Set(ctx context.Context, key string, vector []float32) error {
	data, err := encodeVector(vector)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set query embedding: %w", err)
	}
	return nil
}

func (c *QueryCache) Close() error {
	return c.client.Close()
}

// encodeVector は長さ（uint32）に続けて float32 をリトルエンディアンで書き出す
func encodeVector(v []float32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(4 + 4*len(v))
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(v))); err != nil {
		return nil, fmt.Errorf("failed to write vector length: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("failed to write vector: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeVector(data []byte) ([]float32, error) {
	r := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read vector length: %w", err)
	}
	if int(n)*4 != r.Len() {
		return nil, fmt.Errorf("corrupt cache entry: %d values, %d bytes", n, r.Len())
	}
	v := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("failed to read vector: %w", err)
	}
	return v, nil
}
