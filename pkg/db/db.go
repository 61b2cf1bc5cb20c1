package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAcquireTimeout はプールが飽和し、待機上限内に接続を取得できなかった場合のエラー
var ErrAcquireTimeout = errors.New("timed out acquiring database connection")

// DB はデータベース接続プールを保持します
type DB struct {
	Pool *pgxpool.Pool

	acquireTimeout time.Duration
}

// ConnectionParams はデータベース接続パラメータ
type ConnectionParams struct {
	ConnString     string
	MaxConns       int
	AcquireTimeout time.Duration
}

// New は新しいデータベース接続を作成します
func New(ctx context.Context, params ConnectionParams) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(params.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if params.MaxConns > 0 {
		poolCfg.MaxConns = int32(params.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// 接続テスト
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	timeout := params.AcquireTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &DB{Pool: pool, acquireTimeout: timeout}, nil
}

// Acquire はプールから接続を取得する。飽和時は待機上限まで待つ
func (db *DB) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, db.acquireTimeout)
	defer cancel()

	conn, err := db.Pool.Acquire(actx)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, db.acquireTimeout)
		}
		return nil, err
	}
	return conn, nil
}

// Close はデータベース接続を閉じます
func (db *DB) Close() {
	db.Pool.Close()
}
