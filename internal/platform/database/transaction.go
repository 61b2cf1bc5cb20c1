package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Beginner はトランザクションを開始できる接続（pgxpool.Pool / pgxpool.Conn）を表す
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Transact opens a transaction on b and passes it to fn.
// fn がエラーを返した場合はロールバックし、成功時のみコミットする。
func Transact[T any](ctx context.Context, b Beginner, fn func(pgx.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := b.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return zero, fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// ReadOnly は読み取り専用トランザクションで fn を実行する
func ReadOnly[T any](ctx context.Context, b Beginner, fn func(pgx.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := b.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return zero, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit read-only transaction: %w", err)
	}
	return result, nil
}
