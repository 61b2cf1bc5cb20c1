package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// 複数プロセスが同時に起動・バックフィルしても DDL が衝突しないためのロックキー
var (
	schemaLockID = advisoryLockID("lexrag", "schema")
	indexLockID  = advisoryLockID("lexrag", "vector-index")
)

// advisoryLockID は文字列からアドバイザリロックのIDを生成します
func advisoryLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}
	return id
}

// lockTx はトランザクションスコープのアドバイザリロックを取得します。
// コミットまたはロールバックで自動的に解放されます。
func lockTx(ctx context.Context, tx pgx.Tx, id int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", id); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
