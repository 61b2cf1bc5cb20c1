package postgres

import (
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/pkg/db"
)

// UUIDToPgtype converts uuid.UUID to pgtype.UUID
func UUIDToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgtypeToUUID converts pgtype.UUID to uuid.UUID
func PgtypeToUUID(id pgtype.UUID) uuid.UUID {
	return id.Bytes
}

// DateToPgtype converts *time.Time to pgtype.Date (nil は NULL)
func DateToPgtype(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

// PgtypeToTimePtr converts pgtype.Date to *time.Time
func PgtypeToTimePtr(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

// VectorParam は NULL を許すベクトル引数を返す
func VectorParam(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

// MetadataToJSONB は nil を空オブジェクトとして書き出す
func MetadataToJSONB(m corpus.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// MetadataFromJSONB は壊れた値を空のメタデータとして扱う
func MetadataFromJSONB(b []byte) corpus.Metadata {
	m := corpus.Metadata{}
	if len(b) == 0 {
		return m
	}
	_ = json.Unmarshal(b, &m)
	return m
}

// isUnavailable は接続断・プール枯渇・拡張未導入を判定する
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, db.ErrAcquireTimeout) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection_exception
			return true
		case strings.HasPrefix(pgErr.Code, "57P"): // admin_shutdown など
			return true
		case pgErr.Code == "58P01": // undefined_file（拡張ライブラリなし）
			return true
		case pgErr.Code == "0A000" && strings.Contains(pgErr.Message, "vector"):
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isForeignKeyViolation は参照先の文書が存在しない挿入を判定する
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
