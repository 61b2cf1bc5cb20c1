package sourcefile

import "errors"

var (
	// ErrInvalidFile はファイルの形式が想定と異なる場合のエラー
	ErrInvalidFile = errors.New("invalid source file")

	// ErrUnsupportedFormat は manifest で未対応の形式が指定された場合のエラー
	ErrUnsupportedFormat = errors.New("unsupported source format")
)
