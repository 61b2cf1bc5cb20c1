package ask

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	sourcesOpen  = "[SOURCES]"
	sourcesClose = "[/SOURCES]"
)

// ErrMalformedCitationBlock は出典ブロックをJSONとして解釈できない場合のエラー
var ErrMalformedCitationBlock = errors.New("malformed citation block")

type rawCitation struct {
	Reference string `json:"reference"`
	Title     string `json:"title"`
	URL       string `json:"url"`
}

// ParseResponse はモデルの出力を回答本文と出典に分ける。
// 出典ブロックが壊れている場合も本文は返し、出典は空になる。
// Verified はここでは設定しない。
func ParseResponse(raw string) (string, []Citation, error) {
	idx := strings.Index(raw, sourcesOpen)
	if idx < 0 {
		return strings.TrimSpace(raw), nil, nil
	}

	text := strings.TrimSpace(raw[:idx])
	block := raw[idx+len(sourcesOpen):]
	if end := strings.Index(block, sourcesClose); end >= 0 {
		block = block[:end]
	}
	block = stripCodeFence(strings.TrimSpace(block))
	if block == "" {
		return text, nil, nil
	}

	var items []rawCitation
	if err := json.Unmarshal([]byte(block), &items); err != nil {
		return text, nil, fmt.Errorf("%w: %v", ErrMalformedCitationBlock, err)
	}

	citations := make([]Citation, 0, len(items))
	for _, it := range items {
		if it.Reference == "" && it.Title == "" && it.URL == "" {
			continue
		}
		citations = append(citations, Citation{
			Reference: strings.TrimSpace(it.Reference),
			Title:     strings.TrimSpace(it.Title),
			URL:       strings.TrimSpace(it.URL),
		})
	}
	return text, citations, nil
}

// stripCodeFence は ```json ... ``` で囲まれたブロックの中身を返す
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
