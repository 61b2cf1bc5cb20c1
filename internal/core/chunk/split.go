package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// numberedParagraph は判決理由の段落番号 "1.", "3.2", "4.1.2." で始まる行
var numberedParagraph = regexp.MustCompile(`^(\d+\.(?:\d+\.?)*)\s`)

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// truncateRunes は先頭 n 文字（ルーン単位）に切り詰める
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if runeLen(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

// splitText は maxChars 以下の断片に分割する。
// 上限より手前の最後の ". " で切り、なければ上限位置で切る。
// minChars 未満になる切断位置は採用しない（断片が捨てられるのを防ぐ）。
func splitText(text string, maxChars, minChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parts []string
	rest := []rune(text)
	for len(rest) > maxChars {
		window := string(rest[:maxChars])
		cut := maxChars
		if idx := strings.LastIndex(window, ". "); idx >= 0 {
			// ピリオドまでを含める
			if n := utf8.RuneCountInString(window[:idx+1]); n >= minChars {
				cut = n
			}
		}
		if part := strings.TrimSpace(string(rest[:cut])); part != "" {
			parts = append(parts, part)
		}
		rest = []rune(strings.TrimSpace(string(rest[cut:])))
	}
	if len(rest) > 0 {
		parts = append(parts, string(rest))
	}
	return parts
}

// splitNumbered は段落番号で始まる行を境界に分割する。
// 現在の断片が minLead 文字を超えている場合のみ番号行で新しい断片を開始し、
// maxChars を超える場合は行単位で区切る。
func splitNumbered(text string, minLead, maxChars int) []string {
	lines := strings.Split(text, "\n")

	var parts []string
	var cur []string
	curLen := 0
	flush := func() {
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			parts = append(parts, p)
		}
		cur = cur[:0]
		curLen = 0
	}
	for _, line := range lines {
		n := runeLen(line)
		switch {
		case numberedParagraph.MatchString(strings.TrimSpace(line)) && curLen > minLead:
			flush()
		case len(cur) > 0 && curLen+n > maxChars:
			flush()
		}
		cur = append(cur, line)
		curLen += n + 1
	}
	flush()
	return parts
}

// packParagraphs は空行区切りの段落を maxChars を超えない範囲でまとめる
func packParagraphs(text string, maxChars int) []string {
	paras := blankLines.Split(text, -1)

	var out []string
	var sb strings.Builder
	size := 0
	flush := func() {
		if s := strings.TrimSpace(sb.String()); s != "" {
			out = append(out, s)
		}
		sb.Reset()
		size = 0
	}
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := runeLen(p)
		if size > 0 && size+2+n > maxChars {
			flush()
		}
		if size > 0 {
			sb.WriteString("\n\n")
			size += 2
		}
		sb.WriteString(p)
		size += n
	}
	flush()
	return out
}

var (
	blankLines   = regexp.MustCompile(`\n[ \t]*\n+`)
	manyNewlines = regexp.MustCompile(`\n{3,}`)
)

// normalizeText は改行コードを揃え、行内の空白を1つにまとめ、連続する空行を1つにする
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
