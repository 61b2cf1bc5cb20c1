package ask

import (
	"fmt"
	"strings"

	"github.com/soluris/lexrag/internal/core/corpus"
)

const (
	// DefaultMaxContextChars は文脈ブロック全体の上限文字数
	DefaultMaxContextChars = 40000

	unknownReference = "Réf. inconnue"
	abstractPreview  = 300
)

// AssembleContext は検索結果を法令・判例・その他の順にまとめた文脈ブロックを作る。
// 各グループ内は検索順位を保ち、上限を超える項目は飛ばす。
// 戻り値の件数はブロックに実際に載った項目数。
func AssembleContext(chunks []*corpus.RetrievedChunk, maxChars int) (string, int) {
	if len(chunks) == 0 {
		return "", 0
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}

	var legislation, jurisprudence, other []*corpus.RetrievedChunk
	for _, c := range chunks {
		switch c.DocKind {
		case corpus.KindLegislation:
			legislation = append(legislation, c)
		case corpus.KindJurisprudence:
			jurisprudence = append(jurisprudence, c)
		default:
			other = append(other, c)
		}
	}

	var parts []string
	size := 0
	used := 0
	fits := func(s string) bool {
		n := len([]rune(s)) + 1
		if size+n > maxChars {
			return false
		}
		size += n
		return true
	}

	group := func(header, tag string, items []*corpus.RetrievedChunk) {
		headed := header == ""
		for i, c := range items {
			entry := formatEntry(fmt.Sprintf("[%s-%d]", tag, i+1), c, tag == "ATF")
			need := entry
			if !headed {
				need = header + "\n" + entry
			}
			if !fits(need) {
				continue
			}
			if !headed {
				parts = append(parts, header)
				headed = true
			}
			parts = append(parts, entry)
			used++
		}
	}

	group("═══ LÉGISLATION ═══", "LOI", legislation)
	group("═══ JURISPRUDENCE ═══", "ATF", jurisprudence)
	group("", "SRC", other)

	return strings.Join(parts, "\n"), used
}

func formatEntry(tag string, c *corpus.RetrievedChunk, withAbstract bool) string {
	ref := firstNonEmpty(c.SourceRef, c.Reference, unknownReference)
	url := firstNonEmpty(c.SourceURL, c.DocURL)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (pertinence: %.0f%%)", tag, ref, c.Similarity*100)
	if withAbstract {
		if abstract := strings.TrimSpace(c.Abstract); abstract != "" {
			sb.WriteString("\nRegeste: ")
			sb.WriteString(truncate(abstract, abstractPreview))
		}
	}
	fmt.Fprintf(&sb, "\nURL: %s\n%s\n", url, c.Text)
	return sb.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
