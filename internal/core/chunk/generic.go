package chunk

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/soluris/lexrag/internal/core/corpus"
)

// DefaultSelectors は州法ポータルでよく使われる条文要素のセレクタ（試行順）
var DefaultSelectors = []string{
	"div[id^='art']",
	"div[class*='article']",
	"p[id^='art']",
	"section",
	"article",
	".legis-text p",
	"td.article",
}

// selectors は指定セレクタ、続いて既定セレクタを順に試し、
// 最初に要素が見つかったセレクタで条文を切り出す
func (c *Chunker) selectors(doc *corpus.Document, root *html.Node, extra []string) []piece {
	for _, sel := range candidateSelectors(extra) {
		compiled, err := cascadia.Compile(sel)
		if err != nil {
			continue
		}
		nodes := outermost(compiled.MatchAll(root))
		if len(nodes) == 0 {
			continue
		}

		var out []piece
		for i, n := range nodes {
			text := inlineText(n)
			if runeLen(text) < c.cfg.MinChars {
				continue
			}
			number := fmt.Sprintf("§%d", i+1)
			ref := fmt.Sprintf("%s %s", number, docRef(doc))
			if m := articleNumber.FindStringSubmatch(text); m != nil {
				number = m[1]
				ref = articleRef(doc, number)
			}
			out = append(out, piece{
				kind: corpus.ChunkArticle,
				text: text,
				ref:  strings.TrimSpace(ref),
				url:  articleURL(doc.URL, attr(n, "id")),
				meta: corpus.Metadata{"article_number": number, "selector": sel},
			})
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// candidateSelectors はカンマ区切りの指定を1つずつに展開し、既定セレクタを後ろに足す
func candidateSelectors(extra []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, e := range extra {
		for _, s := range strings.Split(e, ",") {
			add(s)
		}
	}
	for _, s := range DefaultSelectors {
		add(s)
	}
	return out
}

// outermost は他の一致要素の内側にある要素を除く（同じ本文の重複を防ぐ）
func outermost(nodes []*html.Node) []*html.Node {
	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		nested := false
		for _, other := range nodes {
			if other != n && isAncestor(other, n) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, n)
		}
	}
	return out
}
