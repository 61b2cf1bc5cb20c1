package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/soluris/lexrag/internal/core/corpus"
)

var (
	// articleNumber は見出し・本文中の条番号 "Art. 41", "Art 6a"
	articleNumber = regexp.MustCompile(`Art\.?\s*(\d+[a-z]*)`)

	// articleStart は行頭の条文境界 "Art. 12" / "Article 12" / "§ 3"
	articleStart = regexp.MustCompile(`(?m)^[ \t]*(?:Art\.?|Article|§)[ \t]*(\d+[a-z]*)\b`)
)

func isHeading(n *html.Node) bool {
	switch n.DataAtom {
	case atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

// statuteHTML は Fedlex 形式の <article> 要素を1条ずつ断片にする
func (c *Chunker) statuteHTML(doc *corpus.Document, root *html.Node) []piece {
	articles := findAll(root, func(n *html.Node) bool { return n.DataAtom == atom.Article })

	var out []piece
	for _, art := range articles {
		heading := ""
		if h := findFirst(art, isHeading); h != nil {
			heading = inlineText(h)
		}

		paras := findAll(art, func(n *html.Node) bool {
			return n.DataAtom == atom.P && !strings.HasPrefix(attr(n, "id"), "fn-") && !inFootnotes(n, art)
		})
		var lines []string
		for _, p := range paras {
			if t := inlineText(p); t != "" {
				lines = append(lines, t)
			}
		}
		text := strings.Join(lines, "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}

		number := heading
		if m := articleNumber.FindStringSubmatch(heading); m != nil {
			number = m[1]
		}

		meta := corpus.Metadata{}
		if id := attr(art, "id"); id != "" {
			meta["article_id"] = id
		}
		if number != "" {
			meta["article_number"] = number
		}
		if path := sectionPath(art); len(path) > 0 {
			meta["section_path"] = path
		}

		out = append(out, piece{
			kind: corpus.ChunkArticle,
			text: text,
			ref:  articleRef(doc, number),
			url:  articleURL(doc.URL, attr(art, "id")),
			meta: meta,
		})
	}
	return out
}

// inFootnotes は脚注ブロック配下の段落かどうか
func inFootnotes(n, stop *html.Node) bool {
	for p := n.Parent; p != nil && p != stop; p = p.Parent {
		if hasClass(p, "footnotes") {
			return true
		}
	}
	return false
}

// sectionPath は祖先 <section> の見出し（class="heading" の直下の子）を外側から並べる
func sectionPath(n *html.Node) []string {
	var path []string
	for p := n.Parent; p != nil; p = p.Parent {
		if p.DataAtom != atom.Section {
			continue
		}
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && hasClass(c, "heading") {
				if t := inlineText(c); t != "" {
					path = append([]string{t}, path...)
				}
				break
			}
		}
	}
	return path
}

// statuteText は行頭の条文見出しで平文を分割する（PDF抽出テキスト向け）
func (c *Chunker) statuteText(doc *corpus.Document, plain string) []piece {
	locs := articleStart.FindAllStringSubmatchIndex(plain, -1)
	if len(locs) == 0 {
		return nil
	}

	var out []piece
	if lead := strings.TrimSpace(plain[:locs[0][0]]); lead != "" {
		out = append(out, piece{kind: corpus.ChunkHeader, text: truncateRunes(lead, c.cfg.HeaderKeepChars), ref: docRef(doc)})
	}
	for i, loc := range locs {
		end := len(plain)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		number := plain[loc[2]:loc[3]]
		out = append(out, piece{
			kind: corpus.ChunkArticle,
			text: plain[loc[0]:end],
			ref:  articleRef(doc, number),
			meta: corpus.Metadata{"article_number": number},
		})
	}
	return out
}

// articleRef は "Art. 41 CO" 形式の引用を返す
func articleRef(doc *corpus.Document, number string) string {
	ref := docRef(doc)
	if number == "" {
		return ref
	}
	return strings.TrimSpace(fmt.Sprintf("Art. %s %s", number, ref))
}

func articleURL(base, id string) string {
	if base == "" || id == "" || strings.Contains(base, "#") {
		return base
	}
	return base + "#" + id
}
