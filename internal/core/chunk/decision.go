package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/soluris/lexrag/internal/core/corpus"
)

// 判決の節見出し（仏・独・伊）
var (
	regesteStart = regexp.MustCompile(`(?i)^(Regeste|Sachverhalt|Faits|Résumé|Fatti|Regesto)`)
	considStart  = regexp.MustCompile(`(?i)^(Erwägung|Considérant|En droit|Aus den Erwägungen|` +
		`Extrait des considérants|Considérations en droit|Considerando|In diritto)`)
	dispoStart = regexp.MustCompile(`(?i)^(Par ces motifs|Demnach erkennt|Dispositif|Per questi motivi)`)
)

type section struct {
	kind  corpus.ChunkKind
	lines []string
}

func classifyLine(s string) (corpus.ChunkKind, bool) {
	switch {
	case regesteStart.MatchString(s):
		return corpus.ChunkRegeste, true
	case considStart.MatchString(s):
		return corpus.ChunkConsiderant, true
	case dispoStart.MatchString(s):
		return corpus.ChunkDispositif, true
	}
	return "", false
}

// decision は判決文を regeste / considérant / dispositif の節に分ける。
// 節見出しが1つも無い場合は nil を返し、段落分割に任せる。
func (c *Chunker) decision(doc *corpus.Document, plain string) []piece {
	var sections []section
	cur := section{kind: corpus.ChunkHeader}
	marked := false
	for _, line := range strings.Split(plain, "\n") {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		if kind, ok := classifyLine(s); ok {
			marked = true
			if len(cur.lines) > 0 {
				sections = append(sections, cur)
			}
			cur = section{kind: kind, lines: []string{s}}
			continue
		}
		cur.lines = append(cur.lines, s)
	}
	if len(cur.lines) > 0 {
		sections = append(sections, cur)
	}
	if !marked {
		return nil
	}

	var out []piece
	for _, sec := range sections {
		text := strings.Join(sec.lines, "\n")
		size := runeLen(text)
		if size < c.cfg.MinChars {
			continue
		}

		// 裁判所の定型文が長い場合は冒頭だけ残す
		if sec.kind == corpus.ChunkHeader && size > c.cfg.MaxChars*2 {
			out = append(out, piece{
				kind: corpus.ChunkHeader,
				text: truncateRunes(text, c.cfg.HeaderKeepChars),
				ref:  docRef(doc),
				meta: corpus.Metadata{"truncated": true},
			})
			continue
		}

		parts := []string{text}
		if size > c.cfg.MaxChars {
			parts = splitNumbered(text, c.cfg.NumberedLead, c.cfg.MaxChars)
		}
		for _, part := range parts {
			out = append(out, piece{
				kind: sec.kind,
				text: part,
				ref:  sectionRef(doc, sec.kind, part),
				meta: corpus.Metadata{},
			})
		}
	}
	return out
}

// sectionRef は判決の節を示す引用を返す（例: "ATF 140 III 86 consid. 2.1"）
func sectionRef(doc *corpus.Document, kind corpus.ChunkKind, text string) string {
	ref := docRef(doc)
	switch kind {
	case corpus.ChunkRegeste:
		return strings.TrimSpace(ref + " (regeste)")
	case corpus.ChunkDispositif:
		return strings.TrimSpace(ref + " (dispositif)")
	case corpus.ChunkConsiderant:
		if n := firstParagraphNumber(text); n != "" {
			return strings.TrimSpace(fmt.Sprintf("%s consid. %s", ref, n))
		}
		return strings.TrimSpace(ref + " (considérants)")
	case corpus.ChunkArticle:
		if m := articleNumber.FindStringSubmatch(text); m != nil {
			return articleRef(doc, m[1])
		}
	}
	return ref
}

// firstParagraphNumber は断片中で最初に現れる段落番号（末尾のピリオドなし）
func firstParagraphNumber(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if m := numberedParagraph.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return strings.TrimSuffix(m[1], ".")
		}
	}
	return ""
}
