package chunk

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// articleRefPattern は判決本文中の法令条文への言及（"art. 41 al. 2 CO" など）
var articleRefPattern = regexp.MustCompile(
	`(?i)\bart\.?\s*(\d+[a-z]?(?:\s*(?:al|let|ch|ss)\.?\s*\d*[a-z]?)*)\s+` +
		`(CO|CC|CP|CPC|CPP|LP|LTF|LDIP|LEI|LAT|Cst|LFus|LPGA|LAVS|LAMal|CEDH|LACI|` +
		`LPP|LCA|LDPJ|OBLF|LLCA|LPD|LCD|LBI|LDA|OJ|LaCC|LaCP|LIFD|LHID)\b`,
)

// ExtractArticleRefs は本文中の条文参照を正規化・重複排除してソートして返す
func ExtractArticleRefs(text string) []string {
	seen := make(map[string]struct{})
	for _, m := range articleRefPattern.FindAllStringSubmatch(text, -1) {
		num := strings.Join(strings.Fields(m[1]), " ")
		ref := strings.TrimSpace(fmt.Sprintf("art. %s %s", num, m[2]))
		seen[ref] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}
