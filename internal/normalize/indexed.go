package normalize

import (
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// indexedParagraphs reads <p idx="n"> paragraphs in idx order. These
// payloads are already paragraph-delimited, so lines are not indented.
// Markup without indexed paragraphs falls back to the shared rules.
func indexedParagraphs(raw, _ string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return clean(raw)
	}

	type para struct {
		idx  int
		pos  int
		text string
	}

	var paras []para
	doc.Find("p[idx]").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(s.AttrOr("idx", "")))
		if err != nil {
			n = i
		}
		paras = append(paras, para{idx: n, pos: i, text: text})
	})

	if len(paras) == 0 {
		return clean(raw)
	}

	sort.SliceStable(paras, func(i, j int) bool { return paras[i].idx < paras[j].idx })

	lines := make([]string, len(paras))
	for i, p := range paras {
		lines[i] = p.text
	}
	return strings.Join(lines, "\n")
}
