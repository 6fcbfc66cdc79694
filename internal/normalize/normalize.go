// Package normalize turns raw chapter markup into clean, newline-separated
// paragraphs. Each endpoint dialect has its own fixed rule set.
package normalize

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/brogergvhs/noveld/internal/endpoints"
)

const indent = "    "

var ErrEmptyContent = errors.New("no extractable paragraphs")

// Error reports a payload that produced no text. Callers treat it like a
// transport failure.
type Error struct {
	Dialect endpoints.Dialect
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Dialect, e.Reason)
}

func (e *Error) Unwrap() error { return ErrEmptyContent }

// Rule is the transformation for one dialect. title is the chapter title as
// known to the caller and may be empty.
type Rule func(raw, title string) string

var rules = map[endpoints.Dialect]Rule{
	endpoints.DialectDefault:   indented,
	endpoints.DialectQyuing:    indented,
	endpoints.DialectFQPHP:     trailerStripped,
	endpoints.DialectLSJK:      indexedParagraphs,
	endpoints.DialectFanqieSDK: titleDeduplicated,
}

func For(d endpoints.Dialect) Rule {
	if r, ok := rules[d]; ok {
		return r
	}
	return indented
}

func Normalize(d endpoints.Dialect, raw, title string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &Error{Dialect: d, Reason: "empty payload"}
	}

	out := For(d)(raw, title)
	if strings.TrimSpace(out) == "" {
		return "", &Error{Dialect: d, Reason: ErrEmptyContent.Error()}
	}
	return out, nil
}

var (
	reEscaped   = regexp.MustCompile(`&lt;(/?[a-zA-Z][^<>]*?)&gt;`)
	reHeader    = regexp.MustCompile(`(?s)<header\b[^>]*>.*?</header>`)
	reFooter    = regexp.MustCompile(`(?s)<footer\b[^>]*>.*?</footer>`)
	reArticle   = regexp.MustCompile(`</?article\b[^>]*>`)
	reParagraph = regexp.MustCompile(`<p\b[^>]*>`)
	reBreak     = regexp.MustCompile(`<br\s*/?>`)
	reTag       = regexp.MustCompile(`<[^>]+>`)
	reBlankRun  = regexp.MustCompile(`\n{3,}`)
)

// clean applies the shared markup rules and returns trimmed text with at
// most one blank line between paragraphs.
func clean(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = reEscaped.ReplaceAllString(s, "<$1>")
	s = reHeader.ReplaceAllString(s, "")
	s = reFooter.ReplaceAllString(s, "")
	s = reArticle.ReplaceAllString(s, "")
	s = reParagraph.ReplaceAllString(s, "\n")
	s = reBreak.ReplaceAllString(s, "\n")
	s = reTag.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, `\u003c`, "")
	s = strings.ReplaceAll(s, `\u003e`, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\u3000")
	}
	s = strings.Join(lines, "\n")

	s = reBlankRun.ReplaceAllString(s, "\n\n")
	return strings.Trim(s, "\n ")
}

func indentLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if t := strings.TrimSpace(line); t != "" {
			lines[i] = indent + strings.TrimLeft(line, " \t\u3000")
		}
	}
	return strings.Join(lines, "\n")
}

func indented(raw, _ string) string {
	return indentLines(clean(raw))
}

// trailerLen is the size of the signature block one source appends.
const trailerLen = 20

// trailerStripped cuts the signature from the raw payload, before any
// cleanup and including trailing whitespace. Payloads no longer than the
// signature are kept whole.
func trailerStripped(raw, title string) string {
	if r := []rune(raw); len(r) > trailerLen {
		raw = string(r[:len(r)-trailerLen])
	}
	return indented(raw, title)
}

func titleDeduplicated(raw, title string) string {
	s := clean(raw)
	title = strings.TrimSpace(title)
	if title == "" {
		return s
	}

	first, rest, _ := strings.Cut(s, "\n")
	if strings.TrimSpace(first) == title {
		return strings.TrimLeft(rest, "\n")
	}
	return s
}
