package output

import (
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/go-shiori/go-epub"
	"github.com/google/uuid"
)

type EPUBWriter struct {
	Lang string
}

func (w EPUBWriter) Write(book Book, dir string) (string, error) {
	if len(book.Entries) == 0 {
		return "", fmt.Errorf("epub: no chapters to write")
	}

	title := book.Info.Name
	if title == "" {
		title = book.Info.ID
	}

	e, err := epub.NewEpub(title)
	if err != nil {
		return "", fmt.Errorf("epub: %w", err)
	}

	e.SetIdentifier("urn:uuid:" + uuid.NewString())
	if book.Info.Author != "" {
		e.SetAuthor(book.Info.Author)
	}
	if book.Info.Description != "" {
		e.SetDescription(book.Info.Description)
	}
	if w.Lang != "" {
		e.SetLang(w.Lang)
	}

	for i, entry := range book.Entries {
		name := fmt.Sprintf("chapter_%04d.xhtml", i+1)
		if _, err := e.AddSection(sectionBody(entry), entry.Title, name, ""); err != nil {
			return "", fmt.Errorf("epub: add %s: %w", entry.Title, err)
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("epub: %w", err)
	}

	path := bookFile(book, dir, ".epub")
	if err := e.Write(path); err != nil {
		return "", fmt.Errorf("epub: write: %w", err)
	}
	return path, nil
}

func sectionBody(entry Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(entry.Title))
	for line := range strings.SplitSeq(entry.Content, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(t))
		}
	}
	return b.String()
}
