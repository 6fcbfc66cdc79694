// Package output writes the assembled book and caches fetched chapters
// between runs.
package output

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/brogergvhs/noveld/internal/providers"
	"github.com/brogergvhs/noveld/internal/util"
)

type Entry struct {
	ID      string
	Title   string
	Content string
}

type Book struct {
	Info    providers.BookInfo
	Entries []Entry
}

// Writer renders a book into dir and returns the written path.
type Writer interface {
	Write(book Book, dir string) (string, error)
}

const (
	FormatTXT  = "txt"
	FormatEPUB = "epub"
)

func NewWriter(format string) (Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatTXT:
		return TXTWriter{}, nil
	case FormatEPUB:
		return EPUBWriter{Lang: "zh"}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func bookFile(book Book, dir, ext string) string {
	name := book.Info.Name
	if name == "" {
		name = book.Info.ID
	}
	return filepath.Join(dir, util.SafeName(name)+ext)
}
