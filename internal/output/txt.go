package output

import (
	"fmt"
	"strings"

	"github.com/brogergvhs/noveld/internal/util"
)

type TXTWriter struct{}

func (TXTWriter) Write(book Book, dir string) (string, error) {
	var b strings.Builder

	if book.Info.Name != "" {
		fmt.Fprintf(&b, "小说名：%s\n", book.Info.Name)
	}
	if book.Info.Author != "" {
		fmt.Fprintf(&b, "作者：%s\n", book.Info.Author)
	}
	if book.Info.Description != "" {
		fmt.Fprintf(&b, "内容简介：%s\n", book.Info.Description)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}

	for _, e := range book.Entries {
		b.WriteString(e.Title)
		b.WriteString("\n\n")
		b.WriteString(e.Content)
		b.WriteString("\n\n")
	}

	path := bookFile(book, dir, ".txt")
	if err := util.WriteFileAtomic(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("txt: %w", err)
	}
	return path, nil
}
