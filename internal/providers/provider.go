package providers

import (
	"context"

	"github.com/brogergvhs/noveld/internal/chapters"
)

type BookInfo struct {
	ID          string
	Name        string
	Author      string
	Description string
}

type Book struct {
	Info     BookInfo
	Chapters []chapters.Ref
}

// Metadata lists a book's chapters in source order.
type Metadata interface {
	Book(ctx context.Context, bookID string) (Book, error)
}
