package downloader

import (
	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/fetch"
)

type Status int

const (
	Pending Status = iota
	Fetching
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	case Done:
		return "done"
	default:
		return "failed"
	}
}

// ChapterResult tracks one chapter through a run. Done and Failed are
// terminal; later transitions are ignored.
type ChapterResult struct {
	Ref       chapters.Ref
	Status    Status
	Title     string
	Content   string
	Source    string
	Attempts  int
	LastError string
}

func newResult(ref chapters.Ref) *ChapterResult {
	return &ChapterResult{Ref: ref, Status: Pending}
}

func (r *ChapterResult) terminal() bool {
	return r.Status == Done || r.Status == Failed
}

func (r *ChapterResult) start() bool {
	if r.terminal() {
		return false
	}
	r.Status = Fetching
	return true
}

// retry puts the chapter back in line after an unsuccessful attempt.
func (r *ChapterResult) retry(attempts int, err error) {
	if r.terminal() {
		return
	}
	r.Status = Pending
	r.Attempts += attempts
	if err != nil {
		r.LastError = err.Error()
	}
}

func (r *ChapterResult) complete(fr fetch.Result) {
	if r.terminal() {
		return
	}
	r.Status = Done
	r.Title = fr.Title
	r.Content = fr.Content
	r.Source = fr.Source
	r.Attempts += fr.Attempts
}

func (r *ChapterResult) fail() {
	if r.terminal() {
		return
	}
	r.Status = Failed
}
