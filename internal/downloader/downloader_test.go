package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/fetch"
	"github.com/brogergvhs/noveld/internal/output"
	"github.com/brogergvhs/noveld/internal/providers"
	"github.com/brogergvhs/noveld/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMetadata struct {
	BookFunc func(ctx context.Context, bookID string) (providers.Book, error)
}

func (m *mockMetadata) Book(ctx context.Context, bookID string) (providers.Book, error) {
	return m.BookFunc(ctx, bookID)
}

type mockFetcher struct {
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32

	FetchFunc func(ctx context.Context, ref chapters.Ref) (fetch.Result, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, ref chapters.Ref) (fetch.Result, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, ref.ID)
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, ref)
	}
	return fetch.Result{Title: ref.Title, Content: "    " + ref.ID, Source: "single", Attempts: 1}, nil
}

func (m *mockFetcher) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockBatch struct {
	calls   atomic.Int32
	missing map[string]bool
}

func (m *mockBatch) FetchBatch(_ context.Context, refs []chapters.Ref, onChunk func(fetch.ChunkResult)) fetch.ChunkResult {
	m.calls.Add(1)
	res := fetch.ChunkResult{Found: map[string]fetch.Result{}}
	for _, ref := range refs {
		if m.missing[ref.ID] {
			res.Missing = append(res.Missing, ref.ID)
			continue
		}
		res.Found[ref.ID] = fetch.Result{Title: ref.Title, Content: "    batch " + ref.ID, Source: "batch", Attempts: 1}
	}
	if onChunk != nil {
		onChunk(res)
	}
	return res
}

type recordingWriter struct {
	books []output.Book
}

func (w *recordingWriter) Write(book output.Book, dir string) (string, error) {
	w.books = append(w.books, book)
	return filepath.Join(dir, "book.txt"), nil
}

var scenarioTitles = []string{"第1章 开始", "序章", "第3章 终", "番外：支线", "后记"}

func scenarioMeta() *mockMetadata {
	return &mockMetadata{BookFunc: func(_ context.Context, bookID string) (providers.Book, error) {
		refs := make([]chapters.Ref, len(scenarioTitles))
		for i, title := range scenarioTitles {
			refs[i] = chapters.Ref{ID: fmt.Sprintf("c%d", i), Title: title, Ordinal: i}
		}
		return providers.Book{Info: providers.BookInfo{ID: bookID, Name: "书"}, Chapters: refs}, nil
	}}
}

func newCoordinator(t *testing.T, dir string, f Fetcher, b BatchFetcher, w output.Writer) *Coordinator {
	t.Helper()
	return New(Config{
		Metadata:  scenarioMeta(),
		Fetcher:   f,
		Batch:     b,
		Writer:    w,
		OutputDir: dir,
		Options:   Options{Workers: 2, MaxRounds: 3},
	})
}

func entryTitles(entries []output.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Title
	}
	return out
}

func TestRunBatchThenResidue(t *testing.T) {
	dir := t.TempDir()
	f := &mockFetcher{}
	b := &mockBatch{missing: map[string]bool{"c1": true, "c3": true}}
	w := &recordingWriter{}

	res, err := newCoordinator(t, dir, f, b, w).Run(context.Background(), Job{BookID: "7"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"c1", "c3"}, f.called())
	assert.Equal(t, []string{"c0", "c1", "c2", "c3", "c4"}, res.Completed)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 5, res.Fetched)

	assert.Equal(t, []string{"序章", "第1章 开始", "第3章 终", "番外：支线", "后记"}, entryTitles(res.Entries))
	assert.Contains(t, res.Sequence.Issues, "gap between chapter 1 and 3")
	assert.Equal(t, "    batch c0", res.Entries[1].Content)
	assert.Equal(t, "    c1", res.Entries[0].Content)

	require.Len(t, w.books, 1)
	assert.Equal(t, filepath.Join(dir, "book.txt"), res.OutputPath)

	st := state.Open(state.PathFor(dir, ""), "7", nil)
	assert.Equal(t, 5, st.Len())
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	first, err := newCoordinator(t, dir, &mockFetcher{}, nil, &recordingWriter{}).Run(context.Background(), Job{BookID: "7"})
	require.NoError(t, err)

	f := &mockFetcher{}
	b := &mockBatch{}
	second, err := newCoordinator(t, dir, f, b, &recordingWriter{}).Run(context.Background(), Job{BookID: "7"})
	require.NoError(t, err)

	assert.Empty(t, f.called())
	assert.Zero(t, b.calls.Load())
	assert.Equal(t, 0, second.Fetched)
	assert.Equal(t, first.Entries, second.Entries)
	assert.Empty(t, second.Uncached)
}

func TestRunRefetchesCompletedChaptersWithoutCache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(state.PathFor(dir, ""), []byte(`["c0","c2"]`), 0644))

	f := &mockFetcher{}
	w := &recordingWriter{}
	res, err := newCoordinator(t, dir, f, nil, w).Run(context.Background(), Job{BookID: "7"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"c0", "c1", "c2", "c3", "c4"}, f.called())
	assert.Empty(t, res.Uncached)
	assert.Equal(t, []string{"序章", "第1章 开始", "第3章 终", "番外：支线", "后记"}, entryTitles(res.Entries))
	assert.Equal(t, "    c0", res.Entries[1].Content)

	cached, ok, err := output.NewCache(dir, "7").Load("c2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "    c2", cached.Content)

	// a second run finds everything cached and fetches nothing
	again := &mockFetcher{}
	res, err = newCoordinator(t, dir, again, nil, &recordingWriter{}).Run(context.Background(), Job{BookID: "7"})
	require.NoError(t, err)
	assert.Empty(t, again.called())
	assert.Len(t, res.Entries, 5)
}

func TestRunRetriesInRounds(t *testing.T) {
	var attempts sync.Map
	f := &mockFetcher{FetchFunc: func(_ context.Context, ref chapters.Ref) (fetch.Result, error) {
		n, _ := attempts.LoadOrStore(ref.ID, new(atomic.Int32))
		if ref.ID == "c2" && n.(*atomic.Int32).Add(1) < 3 {
			return fetch.Result{Attempts: 2}, &fetch.ExhaustedError{ChapterID: ref.ID, Attempts: 2, Last: errors.New("down")}
		}
		return fetch.Result{Title: ref.Title, Content: "ok", Attempts: 1}, nil
	}}

	res, err := newCoordinator(t, t.TempDir(), f, nil, nil).Run(context.Background(), Job{BookID: "7"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rounds)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Completed, 5)
}

func TestRunSurfacesPermanentFailures(t *testing.T) {
	f := &mockFetcher{FetchFunc: func(_ context.Context, ref chapters.Ref) (fetch.Result, error) {
		if ref.ID == "c4" {
			return fetch.Result{Attempts: 1}, &fetch.ExhaustedError{ChapterID: ref.ID, Attempts: 1, Last: errors.New("gone")}
		}
		return fetch.Result{Title: ref.Title, Content: "ok", Attempts: 1}, nil
	}}
	w := &recordingWriter{}

	res, err := newCoordinator(t, t.TempDir(), f, nil, w).Run(context.Background(), Job{BookID: "7"})
	require.NoError(t, err)

	require.Len(t, res.Failed, 1)
	failed := res.Failed[0]
	assert.Equal(t, "c4", failed.Ref.ID)
	assert.Equal(t, Failed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	assert.Contains(t, failed.LastError, "gone")

	assert.NotContains(t, res.Completed, "c4")
	assert.Len(t, w.books[0].Entries, 4)
}

func TestRunCancellationFlushesProgress(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &mockFetcher{FetchFunc: func(_ context.Context, ref chapters.Ref) (fetch.Result, error) {
		cancel()
		return fetch.Result{Title: ref.Title, Content: "ok", Attempts: 1}, nil
	}}
	w := &recordingWriter{}

	c := New(Config{
		Metadata:  scenarioMeta(),
		Fetcher:   f,
		Writer:    w,
		OutputDir: dir,
		Options:   Options{Workers: 1, MaxRounds: 3},
	})

	res, err := c.Run(ctx, Job{BookID: "7"})
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, []string{"c0"}, f.called())
	assert.Equal(t, []string{"c0"}, res.Completed)
	assert.Empty(t, res.Failed)
	require.Len(t, w.books, 1)
	assert.Equal(t, []string{"第1章 开始"}, entryTitles(w.books[0].Entries))

	st := state.Open(state.PathFor(dir, ""), "7", nil)
	assert.True(t, st.IsDone("c0"))
}

func TestRunMetadataFailureIsFatal(t *testing.T) {
	f := &mockFetcher{}
	c := New(Config{
		Metadata: &mockMetadata{BookFunc: func(context.Context, string) (providers.Book, error) {
			return providers.Book{}, errors.New("blocked")
		}},
		Fetcher:   f,
		OutputDir: t.TempDir(),
	})

	res, err := c.Run(context.Background(), Job{BookID: "7"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrMetadata)
	assert.Empty(t, f.called())
}

func TestRunSelection(t *testing.T) {
	f := &mockFetcher{}
	res, err := newCoordinator(t, t.TempDir(), f, nil, nil).Run(context.Background(), Job{BookID: "7", Range: "2-3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, f.called())
	assert.Len(t, res.Entries, 2)

	_, err = newCoordinator(t, t.TempDir(), f, nil, nil).Run(context.Background(), Job{BookID: "7", List: "99"})
	assert.ErrorIs(t, err, ErrNoSelected)
}

func TestRunBoundsConcurrency(t *testing.T) {
	f := &mockFetcher{FetchFunc: func(_ context.Context, ref chapters.Ref) (fetch.Result, error) {
		time.Sleep(20 * time.Millisecond)
		return fetch.Result{Title: ref.Title, Content: "ok", Attempts: 1}, nil
	}}

	_, err := newCoordinator(t, t.TempDir(), f, nil, nil).Run(context.Background(), Job{BookID: "7"})
	require.NoError(t, err)
	assert.LessOrEqual(t, f.peak.Load(), int32(2))
	assert.Len(t, f.called(), 5)
}

func TestChapterResultTerminalOnce(t *testing.T) {
	r := newResult(chapters.Ref{ID: "1"})
	require.True(t, r.start())
	r.complete(fetch.Result{Content: "first", Attempts: 1})
	r.complete(fetch.Result{Content: "second", Attempts: 1})
	r.fail()
	r.retry(1, errors.New("late"))

	assert.Equal(t, Done, r.Status)
	assert.Equal(t, "first", r.Content)
	assert.Equal(t, 1, r.Attempts)
	assert.Empty(t, r.LastError)
	assert.False(t, r.start())
}
