// Package downloader coordinates a book download: it works out which
// chapters are still missing, fetches them through the batch endpoint and
// the per-chapter cascade, persists progress as it goes, and hands the
// sequenced book to the output writer.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/fetch"
	"github.com/brogergvhs/noveld/internal/output"
	"github.com/brogergvhs/noveld/internal/providers"
	"github.com/brogergvhs/noveld/internal/state"
	"github.com/brogergvhs/noveld/internal/ui"
)

var (
	ErrMetadata   = errors.New("chapter metadata unavailable")
	ErrNoSelected = errors.New("no chapters selected")
)

type Fetcher interface {
	Fetch(ctx context.Context, ref chapters.Ref) (fetch.Result, error)
}

type BatchFetcher interface {
	FetchBatch(ctx context.Context, refs []chapters.Ref, onChunk func(fetch.ChunkResult)) fetch.ChunkResult
}

// Progress receives one Begin per phase, one Step per finished chapter.
type Progress interface {
	Begin(phase string, total int)
	Step(bytes int64)
	End()
}

type Options struct {
	Workers    int
	MaxRounds  int
	RoundDelay time.Duration
	// RateLimit caps chapter fetches per second; 0 means unlimited.
	RateLimit float64
}

func DefaultOptions() Options {
	return Options{
		Workers:    4,
		MaxRounds:  5,
		RoundDelay: time.Second,
	}
}

type Config struct {
	Metadata   providers.Metadata
	Fetcher    Fetcher
	Batch      BatchFetcher
	Writer     output.Writer
	OutputDir  string
	StatusFile string
	Options    Options
	Progress   Progress
	Stats      *ui.Stats
	Log        ui.Log
}

type Coordinator struct {
	cfg Config
}

func New(cfg Config) *Coordinator {
	if cfg.Log == nil {
		cfg.Log = ui.Discard
	}
	if cfg.Progress == nil {
		cfg.Progress = noProgress{}
	}
	if cfg.Stats == nil {
		cfg.Stats = &ui.Stats{}
	}
	if cfg.Options.Workers < 1 {
		cfg.Options.Workers = 1
	}
	if cfg.Options.MaxRounds < 1 {
		cfg.Options.MaxRounds = 1
	}
	return &Coordinator{cfg: cfg}
}

type Job struct {
	BookID string
	Range  string
	List   string
}

type Result struct {
	Book       providers.BookInfo
	Sequence   chapters.Sequence
	Entries    []output.Entry
	Completed  []string
	Failed     []ChapterResult
	Uncached   []string
	Fetched    int
	Rounds     int
	OutputPath string
	Cancelled  bool
}

// run is the state of one Run call.
type run struct {
	c       *Coordinator
	store   *state.Store
	cache   *output.Cache
	mu      sync.Mutex
	results map[string]*ChapterResult
}

// Run downloads the selected chapters of a book. Only a metadata failure
// aborts before fetching; otherwise a Result is always returned, together
// with any error from writing the book.
func (c *Coordinator) Run(ctx context.Context, job Job) (*Result, error) {
	log := c.cfg.Log

	book, err := c.cfg.Metadata.Book(ctx, job.BookID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}

	selected := chapters.Filter(book.Chapters, job.Range, job.List)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w (book has %d chapters)", ErrNoSelected, len(book.Chapters))
	}

	r := &run{
		c:       c,
		store:   state.Open(state.PathFor(c.cfg.OutputDir, c.cfg.StatusFile), job.BookID, log),
		cache:   output.NewCache(c.cfg.OutputDir, job.BookID),
		results: map[string]*ChapterResult{},
	}

	pending := r.pendingRefs(selected)
	log.Infof("%s: %d chapters selected, %d already downloaded, %d pending",
		displayName(book.Info), len(selected), len(selected)-len(pending), len(pending))

	res := &Result{Book: book.Info}

	if c.cfg.Batch != nil && len(pending) > 0 && ctx.Err() == nil {
		r.runBatch(ctx, pending)
	}

	residue := r.unresolved(pending)
	for round := 1; len(residue) > 0 && round <= c.cfg.Options.MaxRounds; round++ {
		if ctx.Err() != nil {
			break
		}
		if round > 1 {
			log.Infof("retrying %d chapters (round %d/%d)", len(residue), round, c.cfg.Options.MaxRounds)
			if err := sleep(ctx, c.cfg.Options.RoundDelay); err != nil {
				break
			}
		}

		res.Rounds = round
		c.cfg.Progress.Begin(fmt.Sprintf("round %d", round), len(residue))
		r.runRound(ctx, residue)
		residue = r.unresolved(residue)
	}
	c.cfg.Progress.End()

	res.Cancelled = ctx.Err() != nil
	if !res.Cancelled {
		res.Failed = r.fail(residue)
	}
	res.Fetched = r.countDone()

	r.assemble(selected, res)

	if c.cfg.Writer != nil && len(res.Entries) > 0 {
		path, err := c.cfg.Writer.Write(output.Book{Info: book.Info, Entries: res.Entries}, c.cfg.OutputDir)
		if err != nil {
			return res, fmt.Errorf("write book: %w", err)
		}
		res.OutputPath = path
	}

	return res, nil
}

// pendingRefs returns the selected chapters still to fetch. A chapter the
// state file lists as completed is fetched again when its cached content is
// missing or unreadable, so the book is never written without it.
func (r *run) pendingRefs(selected []chapters.Ref) []chapters.Ref {
	pendingIDs := r.store.Pending(chapters.IDs(selected))
	want := make(map[string]bool, len(pendingIDs))
	for _, id := range pendingIDs {
		want[id] = true
	}

	stale := 0
	for _, ref := range selected {
		if want[ref.ID] {
			continue
		}
		if _, ok, err := r.cache.Load(ref.ID); err != nil || !ok {
			want[ref.ID] = true
			stale++
		}
	}
	if stale > 0 {
		r.c.cfg.Log.Warnf("%d chapters marked complete have no cached content and will be fetched again", stale)
	}

	var out []chapters.Ref
	for _, ref := range selected {
		if want[ref.ID] {
			r.results[ref.ID] = newResult(ref)
			out = append(out, ref)
		}
	}
	return out
}

func (r *run) unresolved(refs []chapters.Ref) []chapters.Ref {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []chapters.Ref
	for _, ref := range refs {
		if cr := r.results[ref.ID]; cr != nil && cr.Status != Done {
			out = append(out, ref)
		}
	}
	return out
}

func (r *run) countDone() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, cr := range r.results {
		if cr.Status == Done {
			n++
		}
	}
	return n
}

// fail makes the remaining chapters terminally failed.
func (r *run) fail(refs []chapters.Ref) []ChapterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ChapterResult, 0, len(refs))
	for _, ref := range refs {
		cr := r.results[ref.ID]
		cr.fail()
		r.c.cfg.Stats.Failed.Add(1)
		r.c.cfg.Log.Errorf("chapter %s (%s) failed after %d attempts: %s", ref.ID, ref.Title, cr.Attempts, cr.LastError)
		out = append(out, *cr)
	}
	return out
}

// persist caches the content and only then records the chapter as
// completed, so the state file never lists a chapter without content.
func (r *run) persist(ref chapters.Ref, fr fetch.Result) error {
	if err := r.cache.Store(ref.ID, output.CachedChapter{Title: fr.Title, Content: fr.Content, Source: fr.Source}); err != nil {
		return err
	}

	r.mu.Lock()
	r.results[ref.ID].complete(fr)
	r.mu.Unlock()

	r.c.cfg.Stats.Fetched.Add(1)
	r.c.cfg.Stats.Bytes.Add(int64(len(fr.Content)))
	r.c.cfg.Progress.Step(int64(len(fr.Content)))
	return nil
}

func (r *run) runBatch(ctx context.Context, pending []chapters.Ref) {
	log := r.c.cfg.Log
	byID := make(map[string]chapters.Ref, len(pending))
	for _, ref := range pending {
		byID[ref.ID] = ref
	}

	r.c.cfg.Progress.Begin("batch", len(pending))
	total := r.c.cfg.Batch.FetchBatch(ctx, pending, func(chunk fetch.ChunkResult) {
		var done []string
		for id, fr := range chunk.Found {
			ref, ok := byID[id]
			if !ok {
				continue
			}
			if err := r.persist(ref, fr); err != nil {
				log.Errorf("chapter %s: %v", id, err)
				continue
			}
			done = append(done, id)
		}
		if err := r.store.MarkDone(done...); err != nil {
			log.Errorf("save state: %v", err)
		}
		r.c.cfg.Stats.FromBatch.Add(int64(len(done)))
	})

	log.Infof("batch: %d fetched, %d left for single requests", len(total.Found), len(total.Missing))
}

func (r *run) assemble(selected []chapters.Ref, res *Result) {
	log := r.c.cfg.Log
	res.Sequence = chapters.Order(selected)

	for _, issue := range res.Sequence.Issues {
		log.Warnf("sequence: %s", issue)
	}

	for _, ref := range res.Sequence.Refs() {
		r.mu.Lock()
		cr := r.results[ref.ID]
		r.mu.Unlock()

		if cr != nil {
			if cr.Status == Done {
				res.Entries = append(res.Entries, output.Entry{ID: ref.ID, Title: cr.Title, Content: cr.Content})
			}
			continue
		}
		if !r.store.IsDone(ref.ID) {
			continue
		}

		cached, ok, err := r.cache.Load(ref.ID)
		if err != nil || !ok {
			if err != nil {
				log.Warnf("chapter %s: %v", ref.ID, err)
			}
			res.Uncached = append(res.Uncached, ref.ID)
			continue
		}
		res.Entries = append(res.Entries, output.Entry{ID: ref.ID, Title: cached.Title, Content: cached.Content})
	}

	res.Completed = r.store.Completed()
}

func displayName(info providers.BookInfo) string {
	if info.Name != "" {
		return info.Name
	}
	return info.ID
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type noProgress struct{}

func (noProgress) Begin(string, int) {}
func (noProgress) Step(int64)        {}
func (noProgress) End()              {}
