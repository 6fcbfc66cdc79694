// Package fetch retrieves chapter content from the configured endpoints,
// one chapter at a time through a priority cascade or in bulk through the
// batch endpoint.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/endpoints"
	"github.com/brogergvhs/noveld/internal/normalize"
	"github.com/brogergvhs/noveld/internal/ui"
)

const maxBody = 16 << 20

type Options struct {
	JitterMin time.Duration
	JitterMax time.Duration
	Backoff   time.Duration
	Timeout   time.Duration
}

func DefaultOptions() Options {
	return Options{
		JitterMin: 100 * time.Millisecond,
		JitterMax: 500 * time.Millisecond,
		Backoff:   3 * time.Second,
		Timeout:   15 * time.Second,
	}
}

// Rewriter maps a URL onto a forwarding proxy. ok is false when the URL is
// left as is.
type Rewriter interface {
	Rewrite(raw string) (string, bool)
}

type Config struct {
	Client   *http.Client
	Tracker  *endpoints.Tracker
	Options  Options
	BookID   string
	Rewriter Rewriter
	// FallbackToOriginal retries an endpoint once without the rewrite when
	// the rewritten request fails.
	FallbackToOriginal bool
	Log                ui.Log
}

type Orchestrator struct {
	client   *http.Client
	tracker  *endpoints.Tracker
	opts     Options
	bookID   string
	rewriter Rewriter
	fallback bool
	log      ui.Log
	sleep    func(context.Context, time.Duration) error
}

func New(cfg Config) *Orchestrator {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	log := cfg.Log
	if log == nil {
		log = ui.Discard
	}
	return &Orchestrator{
		client:   client,
		tracker:  cfg.Tracker,
		opts:     cfg.Options,
		bookID:   cfg.BookID,
		rewriter: cfg.Rewriter,
		fallback: cfg.FallbackToOriginal,
		log:      log,
		sleep:    sleep,
	}
}

type Result struct {
	Title    string
	Content  string
	Source   string
	Attempts int
}

// Fetch tries each endpoint in configured order and returns the first
// normalized success. A request that has started is allowed to finish
// after ctx is cancelled, but no further endpoint is tried.
func (o *Orchestrator) Fetch(ctx context.Context, ref chapters.Ref) (Result, error) {
	var last error
	attempts := 0

	list := o.tracker.Ordered()
	for i, ep := range list {
		if err := o.sleep(ctx, o.jitter()); err != nil {
			return Result{Attempts: attempts}, err
		}

		attempts++
		o.tracker.RecordAttempt(ep.Name)

		start := time.Now()
		res, err := o.tryEndpoint(ctx, ep, ref)
		if err == nil {
			o.tracker.RecordSuccess(ep.Name, time.Since(start))
			res.Attempts = attempts
			return res, nil
		}

		o.tracker.RecordFailure(ep.Name)
		last = err
		o.log.Debugf("chapter %s: %s failed (%d in a row): %v",
			ref.ID, ep.Name, o.tracker.Get(ep.Name).ConsecutiveErrors, err)

		// Only content-level failures back off; a transport failure or the
		// last endpoint moves on immediately.
		var terr *TransportError
		if !errors.As(err, &terr) && i < len(list)-1 {
			if err := o.sleep(ctx, o.opts.Backoff); err != nil {
				return Result{Attempts: attempts}, err
			}
		}
		if ctx.Err() != nil {
			return Result{Attempts: attempts}, ctx.Err()
		}
	}

	if last == nil {
		last = endpoints.ErrNoEndpoints
	}
	return Result{Attempts: attempts}, &ExhaustedError{ChapterID: ref.ID, Attempts: attempts, Last: last}
}

func (o *Orchestrator) tryEndpoint(ctx context.Context, ep endpoints.Descriptor, ref chapters.Ref) (Result, error) {
	target, err := targetURL(ep, ref.ID, o.bookID)
	if err != nil {
		return Result{}, &DecodeError{Source: ep.Name, Reason: "bad url", Err: err}
	}

	data, err := o.retrieve(ctx, ep, target, ref.ID)
	if err != nil {
		return Result{}, err
	}

	content, err := normalize.Normalize(ep.Dialect, data.Content, ref.Title)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Title:   chapters.DisplayTitle(ref.Title, data.Title),
		Content: content,
		Source:  ep.Name,
	}, nil
}

// retrieve issues the request through the rewriter when one applies, and
// once more against the original URL if that fails.
func (o *Orchestrator) retrieve(ctx context.Context, ep endpoints.Descriptor, target, chapterID string) (chapterData, error) {
	if o.rewriter != nil {
		if proxied, ok := o.rewriter.Rewrite(target); ok {
			data, err := o.do(ctx, ep, proxied, chapterID)
			if err == nil || !o.fallback {
				return data, err
			}
			o.log.Debugf("chapter %s: proxy failed for %s, retrying direct: %v", chapterID, ep.Name, err)
		}
	}
	return o.do(ctx, ep, target, chapterID)
}

func (o *Orchestrator) do(ctx context.Context, ep endpoints.Descriptor, target, chapterID string) (chapterData, error) {
	reqCtx := context.WithoutCancel(ctx)
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, o.opts.Timeout)
		defer cancel()
	}

	req, err := newRequest(reqCtx, ep, target, chapterID)
	if err != nil {
		return chapterData{}, &TransportError{Source: ep.Name, URL: target, Err: err}
	}

	body, err := send(o.client, req, ep.Name)
	if err != nil {
		return chapterData{}, err
	}
	return decodeChapter(ep, body)
}

func send(client *http.Client, req *http.Request, source string) (_ []byte, err error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Source: source, URL: req.URL.Redacted(), Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = &TransportError{Source: source, URL: req.URL.Redacted(), Err: cerr}
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, &TransportError{Source: source, URL: req.URL.Redacted(), Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &TransportError{Source: source, URL: req.URL.Redacted(), Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func (o *Orchestrator) jitter() time.Duration {
	lo, hi := o.opts.JitterMin, o.opts.JitterMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
