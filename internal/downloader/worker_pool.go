package downloader

import (
	"context"
	"errors"

	"github.com/brogergvhs/noveld/internal/chapters"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func (c *Coordinator) limiter() *rate.Limiter {
	if c.cfg.Options.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(c.cfg.Options.RateLimit), 1)
}

// runRound fetches refs on a bounded pool. Cancellation stops new chapters
// from starting; chapters already in flight run to completion.
func (r *run) runRound(ctx context.Context, refs []chapters.Ref) {
	log := r.c.cfg.Log
	lim := r.c.limiter()

	var g errgroup.Group
	g.SetLimit(r.c.cfg.Options.Workers)

	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := lim.Wait(ctx); err != nil {
				return nil
			}

			r.mu.Lock()
			started := r.results[ref.ID].start()
			r.mu.Unlock()
			if !started {
				return nil
			}

			fr, err := r.c.cfg.Fetcher.Fetch(ctx, ref)
			if err == nil {
				err = r.persist(ref, fr)
				if err == nil {
					if serr := r.store.MarkDone(ref.ID); serr != nil {
						log.Errorf("save state: %v", serr)
					}
					return nil
				}
			}

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				err = nil
			} else {
				log.Debugf("chapter %s: %v", ref.ID, err)
			}

			r.mu.Lock()
			r.results[ref.ID].retry(fr.Attempts, err)
			r.mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
}
