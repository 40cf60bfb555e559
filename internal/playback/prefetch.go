package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/varshagowdavg/signbridge/internal/protocol"
	"golang.org/x/sync/errgroup"
)

// ErrNoAsset is the diagnostic recorded for words without a vocabulary asset.
var ErrNoAsset = errors.New("playback: no asset for word")

// Asset is a playable clip for one vocabulary entry.
type Asset struct {
	Word string
	Path string
}

// Resolver maps a vocabulary word to its asset. A missing word returns
// ok=false and a nil error. The prefetcher resolves several words at once and
// pipelines share one Resolver, so implementations must be safe for
// concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, word string) (asset Asset, ok bool, err error)
}

// Loader reads the frames of an asset in playback order. Like Resolver it is
// called concurrently and must be safe for concurrent use.
type Loader interface {
	Load(ctx context.Context, asset Asset) ([]protocol.SignFrame, error)
}

// Prefetcher is the producer side of the pipeline. Loads for up to the queue
// capacity run concurrently, but items are always enqueued in word order.
type Prefetcher struct {
	resolver Resolver
	loader   Loader
	timeout  time.Duration
	metrics  *Metrics
	log      *slog.Logger
}

func NewPrefetcher(resolver Resolver, loader Loader, timeout time.Duration, metrics *Metrics, logger *slog.Logger) *Prefetcher {
	return &Prefetcher{
		resolver: resolver,
		loader:   loader,
		timeout:  timeout,
		metrics:  metrics,
		log:      logger.With(slog.String("component", "playback.prefetch")),
	}
}

// Run resolves and loads every word, enqueues the clips in order and closes q.
// Failed words are enqueued with no frames. On cancellation Run returns the
// context error without closing q.
func (p *Prefetcher) Run(ctx context.Context, words []string, q *Queue) error {
	g, gctx := errgroup.WithContext(ctx)
	pending := make(chan chan Item, q.Capacity())

	g.Go(func() error {
		defer close(pending)
		for i, word := range words {
			if err := q.Reserve(gctx); err != nil {
				return err
			}
			result := make(chan Item, 1)
			select {
			case pending <- result:
			case <-gctx.Done():
				return gctx.Err()
			}
			g.Go(func() error {
				result <- p.fetch(gctx, i, word)
				return nil
			})
		}
		return nil
	})

	g.Go(func() error {
		for result := range pending {
			select {
			case item := <-result:
				if err := gctx.Err(); err != nil {
					return err
				}
				q.Put(item)
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		q.Close()
		return nil
	})

	return g.Wait()
}

func (p *Prefetcher) fetch(ctx context.Context, index int, word string) Item {
	item := Item{Index: index, Word: word}
	start := time.Now()

	asset, ok, err := p.resolver.Resolve(ctx, word)
	switch {
	case err != nil:
		item.Reason = fmt.Sprintf("resolve: %v", err)
	case !ok:
		item.Reason = ErrNoAsset.Error()
	}
	if item.Reason != "" {
		p.log.Warn("asset unavailable", slog.String("word", word), slog.Int("index", index), slog.String("reason", item.Reason))
		return item
	}

	loadCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	frames, err := p.loader.Load(loadCtx, asset)
	if p.metrics != nil {
		p.metrics.LoadDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() == nil && p.metrics != nil {
			p.metrics.LoadErrors.Add(ctx, 1)
		}
		item.Reason = fmt.Sprintf("load %s: %v", asset.Path, err)
		p.log.Warn("asset load failed", slog.String("word", word), slog.String("path", asset.Path), slogError(err))
		return item
	}
	if len(frames) == 0 {
		item.Reason = "asset has no frames"
		return item
	}
	item.Frames = frames
	return item
}
