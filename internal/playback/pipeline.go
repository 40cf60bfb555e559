package playback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultQueueCapacity = 3
	DefaultRenderWorkers = 1
)

// Pipeline wires a Prefetcher and a Streamer through a fresh Queue per run.
// A Pipeline holds no per-run state and may run several sentences at once.
type Pipeline struct {
	resolver Resolver
	loader   Loader
	renderer Renderer

	capacity    int
	workers     int
	loadTimeout time.Duration
	onStatus    func(Status)
	metrics     *Metrics
	log         *slog.Logger
}

type Option func(*Pipeline)

// WithQueueCapacity sets how many word clips may be in flight at once.
func WithQueueCapacity(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithRenderWorkers sets how many frames of a word render concurrently.
func WithRenderWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithLoadTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.loadTimeout = d }
}

func WithStatusFunc(fn func(Status)) Option {
	return func(p *Pipeline) { p.onStatus = fn }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func NewPipeline(resolver Resolver, loader Loader, renderer Renderer, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		loader:   loader,
		renderer: renderer,
		capacity: DefaultQueueCapacity,
		workers:  DefaultRenderWorkers,
		log:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run plays words in order into sink and blocks until the last word has been
// rendered, a sink error occurs, or ctx is cancelled. On cancellation the
// returned Summary has Cancelled set and counts the clips that were dropped
// unrendered.
func (p *Pipeline) Run(ctx context.Context, words []string, sink Sink) (Summary, error) {
	q := NewQueue(p.capacity)
	producer := NewPrefetcher(p.resolver, p.loader, p.loadTimeout, p.metrics, p.log)
	consumer := NewStreamer(p.renderer, p.workers, p.onStatus, p.metrics, p.log)

	var sum Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return producer.Run(gctx, words, q)
	})
	g.Go(func() error {
		var err error
		sum, err = consumer.Run(gctx, q, sink)
		return err
	})
	err := g.Wait()

	sum.PeakResident = q.Peak()
	if err != nil {
		sum.Discarded = q.Discard()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			sum.Cancelled = true
		}
		if p.metrics != nil && sum.Discarded > 0 {
			p.metrics.WordsDiscarded.Add(context.WithoutCancel(ctx), int64(sum.Discarded))
		}
	}
	return sum, err
}
