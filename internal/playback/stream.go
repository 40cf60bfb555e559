package playback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/varshagowdavg/signbridge/internal/protocol"
	"golang.org/x/sync/errgroup"
)

// Renderer annotates a single frame. An error skips that frame only.
type Renderer interface {
	Render(ctx context.Context, frame protocol.SignFrame) (protocol.SignFrame, error)
}

// Output is one rendered frame handed to the Sink.
type Output struct {
	Word       string
	WordIndex  int
	FrameIndex int
	Frame      protocol.SignFrame
}

// Sink receives rendered frames in playback order.
type Sink interface {
	Emit(ctx context.Context, out Output) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, out Output) error

func (f SinkFunc) Emit(ctx context.Context, out Output) error {
	return f(ctx, out)
}

// Status reports the progress of one word. State is one of the
// protocol.Playback* word states.
type Status struct {
	Word      string
	WordIndex int
	State     string
	Reason    string
	Frames    int
}

// Summary describes a finished or cancelled run.
type Summary struct {
	Words        int  `json:"words"`
	Skipped      int  `json:"skipped"`
	Frames       int  `json:"frames"`
	FrameErrors  int  `json:"frame_errors"`
	Discarded    int  `json:"discarded"`
	PeakResident int  `json:"peak_resident"`
	Cancelled    bool `json:"cancelled"`
}

// Streamer is the consumer side of the pipeline.
type Streamer struct {
	renderer Renderer
	workers  int
	onStatus func(Status)
	metrics  *Metrics
	log      *slog.Logger
}

func NewStreamer(renderer Renderer, workers int, onStatus func(Status), metrics *Metrics, logger *slog.Logger) *Streamer {
	if workers <= 0 {
		workers = 1
	}
	return &Streamer{
		renderer: renderer,
		workers:  workers,
		onStatus: onStatus,
		metrics:  metrics,
		log:      logger.With(slog.String("component", "playback.stream")),
	}
}

// Run dequeues until the sentinel, rendering each word's frames in order and
// emitting them to sink. Words without frames are skipped.
func (s *Streamer) Run(ctx context.Context, q *Queue, sink Sink) (Summary, error) {
	var sum Summary
	for {
		item, ok, err := q.Get(ctx)
		if err != nil {
			return sum, err
		}
		if !ok {
			return sum, nil
		}
		sum.Words++

		if len(item.Frames) == 0 {
			sum.Skipped++
			if s.metrics != nil {
				s.metrics.WordsSkipped.Add(ctx, 1)
			}
			s.log.Warn("word skipped", slog.String("word", item.Word), slog.Int("index", item.Index), slog.String("reason", item.Reason))
			s.report(Status{Word: item.Word, WordIndex: item.Index, State: protocol.PlaybackSkipped, Reason: item.Reason})
			continue
		}

		s.report(Status{Word: item.Word, WordIndex: item.Index, State: protocol.PlaybackStarted, Frames: len(item.Frames)})
		rendered, failed, err := s.renderWord(ctx, item, sink)
		sum.Frames += rendered
		sum.FrameErrors += failed
		if err != nil {
			return sum, err
		}
		if s.metrics != nil {
			s.metrics.WordsPlayed.Add(ctx, 1)
		}
		s.report(Status{Word: item.Word, WordIndex: item.Index, State: protocol.PlaybackCompleted, Frames: rendered})
	}
}

type renderResult struct {
	frame protocol.SignFrame
	err   error
}

// renderWord fans frames out to at most s.workers renders and emits the
// results in submission order.
func (s *Streamer) renderWord(ctx context.Context, item Item, sink Sink) (rendered, failed int, err error) {
	wctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(wctx)
	g.SetLimit(s.workers)
	results := make(chan chan renderResult, s.workers)

	go func() {
		defer close(results)
		for _, frame := range item.Frames {
			if gctx.Err() != nil {
				return
			}
			ch := make(chan renderResult, 1)
			results <- ch
			g.Go(func() error {
				out, err := s.renderer.Render(gctx, frame)
				ch <- renderResult{frame: out, err: err}
				return nil
			})
		}
	}()

	index := 0
	for ch := range results {
		if err != nil {
			continue
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			continue
		case r := <-ch:
			frameIndex := index
			index++
			if r.err != nil {
				failed++
				if s.metrics != nil {
					s.metrics.FrameErrors.Add(ctx, 1)
				}
				s.log.Debug("frame skipped", slog.String("word", item.Word), slog.Int("frame", frameIndex), slogError(r.err))
				continue
			}
			out := Output{Word: item.Word, WordIndex: item.Index, FrameIndex: frameIndex, Frame: r.frame}
			if emitErr := sink.Emit(ctx, out); emitErr != nil {
				err = fmt.Errorf("emit frame %d of %q: %w", frameIndex, item.Word, emitErr)
				stop()
				continue
			}
			rendered++
			if s.metrics != nil {
				s.metrics.Frames.Add(ctx, 1)
			}
		}
	}
	_ = g.Wait()
	return rendered, failed, err
}

func (s *Streamer) report(st Status) {
	if s.onStatus != nil {
		s.onStatus(st)
	}
}
