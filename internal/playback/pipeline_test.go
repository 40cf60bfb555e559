package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/varshagowdavg/signbridge/internal/protocol"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeVocab resolves every word it knows to an asset named after the word.
type fakeVocab map[string]int

func (v fakeVocab) Resolve(_ context.Context, word string) (Asset, bool, error) {
	if _, ok := v[word]; !ok {
		return Asset{}, false, nil
	}
	return Asset{Word: word, Path: word}, true, nil
}

// fakeLoader returns v[word] frames, each tagged with the word, after delay(word).
type fakeLoader struct {
	frames map[string]int
	delay  func(word string) time.Duration
	loaded func()
}

func (l *fakeLoader) Load(ctx context.Context, asset Asset) ([]protocol.SignFrame, error) {
	if l.delay != nil {
		select {
		case <-time.After(l.delay(asset.Word)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := l.frames[asset.Word]
	frames := make([]protocol.SignFrame, n)
	for i := range frames {
		frames[i] = protocol.SignFrame{Word: asset.Word, Pose: []protocol.Landmark{{X: float64(i)}}}
	}
	if l.loaded != nil {
		l.loaded()
	}
	return frames, nil
}

type passRenderer struct {
	delay func() time.Duration
	fail  func(protocol.SignFrame) bool
}

func (r passRenderer) Render(_ context.Context, f protocol.SignFrame) (protocol.SignFrame, error) {
	if r.delay != nil {
		time.Sleep(r.delay())
	}
	if r.fail != nil && r.fail(f) {
		return protocol.SignFrame{}, errors.New("render failed")
	}
	return f, nil
}

type recordingSink struct {
	mu   sync.Mutex
	outs []Output
}

func (s *recordingSink) Emit(_ context.Context, out Output) error {
	s.mu.Lock()
	s.outs = append(s.outs, out)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) words() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var words []string
	for _, o := range s.outs {
		if len(words) == 0 || words[len(words)-1] != o.Word {
			words = append(words, o.Word)
		}
	}
	return words
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPipelinePreservesOrderUnderRandomLatency(t *testing.T) {
	words := []string{"w1", "w2", "w3"}
	frames := map[string]int{"w1": 4, "w2": 3, "w3": 5}
	rng := rand.New(rand.NewSource(7))
	var rngMu sync.Mutex

	for trial := 0; trial < 10; trial++ {
		loader := &fakeLoader{frames: frames, delay: func(string) time.Duration {
			rngMu.Lock()
			defer rngMu.Unlock()
			return time.Duration(rng.Intn(15)) * time.Millisecond
		}}
		renderer := passRenderer{delay: func() time.Duration {
			rngMu.Lock()
			defer rngMu.Unlock()
			return time.Duration(rng.Intn(3)) * time.Millisecond
		}}
		p := NewPipeline(fakeVocab{"w1": 1, "w2": 1, "w3": 1}, loader, renderer, newLogger(),
			WithQueueCapacity(3), WithRenderWorkers(4))
		sink := &recordingSink{}
		sum, err := p.Run(context.Background(), words, sink)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if got := sink.words(); !equalStrings(got, words) {
			t.Fatalf("trial %d: expected order %v, got %v", trial, words, got)
		}
		perWord := map[string]int{}
		for _, o := range sink.outs {
			if o.FrameIndex != perWord[o.Word] {
				t.Fatalf("trial %d: frame %d of %s emitted out of order", trial, o.FrameIndex, o.Word)
			}
			perWord[o.Word]++
		}
		if sum.Words != 3 || sum.Frames != 12 || sum.Skipped != 0 {
			t.Fatalf("unexpected summary %+v", sum)
		}
	}
}

func TestPipelineBackpressureBound(t *testing.T) {
	words := []string{"a", "b", "c", "d", "e"}
	frames := map[string]int{"a": 2, "b": 2, "c": 2, "d": 2, "e": 2}
	vocab := fakeVocab{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}

	var resident, maxResident atomic.Int64
	observe := func(delta int64) {
		n := resident.Add(delta)
		for {
			m := maxResident.Load()
			if n <= m || maxResident.CompareAndSwap(m, n) {
				return
			}
		}
	}
	loader := &fakeLoader{
		frames: frames,
		delay:  func(string) time.Duration { return 5 * time.Millisecond },
		loaded: func() { observe(1) },
	}
	slowRenderer := passRenderer{delay: func() time.Duration { return 5 * time.Millisecond }}

	p := NewPipeline(vocab, loader, slowRenderer, newLogger(),
		WithQueueCapacity(2),
		WithStatusFunc(func(st Status) {
			if st.State == protocol.PlaybackStarted || st.State == protocol.PlaybackSkipped {
				observe(-1)
			}
		}))
	sum, err := p.Run(context.Background(), words, &recordingSink{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := maxResident.Load(); got > 2 {
		t.Fatalf("expected at most 2 loaded-but-unconsumed clips, saw %d", got)
	}
	if sum.PeakResident > 2 || sum.PeakResident < 1 {
		t.Fatalf("unexpected queue peak %d", sum.PeakResident)
	}
	if sum.Words != 5 || sum.Frames != 10 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestPipelineSkipsMissingAsset(t *testing.T) {
	var statuses []Status
	var mu sync.Mutex
	p := NewPipeline(fakeVocab{"w1": 1, "w3": 1}, &fakeLoader{frames: map[string]int{"w1": 2, "w3": 2}}, passRenderer{}, newLogger(),
		WithQueueCapacity(1),
		WithStatusFunc(func(st Status) {
			mu.Lock()
			statuses = append(statuses, st)
			mu.Unlock()
		}))
	sink := &recordingSink{}
	done := make(chan struct{})
	var sum Summary
	var err error
	go func() {
		sum, err = p.Run(context.Background(), []string{"w1", "w2", "w3"}, sink)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline stalled on missing asset")
	}
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sink.words(); !equalStrings(got, []string{"w1", "w3"}) {
		t.Fatalf("expected w1 then w3, got %v", got)
	}
	if sum.Skipped != 1 || sum.Words != 3 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	var skipped *Status
	for i := range statuses {
		if statuses[i].State == protocol.PlaybackSkipped {
			skipped = &statuses[i]
		}
	}
	if skipped == nil || skipped.Word != "w2" || skipped.Reason != ErrNoAsset.Error() {
		t.Fatalf("expected skip diagnostic for w2, got %+v", statuses)
	}
}

func TestPipelineFrameErrorSkipsFrameOnly(t *testing.T) {
	renderer := passRenderer{fail: func(f protocol.SignFrame) bool { return f.Pose[0].X == 1 }}
	p := NewPipeline(fakeVocab{"w": 1}, &fakeLoader{frames: map[string]int{"w": 3}}, renderer, newLogger(), WithRenderWorkers(2))
	sink := &recordingSink{}
	sum, err := p.Run(context.Background(), []string{"w"}, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Frames != 2 || sum.FrameErrors != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sink.outs[0].FrameIndex != 0 || sink.outs[1].FrameIndex != 2 {
		t.Fatalf("unexpected frame indices %+v", sink.outs)
	}
}

func TestPipelineCancellation(t *testing.T) {
	words := make([]string, 50)
	vocab := fakeVocab{}
	frames := map[string]int{}
	for i := range words {
		w := string(rune('a'+i%26)) + string(rune('a'+i/26))
		words[i] = w
		vocab[w] = 1
		frames[w] = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	var emitted atomic.Int64
	sink := SinkFunc(func(context.Context, Output) error {
		if emitted.Add(1) == 4 {
			cancel()
		}
		return nil
	})
	p := NewPipeline(vocab, &fakeLoader{frames: frames}, passRenderer{delay: func() time.Duration { return time.Millisecond }}, newLogger(),
		WithQueueCapacity(3))

	done := make(chan struct{})
	var sum Summary
	var err error
	go func() {
		sum, err = p.Run(ctx, words, sink)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}
	if !errors.Is(err, context.Canceled) || !sum.Cancelled {
		t.Fatalf("expected cancellation, got err=%v summary=%+v", err, sum)
	}
	if sum.Words >= len(words) {
		t.Fatalf("expected early stop, consumed %d words", sum.Words)
	}
	if sum.PeakResident > 3 {
		t.Fatalf("queue exceeded capacity: %d", sum.PeakResident)
	}
}

func TestPipelineEmptyWordList(t *testing.T) {
	p := NewPipeline(fakeVocab{}, &fakeLoader{}, passRenderer{}, newLogger())
	sum, err := p.Run(context.Background(), nil, &recordingSink{})
	if err != nil || sum.Words != 0 {
		t.Fatalf("expected empty run, got %+v %v", sum, err)
	}
}

func TestPipelineSinkErrorAborts(t *testing.T) {
	boom := errors.New("sink down")
	p := NewPipeline(fakeVocab{"w": 1, "x": 1}, &fakeLoader{frames: map[string]int{"w": 2, "x": 2}}, passRenderer{}, newLogger())
	sum, err := p.Run(context.Background(), []string{"w", "x"}, SinkFunc(func(context.Context, Output) error { return boom }))
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if sum.Cancelled {
		t.Fatal("sink failure is not a cancellation")
	}
}

func TestPipelineMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	p := NewPipeline(fakeVocab{"a": 1}, &fakeLoader{frames: map[string]int{"a": 2}}, passRenderer{}, newLogger(), WithMetrics(m))
	if _, err := p.Run(context.Background(), []string{"a", "zz"}, &recordingSink{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := map[string]int64{
		"signbridge.playback.words_played":  1,
		"signbridge.playback.words_skipped": 1,
		"signbridge.playback.frames":        2,
	}
	for name, expected := range want {
		if got := counterValue(rm, name); got != expected {
			t.Errorf("%s = %d, want %d", name, got, expected)
		}
	}
}

func counterValue(rm metricdata.ResourceMetrics, name string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				return total
			}
		}
	}
	return 0
}
