package playback

import (
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/varshagowdavg/signbridge/playback"

// Metrics holds the playback instruments.
type Metrics struct {
	Runs           metric.Int64Counter
	ActiveRuns     metric.Int64UpDownCounter
	WordsPlayed    metric.Int64Counter
	WordsSkipped   metric.Int64Counter
	WordsDiscarded metric.Int64Counter
	Frames         metric.Int64Counter
	FrameErrors    metric.Int64Counter
	LoadErrors     metric.Int64Counter
	LoadDuration   metric.Float64Histogram
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Runs, err = m.Int64Counter("signbridge.playback.runs",
		metric.WithDescription("Playback runs by final state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("signbridge.playback.active_runs",
		metric.WithDescription("Playback runs in progress."),
	); err != nil {
		return nil, err
	}
	if met.WordsPlayed, err = m.Int64Counter("signbridge.playback.words_played",
		metric.WithDescription("Words whose frames were streamed."),
	); err != nil {
		return nil, err
	}
	if met.WordsSkipped, err = m.Int64Counter("signbridge.playback.words_skipped",
		metric.WithDescription("Words skipped for a missing or unreadable asset."),
	); err != nil {
		return nil, err
	}
	if met.WordsDiscarded, err = m.Int64Counter("signbridge.playback.words_discarded",
		metric.WithDescription("Buffered words dropped unrendered on cancellation."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("signbridge.playback.frames",
		metric.WithDescription("Frames rendered and emitted."),
	); err != nil {
		return nil, err
	}
	if met.FrameErrors, err = m.Int64Counter("signbridge.playback.frame_errors",
		metric.WithDescription("Frames skipped because rendering failed."),
	); err != nil {
		return nil, err
	}
	if met.LoadErrors, err = m.Int64Counter("signbridge.playback.load_errors",
		metric.WithDescription("Asset loads that failed."),
	); err != nil {
		return nil, err
	}
	if met.LoadDuration, err = m.Float64Histogram("signbridge.playback.load.duration",
		metric.WithDescription("Time to resolve and load one word clip."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}
