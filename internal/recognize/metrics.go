package recognize

import (
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/varshagowdavg/signbridge/recognize"

// Metrics holds the recognition instruments.
type Metrics struct {
	Frames           metric.Int64Counter
	ClassifierErrors metric.Int64Counter
	ClassifyDuration metric.Float64Histogram
	Symbols          metric.Int64Counter
	// Words counts closed words. Use with attribute.String("method", ...).
	Words          metric.Int64Counter
	IdleClears     metric.Int64Counter
	ActiveSessions metric.Int64UpDownCounter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("signbridge.recognition.frames",
		metric.WithDescription("Gesture frames processed."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierErrors, err = m.Int64Counter("signbridge.recognition.classifier_errors",
		metric.WithDescription("Frames skipped because classification failed."),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("signbridge.recognition.classify.duration",
		metric.WithDescription("Latency of frame classification."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Symbols, err = m.Int64Counter("signbridge.recognition.symbols",
		metric.WithDescription("Stable symbols emitted."),
	); err != nil {
		return nil, err
	}
	if met.Words, err = m.Int64Counter("signbridge.recognition.words",
		metric.WithDescription("Words closed by space or inactivity, by correction method."),
	); err != nil {
		return nil, err
	}
	if met.IdleClears, err = m.Int64Counter("signbridge.recognition.idle_clears",
		metric.WithDescription("Buffers cleared after inactivity."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("signbridge.recognition.active_sessions",
		metric.WithDescription("Recognition sessions currently held in memory."),
	); err != nil {
		return nil, err
	}
	return met, nil
}
