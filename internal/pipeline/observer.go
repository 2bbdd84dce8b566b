package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type StageObserver interface {
	ObserveStage(stage Stage, duration time.Duration, err error)
}

// StageMetrics records stage latency and failures as OpenTelemetry
// instruments and logs each observation at debug level.
type StageMetrics struct {
	log      zerolog.Logger
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

func NewStageMetrics(meter metric.Meter, log zerolog.Logger) (*StageMetrics, error) {
	if meter == nil {
		meter = otel.Meter("thirdeye/pipeline")
	}
	duration, err := meter.Float64Histogram("pipeline.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("pipeline.stage.failures",
		metric.WithDescription("Pipeline stages that returned an error"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		return nil, err
	}
	return &StageMetrics{
		log:      log.With().Str("component", "stage_metrics").Logger(),
		duration: duration,
		failures: failures,
	}, nil
}

func (m *StageMetrics) ObserveStage(stage Stage, duration time.Duration, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("stage", string(stage)))
	m.duration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.failures.Add(ctx, 1, attrs)
	}
	m.log.Debug().
		Str("stage", string(stage)).
		Float64("duration_ms", float64(duration.Microseconds())/1000.0).
		Bool("failed", err != nil).
		Msg("stage observed")
}

// AsyncStageObserver moves observations off the run goroutine. When the
// buffer is full the observation is dropped and counted.
type AsyncStageObserver struct {
	next    StageObserver
	events  chan stageObservation
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type stageObservation struct {
	stage    Stage
	duration time.Duration
	err      error
}

func NewAsyncStageObserver(next StageObserver, buffer int) *AsyncStageObserver {
	if buffer <= 0 {
		buffer = 1
	}
	o := &AsyncStageObserver{
		next:   next,
		events: make(chan stageObservation, buffer),
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for ev := range o.events {
			if o.next != nil {
				o.next.ObserveStage(ev.stage, ev.duration, ev.err)
			}
		}
	}()
	return o
}

func (o *AsyncStageObserver) ObserveStage(stage Stage, duration time.Duration, err error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.dropped.Add(1)
		return
	}
	select {
	case o.events <- stageObservation{stage: stage, duration: duration, err: err}:
	default:
		o.dropped.Add(1)
	}
}

func (o *AsyncStageObserver) Dropped() uint64 {
	return o.dropped.Load()
}

// Close drains pending observations and stops the worker.
func (o *AsyncStageObserver) Close() {
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.events)
		o.mu.Unlock()
		o.wg.Wait()
	})
}
