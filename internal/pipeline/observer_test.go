package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestAsyncStageObserver_ForwardsAndDrains(t *testing.T) {
	rec := &recordingObserver{}
	obs := NewAsyncStageObserver(rec, 8)

	obs.ObserveStage(StageAnalyze, time.Millisecond, nil)
	obs.ObserveStage(StageWriteRecord, time.Millisecond, errors.New("db"))
	obs.Close()

	assert.Equal(t, []Stage{StageAnalyze, StageWriteRecord}, rec.stages)
	assert.Equal(t, []Stage{StageWriteRecord}, rec.failed)
	assert.Zero(t, obs.Dropped())
}

func TestAsyncStageObserver_DropsAfterClose(t *testing.T) {
	obs := NewAsyncStageObserver(nil, 1)
	obs.Close()
	obs.Close()

	obs.ObserveStage(StageFormat, time.Millisecond, nil)
	assert.Equal(t, uint64(1), obs.Dropped())
}

func TestStageMetrics_Observe(t *testing.T) {
	m, err := NewStageMetrics(noop.NewMeterProvider().Meter("test"), zerolog.Nop())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.ObserveStage(StageAnalyze, 250*time.Millisecond, nil)
		m.ObserveStage(StageMatchRules, time.Second, errors.New("embed"))
	})
}
