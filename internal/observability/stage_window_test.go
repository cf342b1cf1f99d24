package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	w.Observe(StageModelComplete, 500)
	w.Observe(StageModelComplete, 700)
	w.Observe(StageModelComplete, 900)
	w.ObserveIndicator("auto_ended")
	w.ObserveIndicator("auto_ended")

	snap := w.Snapshot()
	require.Equal(t, 8, snap.WindowSize)
	require.Len(t, snap.Stages, 1)

	s := snap.Stages[0]
	assert.Equal(t, StageModelComplete, s.Stage)
	assert.Equal(t, 3, s.Samples)
	assert.Equal(t, 900.0, s.LastMS)
	assert.Equal(t, 700.0, s.P50MS)
	assert.Greater(t, s.P95MS, 700.0)
	assert.LessOrEqual(t, s.P95MS, 900.0)
	assert.Equal(t, 6000.0, s.TargetP95MS)

	require.Len(t, snap.Indicators, 1)
	assert.Equal(t, Indicator{Name: "auto_ended", Count: 2}, snap.Indicators[0])
}

func TestStageWindowWrapsRing(t *testing.T) {
	w := newTurnStageWindow(2)
	w.Observe(StageStoreLoad, 1)
	w.Observe(StageStoreLoad, 2)
	w.Observe(StageStoreLoad, 3)

	snap := w.Snapshot()
	require.Len(t, snap.Stages, 1)
	assert.Equal(t, 2, snap.Stages[0].Samples)
	assert.Equal(t, 2.5, snap.Stages[0].AvgMS)
	assert.Equal(t, 3.0, snap.Stages[0].LastMS)
}

func TestStageWindowIgnoresInvalidSamples(t *testing.T) {
	w := newTurnStageWindow(4)
	w.Observe("", 10)
	w.Observe(StageStoreSave, -1)
	w.ObserveIndicator("  ")

	snap := w.Snapshot()
	assert.Empty(t, snap.Stages)
	assert.Empty(t, snap.Indicators)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.SessionEvent("created")
	m.SessionStarted()
	m.ObserveStage(StageStoreLoad, time.Millisecond)
	snap := m.SnapshotStages()
	assert.Empty(t, snap.Stages)
	assert.NotNil(t, m.Handler())
}

func TestMetricsObserveStage(t *testing.T) {
	m := NewMetricsWith("test_stage", prometheus.NewRegistry())
	m.ObserveStage(StageStoreSave, 1500*time.Microsecond)

	snap := m.SnapshotStages()
	require.Len(t, snap.Stages, 1)
	assert.Equal(t, 1.5, snap.Stages[0].LastMS)
}
