package coach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonbondani/interval-pro-sub001/internal/config"
)

func testFusionConfig() config.Fusion {
	return config.Fusion{
		PeripheralStaleness: 5 * time.Second,
		MinCadenceSPM:       60,
		MaxCadenceSPM:       220,
		PaceMinInterval:     5 * time.Second,
		PaceMinDistance:     5.0,
		PaceFloor:           120,
		PaceCeiling:         900,
	}
}

func TestFusionCadenceRangeBoundaries(t *testing.T) {
	f := NewDataFusion(testFusionConfig(), testLogger())
	now := time.Now()

	f.ObserveCadence(SampleSourcePeripheral, 59, now)
	assert.Equal(t, 0, f.Current().CadenceSPM)

	f.ObserveCadence(SampleSourcePeripheral, 60, now)
	assert.Equal(t, 60, f.Current().CadenceSPM)

	f.ObserveCadence(SampleSourcePeripheral, 220, now)
	assert.Equal(t, 220, f.Current().CadenceSPM)

	f.ObserveCadence(SampleSourcePeripheral, 221, now)
	assert.Equal(t, 220, f.Current().CadenceSPM, "out-of-range value must be dropped, not clamped")
}

func TestFusionPaceThresholds(t *testing.T) {
	f := NewDataFusion(testFusionConfig(), testLogger())
	start := time.Now()

	// First report only anchors
	f.ObserveDistance(100, start)
	assert.Equal(t, 0.0, f.Current().PaceSecPerKm)

	// Enough time, not enough distance: no recompute, anchor kept
	f.ObserveDistance(104, start.Add(6*time.Second))
	assert.Equal(t, 0.0, f.Current().PaceSecPerKm)

	// Enough distance, not enough time since the anchor
	f.ObserveDistance(106, start.Add(4*time.Second))
	assert.Equal(t, 0.0, f.Current().PaceSecPerKm)

	// Both thresholds cleared: 30m in 10s is 333.3 sec/km
	f.ObserveDistance(130, start.Add(10*time.Second))
	assert.InDelta(t, 1000.0/3.0, f.Current().PaceSecPerKm, 0.1)
}

func TestFusionPaceRangeGateKeepsPrevious(t *testing.T) {
	f := NewDataFusion(testFusionConfig(), testLogger())
	start := time.Now()

	f.ObserveDistance(0, start)
	f.ObserveDistance(30, start.Add(10*time.Second))
	previous := f.Current().PaceSecPerKm
	assert.Greater(t, previous, 0.0)

	// Sprinting faster than 120 sec/km is implausible; the previous pace
	// survives but the anchor still moves forward.
	f.ObserveDistance(130, start.Add(20*time.Second))
	assert.Equal(t, previous, f.Current().PaceSecPerKm)

	// The next window computes against the new anchor, not the old one
	f.ObserveDistance(160, start.Add(30*time.Second))
	assert.InDelta(t, 1000.0/3.0, f.Current().PaceSecPerKm, 0.1)
}

func TestFusionDistanceAlwaysPublishes(t *testing.T) {
	f := NewDataFusion(testFusionConfig(), testLogger())

	var got []Reading
	f.Listen(func(r Reading) { got = append(got, r) })

	start := time.Now()
	f.ObserveDistance(10, start)
	f.ObserveDistance(12, start.Add(time.Second))

	assert.Len(t, got, 2)
	assert.Equal(t, 12.0, got[1].DistanceMeters)
}

func TestFusionPeripheralWinsWhileFresh(t *testing.T) {
	f := NewDataFusion(testFusionConfig(), testLogger())
	start := time.Now()

	f.ObserveHeartRate(SampleSourceHealth, 140, start)
	f.ObserveHeartRate(SampleSourcePeripheral, 150, start.Add(time.Second))

	r := f.buildReading(start.Add(2 * time.Second))
	assert.Equal(t, 150, r.BPM)
	assert.Equal(t, SampleSourcePeripheral, r.Source)
}

func TestFusionFallsBackWhenPeripheralStale(t *testing.T) {
	f := NewDataFusion(testFusionConfig(), testLogger())
	start := time.Now()

	f.ObserveHeartRate(SampleSourcePeripheral, 150, start)
	f.ObserveHeartRate(SampleSourceHealth, 138, start.Add(2*time.Second))

	// Within the staleness window the peripheral still wins
	r := f.buildReading(start.Add(4 * time.Second))
	assert.Equal(t, 150, r.BPM)

	// Past it the freshest non-peripheral source takes over
	r = f.buildReading(start.Add(6 * time.Second))
	assert.Equal(t, 138, r.BPM)
	assert.Equal(t, SampleSourceHealth, r.Source)

	// Peripheral reconnects and wins again
	f.ObserveHeartRate(SampleSourcePeripheral, 152, start.Add(7*time.Second))
	r = f.buildReading(start.Add(8 * time.Second))
	assert.Equal(t, 152, r.BPM)
	assert.Equal(t, SampleSourcePeripheral, r.Source)
}

func TestFusionStalePeripheralBeatsNothing(t *testing.T) {
	f := NewDataFusion(testFusionConfig(), testLogger())
	start := time.Now()

	f.ObserveHeartRate(SampleSourcePeripheral, 150, start)

	r := f.buildReading(start.Add(time.Minute))
	assert.Equal(t, 150, r.BPM)
	assert.Equal(t, SampleSourcePeripheral, r.Source)
}

func TestFusionNonPositiveHeartRateDropped(t *testing.T) {
	f := NewDataFusion(testFusionConfig(), testLogger())

	fired := 0
	f.Listen(func(Reading) { fired++ })

	f.ObserveHeartRate(SampleSourcePeripheral, 0, time.Now())
	f.ObserveHeartRate(SampleSourcePeripheral, -3, time.Now())

	assert.Equal(t, 0, fired)
	assert.Equal(t, 0, f.Current().BPM)
}
