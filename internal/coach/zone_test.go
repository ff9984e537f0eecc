package coach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testZone() HeartRateZone {
	return HeartRateZone{MinBPM: 150, MaxBPM: 170, TargetBPM: 160}
}

func TestZoneClassificationBoundaries(t *testing.T) {
	zone := testZone()

	cases := []struct {
		bpm    int
		status ZoneStatus
		delta  int
	}{
		{149, ZoneBelow, -1},
		{150, ZoneIn, 0},
		{160, ZoneIn, 0},
		{170, ZoneIn, 0},
		{171, ZoneAbove, 1},
		{185, ZoneAbove, 15},
		{130, ZoneBelow, -20},
	}
	for _, tc := range cases {
		got := classify(zone, tc.bpm)
		assert.Equal(t, tc.status, got.Status, "bpm %d", tc.bpm)
		assert.Equal(t, tc.delta, got.Delta, "bpm %d", tc.bpm)
	}
}

func TestZoneClassificationString(t *testing.T) {
	assert.Equal(t, "in zone", ZoneClassification{Status: ZoneIn}.String())
	assert.Equal(t, "above zone (+5)", ZoneClassification{Status: ZoneAbove, Delta: 5}.String())
	assert.Equal(t, "below zone (-8)", ZoneClassification{Status: ZoneBelow, Delta: -8}.String())
}

func TestZoneTrackerAccumulatesInZoneTime(t *testing.T) {
	zt := NewZoneTracker(testLogger())
	zt.SetTarget(testZone())
	start := time.Now()

	// First observation establishes the baseline, accrues nothing
	zt.Observe(160, start)
	assert.Equal(t, time.Duration(0), zt.TimeInZone())

	// Previous observation was in zone: the gap counts
	zt.Observe(165, start.Add(2*time.Second))
	assert.Equal(t, 2*time.Second, zt.TimeInZone())

	// Still accrues up to the moment the reading left the zone
	zt.Observe(180, start.Add(5*time.Second))
	assert.Equal(t, 5*time.Second, zt.TimeInZone())

	// Previous observation was above zone: the gap does not count
	zt.Observe(166, start.Add(8*time.Second))
	assert.Equal(t, 5*time.Second, zt.TimeInZone())

	zt.Observe(160, start.Add(9*time.Second))
	assert.Equal(t, 6*time.Second, zt.TimeInZone())
}

func TestZoneTrackerTargetChangeResets(t *testing.T) {
	zt := NewZoneTracker(testLogger())
	zt.SetTarget(testZone())
	start := time.Now()

	zt.Observe(160, start)
	zt.Observe(160, start.Add(3*time.Second))
	assert.Equal(t, 3*time.Second, zt.TimeInZone())

	zt.SetTarget(HeartRateZone{MinBPM: 110, MaxBPM: 130})
	assert.Equal(t, time.Duration(0), zt.TimeInZone())

	// The old baseline must not leak into the new interval
	zt.Observe(120, start.Add(10*time.Second))
	assert.Equal(t, time.Duration(0), zt.TimeInZone())
	zt.Observe(120, start.Add(12*time.Second))
	assert.Equal(t, 2*time.Second, zt.TimeInZone())
}

func TestZoneTrackerNoTargetIsSilent(t *testing.T) {
	zt := NewZoneTracker(testLogger())

	fired := 0
	zt.Listen(func(ZoneClassification) { fired++ })

	zt.Observe(160, time.Now())
	assert.Equal(t, 0, fired)
	assert.Equal(t, time.Duration(0), zt.TimeInZone())
}

func TestZoneTrackerPublishesClassifications(t *testing.T) {
	zt := NewZoneTracker(testLogger())
	zt.SetTarget(testZone())

	var got []ZoneClassification
	zt.Listen(func(c ZoneClassification) { got = append(got, c) })

	now := time.Now()
	zt.Observe(160, now)
	zt.Observe(175, now.Add(time.Second))

	assert.Equal(t, []ZoneClassification{
		{Status: ZoneIn},
		{Status: ZoneAbove, Delta: 5},
	}, got)
}
