package coach

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonbondani/interval-pro-sub001/internal/events"
)

// ZoneStatus classifies a reading against the target zone.
type ZoneStatus int

const (
	ZoneIn ZoneStatus = iota
	ZoneAbove
	ZoneBelow
)

func (s ZoneStatus) String() string {
	switch s {
	case ZoneIn:
		return "in zone"
	case ZoneAbove:
		return "above zone"
	case ZoneBelow:
		return "below zone"
	default:
		return "unknown"
	}
}

// ZoneClassification is one classified observation. Delta is the signed BPM
// distance from the nearest zone boundary, 0 when in zone.
type ZoneClassification struct {
	Status ZoneStatus
	Delta  int
}

func (c ZoneClassification) String() string {
	if c.Status == ZoneIn {
		return c.Status.String()
	}
	return fmt.Sprintf("%s (%+d)", c.Status, c.Delta)
}

// ZoneTracker classifies fused readings against the current target zone and
// accumulates wall-clock time spent in zone. Changing the target resets the
// accumulator so each interval's time-in-zone stands alone.
type ZoneTracker struct {
	logger *log.Logger

	mu         sync.Mutex
	target     HeartRateZone
	hasTarget  bool
	timeInZone time.Duration
	lastAt     time.Time
	lastInZone bool
	haveLast   bool

	event *events.CallbackEvent[ZoneClassification]
}

func NewZoneTracker(logger *log.Logger) *ZoneTracker {
	if logger == nil {
		panic("ZoneTracker: logger cannot be nil")
	}
	return &ZoneTracker{
		logger: logger,
		event:  events.NewCallbackEvent[ZoneClassification](true),
	}
}

// Listen registers a callback for classifications.
// Returns a deregistration function that can be called to remove the listener
func (zt *ZoneTracker) Listen(cb func(ZoneClassification)) func() {
	return zt.event.Listen(cb)
}

// SetTarget switches the target zone and resets the in-zone accumulator.
func (zt *ZoneTracker) SetTarget(zone HeartRateZone) {
	zt.mu.Lock()
	zt.target = zone
	zt.hasTarget = true
	zt.timeInZone = 0
	zt.haveLast = false
	zt.lastInZone = false
	zt.mu.Unlock()
	zt.logger.Printf("ZoneTracker: target %d-%d BPM", zone.MinBPM, zone.MaxBPM)
}

// Target returns the current target zone.
func (zt *ZoneTracker) Target() (HeartRateZone, bool) {
	zt.mu.Lock()
	defer zt.mu.Unlock()
	return zt.target, zt.hasTarget
}

// Observe classifies one reading and accrues in-zone time since the previous
// observation. Publishes and returns the classification.
func (zt *ZoneTracker) Observe(bpm int, at time.Time) ZoneClassification {
	zt.mu.Lock()
	if !zt.hasTarget {
		zt.mu.Unlock()
		return ZoneClassification{}
	}

	// Time between observations counts as in-zone if the previous
	// observation was in-zone.
	if zt.haveLast && zt.lastInZone && at.After(zt.lastAt) {
		zt.timeInZone += at.Sub(zt.lastAt)
	}

	classification := classify(zt.target, bpm)
	zt.lastAt = at
	zt.lastInZone = classification.Status == ZoneIn
	zt.haveLast = true
	zt.mu.Unlock()

	zt.event.Notify(classification)
	return classification
}

// TimeInZone returns the accumulated in-zone time for the current target.
func (zt *ZoneTracker) TimeInZone() time.Duration {
	zt.mu.Lock()
	defer zt.mu.Unlock()
	return zt.timeInZone
}

func classify(zone HeartRateZone, bpm int) ZoneClassification {
	switch {
	case bpm > zone.MaxBPM:
		return ZoneClassification{Status: ZoneAbove, Delta: bpm - zone.MaxBPM}
	case bpm < zone.MinBPM:
		return ZoneClassification{Status: ZoneBelow, Delta: bpm - zone.MinBPM}
	default:
		return ZoneClassification{Status: ZoneIn}
	}
}
