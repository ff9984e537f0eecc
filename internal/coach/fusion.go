package coach

import (
	"log"
	"sync"
	"time"

	"github.com/jonbondani/interval-pro-sub001/internal/config"
	"github.com/jonbondani/interval-pro-sub001/internal/events"
)

// Reading is the fused view of the athlete's current telemetry. Exactly one
// source wins per channel at any moment.
type Reading struct {
	BPM            int
	Source         SampleSource
	CadenceSPM     int // 0 = not yet known
	CadenceSource  SampleSource
	PaceSecPerKm   float64 // 0 = not yet known
	DistanceMeters float64
	At             time.Time
}

type hrObservation struct {
	bpm int
	at  time.Time
}

type cadenceObservation struct {
	spm int
	at  time.Time
}

// DataFusion merges heart-rate, cadence, and distance telemetry from the
// peripheral and the phone-native sources into one current-reading stream.
// The peripheral wins while fresh; pace is derived from distance deltas. All
// methods are synchronous; publication happens on the caller's goroutine.
type DataFusion struct {
	logger *log.Logger
	cfg    config.Fusion

	mu            sync.Mutex
	hrBySource    map[SampleSource]hrObservation
	cadBySource   map[SampleSource]cadenceObservation
	totalDistance float64

	pace           float64
	paceAnchorAt   time.Time
	paceAnchorDst  float64
	havePaceAnchor bool

	event *events.CallbackEvent[Reading]
}

func NewDataFusion(cfg config.Fusion, logger *log.Logger) *DataFusion {
	if logger == nil {
		panic("DataFusion: logger cannot be nil")
	}
	return &DataFusion{
		logger:      logger,
		cfg:         cfg,
		hrBySource:  make(map[SampleSource]hrObservation),
		cadBySource: make(map[SampleSource]cadenceObservation),
		event:       events.NewCallbackEvent[Reading](true),
	}
}

// Listen registers a callback for fused readings. The latest reading is
// delivered immediately when one exists.
// Returns a deregistration function that can be called to remove the listener
func (f *DataFusion) Listen(cb func(Reading)) func() {
	return f.event.Listen(cb)
}

// Current returns the fused reading as of now without publishing.
func (f *DataFusion) Current() Reading {
	return f.buildReading(time.Now())
}

// buildReading resolves the fused reading as of an arbitrary instant.
func (f *DataFusion) buildReading(at time.Time) Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buildReadingLocked(at)
}

// ObserveHeartRate records one heart-rate value from a source and publishes
// the resulting fused reading.
func (f *DataFusion) ObserveHeartRate(source SampleSource, bpm int, at time.Time) {
	if bpm <= 0 {
		return
	}
	f.mu.Lock()
	f.hrBySource[source] = hrObservation{bpm: bpm, at: at}
	reading := f.buildReadingLocked(at)
	f.mu.Unlock()

	f.event.Notify(reading)
}

// ObserveCadence records one cadence value. Values outside the plausible
// human range are dropped outright, not clamped.
func (f *DataFusion) ObserveCadence(source SampleSource, spm int, at time.Time) {
	if spm < f.cfg.MinCadenceSPM || spm > f.cfg.MaxCadenceSPM {
		f.logger.Printf("DataFusion: dropping implausible cadence %d SPM from %s", spm, source)
		return
	}
	f.mu.Lock()
	f.cadBySource[source] = cadenceObservation{spm: spm, at: at}
	reading := f.buildReadingLocked(at)
	f.mu.Unlock()

	f.event.Notify(reading)
}

// ObserveDistance records the cumulative distance and recomputes pace when
// enough time and ground have passed since the last computation. Out-of-range
// results leave the previous pace in place.
func (f *DataFusion) ObserveDistance(totalMeters float64, at time.Time) {
	f.mu.Lock()
	f.totalDistance = totalMeters

	if !f.havePaceAnchor {
		f.paceAnchorAt = at
		f.paceAnchorDst = totalMeters
		f.havePaceAnchor = true
		reading := f.buildReadingLocked(at)
		f.mu.Unlock()
		f.event.Notify(reading)
		return
	}

	deltaT := at.Sub(f.paceAnchorAt)
	deltaD := totalMeters - f.paceAnchorDst
	if deltaT >= f.cfg.PaceMinInterval && deltaD >= f.cfg.PaceMinDistance {
		pace := deltaT.Seconds() / (deltaD / 1000.0)
		if pace >= f.cfg.PaceFloor && pace <= f.cfg.PaceCeiling {
			f.pace = pace
		} else {
			f.logger.Printf("DataFusion: pace %.0f sec/km out of range, keeping previous", pace)
		}
		f.paceAnchorAt = at
		f.paceAnchorDst = totalMeters
	}

	reading := f.buildReadingLocked(at)
	f.mu.Unlock()
	f.event.Notify(reading)
}

// buildReadingLocked resolves the winning source per channel.
// MUST be called with mu held.
func (f *DataFusion) buildReadingLocked(at time.Time) Reading {
	reading := Reading{
		PaceSecPerKm:   f.pace,
		DistanceMeters: f.totalDistance,
		At:             at,
	}

	if hr, source, ok := winner(f.hrBySource, at, f.cfg.PeripheralStaleness); ok {
		reading.BPM = hr.bpm
		reading.Source = source
	}
	if cad, source, ok := winner(f.cadBySource, at, f.cfg.PeripheralStaleness); ok {
		reading.CadenceSPM = cad.spm
		reading.CadenceSource = source
	}
	return reading
}

type timestamped interface {
	when() time.Time
}

func (o hrObservation) when() time.Time      { return o.at }
func (o cadenceObservation) when() time.Time { return o.at }

// winner picks the peripheral while its last value is fresh, otherwise the
// most recent of the remaining sources.
func winner[T timestamped](bySource map[SampleSource]T, at time.Time, staleness time.Duration) (T, SampleSource, bool) {
	if obs, ok := bySource[SampleSourcePeripheral]; ok && at.Sub(obs.when()) <= staleness {
		return obs, SampleSourcePeripheral, true
	}

	var best T
	var bestSource SampleSource
	found := false
	for source, obs := range bySource {
		if source == SampleSourcePeripheral {
			// Stale peripheral values never win, even with no alternative
			// fresher than them.
			continue
		}
		if !found || obs.when().After(best.when()) {
			best = obs
			bestSource = source
			found = true
		}
	}
	if found {
		return best, bestSource, true
	}

	// Nothing but a stale peripheral: better an old value than none.
	if obs, ok := bySource[SampleSourcePeripheral]; ok {
		return obs, SampleSourcePeripheral, true
	}
	var zero T
	return zero, "", false
}
