package coach

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonbondani/interval-pro-sub001/internal/config"
	"github.com/jonbondani/interval-pro-sub001/internal/go_func_utils"
)

// CoachingKind is the primary instruction variant.
type CoachingKind int

const (
	CoachMaintainPace CoachingKind = iota
	CoachRecordPace
	CoachSpeedUpCadence
	CoachSlowDownCadence
	CoachSpeedUpPace
	CoachSlowDownPace
)

func (k CoachingKind) String() string {
	switch k {
	case CoachMaintainPace:
		return "maintain pace"
	case CoachRecordPace:
		return "record pace"
	case CoachSpeedUpCadence:
		return "speed up cadence"
	case CoachSlowDownCadence:
		return "slow down cadence"
	case CoachSpeedUpPace:
		return "speed up pace"
	case CoachSlowDownPace:
		return "slow down pace"
	default:
		return "unknown"
	}
}

// CoachingStatus is one instruction with the signed magnitude of the
// deviation that triggered it.
type CoachingStatus struct {
	Kind  CoachingKind
	Delta float64
}

func (s CoachingStatus) String() string {
	if s.Delta == 0 {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s (%+.0f)", s.Kind, s.Delta)
}

// AdvisorInput is everything the decision depends on.
type AdvisorInput struct {
	PhaseActive  bool
	Zone         HeartRateZone
	CadenceSPM   int     // 0 = unknown
	PaceSecPerKm float64 // 0 = unknown
	BestPace     float64 // personal best for this block, 0 = none
}

// Advise is the pure coaching decision: given the current state, what single
// instruction applies. Returns false when there is nothing to say. Priority:
// a new personal best beats everything, cadence correction beats pace
// correction, and holding steady is the default.
func Advise(in AdvisorInput) (CoachingStatus, bool) {
	if !in.PhaseActive {
		return CoachingStatus{}, false
	}

	if in.PaceSecPerKm > 0 && in.BestPace > 0 && in.PaceSecPerKm < in.BestPace {
		return CoachingStatus{Kind: CoachRecordPace, Delta: in.PaceSecPerKm - in.BestPace}, true
	}

	if in.Zone.HasCadenceTarget() && in.CadenceSPM > 0 {
		if in.CadenceSPM < in.Zone.MinCadence {
			return CoachingStatus{Kind: CoachSpeedUpCadence, Delta: float64(in.CadenceSPM - in.Zone.MinCadence)}, true
		}
		if in.CadenceSPM > in.Zone.MaxCadence {
			return CoachingStatus{Kind: CoachSlowDownCadence, Delta: float64(in.CadenceSPM - in.Zone.MaxCadence)}, true
		}
	}

	if in.Zone.HasPaceTarget() && in.PaceSecPerKm > 0 {
		deviation := in.PaceSecPerKm - in.Zone.TargetPace
		if deviation > in.Zone.PaceTolerance {
			// Pace number too high means the athlete is too slow
			return CoachingStatus{Kind: CoachSpeedUpPace, Delta: deviation}, true
		}
		if deviation < -in.Zone.PaceTolerance {
			return CoachingStatus{Kind: CoachSlowDownPace, Delta: deviation}, true
		}
	}

	return CoachingStatus{Kind: CoachMaintainPace}, true
}

// Announcer rate-limits coaching speech and serializes delivery through the
// audio sink, wrapping each announcement in duck / restore. At most one
// announcement is outstanding; newer ones are dropped while busy.
type Announcer struct {
	logger *log.Logger
	sink   AudioSink
	ducker AudioDucker
	cfg    config.Coach

	mu           sync.Mutex
	lastAnnounce time.Time
	lastMaintain time.Time
	now          func() time.Time

	work         chan func()
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

func NewAnnouncer(sink AudioSink, ducker AudioDucker, cfg config.Coach, logger *log.Logger) *Announcer {
	if sink == nil {
		panic("Announcer: sink cannot be nil")
	}
	if ducker == nil {
		panic("Announcer: ducker cannot be nil")
	}
	if logger == nil {
		panic("Announcer: logger cannot be nil")
	}

	a := &Announcer{
		logger:   logger,
		sink:     sink,
		ducker:   ducker,
		cfg:      cfg,
		now:      time.Now,
		work:     make(chan func(), 1),
		doneChan: make(chan struct{}),
	}

	a.wg.Add(1)
	go_func_utils.SafeGo(logger, func() { a.runAnnounceLoop() })

	return a
}

// Submit applies the rate-limiting policy to a coaching instruction and, if
// it passes, queues it for spoken delivery. Returns whether it was accepted.
func (a *Announcer) Submit(status CoachingStatus) bool {
	a.mu.Lock()
	now := a.now()

	if status.Kind != CoachRecordPace {
		// A new personal best bypasses every limit; everything else waits
		// out the global interval.
		if !a.lastAnnounce.IsZero() && now.Sub(a.lastAnnounce) < a.cfg.AnnounceInterval {
			a.mu.Unlock()
			return false
		}

		switch status.Kind {
		case CoachMaintainPace:
			if !a.lastMaintain.IsZero() && now.Sub(a.lastMaintain) < a.cfg.MaintainInterval {
				a.mu.Unlock()
				return false
			}
		case CoachSpeedUpCadence, CoachSlowDownCadence:
			if abs(status.Delta) < a.cfg.MinCadenceDeviation {
				a.mu.Unlock()
				return false
			}
		case CoachSpeedUpPace, CoachSlowDownPace:
			if abs(status.Delta) < a.cfg.MinPaceDeviation {
				a.mu.Unlock()
				return false
			}
		}
	}

	a.lastAnnounce = now
	if status.Kind == CoachMaintainPace {
		a.lastMaintain = now
	}
	a.mu.Unlock()

	a.deliver(func() { a.sink.AnnounceCoachingInstruction(status) })
	return true
}

// AnnouncePhaseChange queues a phase announcement, outside the coaching rate
// limits but on the same serialized channel.
func (a *Announcer) AnnouncePhaseChange(phase Phase) {
	a.deliver(func() { a.sink.AnnouncePhaseChange(phase) })
}

// AnnounceTimeWarning queues a remaining-time warning.
func (a *Announcer) AnnounceTimeWarning(secondsRemaining int) {
	a.deliver(func() { a.sink.AnnounceTimeWarning(secondsRemaining) })
}

func (a *Announcer) deliver(announce func()) {
	select {
	case a.work <- announce:
	default:
		a.logger.Printf("Announcer: busy, dropping announcement")
	}
}

// Shutdown stops the delivery goroutine and waits for it to finish
// Safe to call multiple times - only the first call has effect
func (a *Announcer) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.logger.Printf("Announcer: Shutting down")
		close(a.doneChan)
		a.wg.Wait()
		a.logger.Printf("Announcer: Shutdown complete")
	})
}

func (a *Announcer) runAnnounceLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.doneChan:
			a.logger.Printf("Announcer: Goroutine exiting")
			return
		case announce := <-a.work:
			a.ducker.DuckForAnnouncement()
			announce()
			a.ducker.RestoreFromDuck()
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
