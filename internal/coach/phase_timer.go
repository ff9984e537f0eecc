package coach

import (
	"log"
	"sync"
	"time"

	"github.com/jonbondani/interval-pro-sub001/internal/events"
	"github.com/jonbondani/interval-pro-sub001/internal/go_func_utils"
)

// timerCommand represents commands sent to the timer goroutine
type timerCommand int

const (
	cmdStart timerCommand = iota
	cmdPause
	cmdResume
	cmdStop
)

// PhaseEvent is a published snapshot of the timer.
type PhaseEvent struct {
	Phase          Phase
	Series         int // 1-based, 0 during warmup
	TotalSeries    int
	PhaseRemaining time.Duration
	TotalElapsed   time.Duration
	Progress       float64 // phase completion fraction in [0,1], 0 when the phase has no duration
}

type phaseTransition struct {
	From Phase
	To   Phase
}

// phaseTickResult holds the outcome of processing one advance under lock, so
// callbacks fire outside it.
type phaseTickResult struct {
	skip        bool
	snapshot    PhaseEvent
	transitions []phaseTransition
	seriesDone  []int
	warnings    []int
	completed   bool
}

// PhaseTimer advances a training plan through its phases on wall-clock time,
// independent of sensor availability. All side effects are delivered as
// callbacks plus a published PhaseEvent stream.
type PhaseTimer struct {
	logger         *log.Logger
	warnThresholds []int // seconds remaining, descending

	mu           sync.RWMutex
	plan         *TrainingPlan
	phase        Phase
	series       int
	phaseElapsed time.Duration
	totalElapsed time.Duration
	running      bool
	paused       bool
	warned       map[int]bool

	onPhaseChanged     func(from, to Phase)
	onSeriesCompleted  func(series int)
	onWorkoutCompleted func()
	onTimeWarning      func(secondsRemaining int)

	stateEvent *events.ChannelEvent[PhaseEvent]

	cmdChan      chan timerCommand
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewPhaseTimer creates a new PhaseTimer. warnThresholds lists the
// seconds-remaining marks that fire a time warning, each at most once per
// phase.
func NewPhaseTimer(warnThresholds []int, logger *log.Logger) *PhaseTimer {
	if logger == nil {
		panic("PhaseTimer: logger cannot be nil")
	}

	pt := &PhaseTimer{
		logger:         logger,
		warnThresholds: warnThresholds,
		phase:          PhaseIdle,
		warned:         make(map[int]bool),
		stateEvent:     events.NewChannelEvent[PhaseEvent](true),
		cmdChan:        make(chan timerCommand, 1),
		doneChan:       make(chan struct{}),
	}

	pt.wg.Add(1)
	go_func_utils.SafeGo(logger, func() { pt.runTimerLoop() })

	return pt
}

// SetPhaseChangedCallback installs the phase transition callback.
func (pt *PhaseTimer) SetPhaseChangedCallback(cb func(from, to Phase)) {
	pt.mu.Lock()
	pt.onPhaseChanged = cb
	pt.mu.Unlock()
}

// SetSeriesCompletedCallback installs the series boundary callback.
func (pt *PhaseTimer) SetSeriesCompletedCallback(cb func(series int)) {
	pt.mu.Lock()
	pt.onSeriesCompleted = cb
	pt.mu.Unlock()
}

// SetWorkoutCompletedCallback installs the completion callback, fired exactly
// once per run.
func (pt *PhaseTimer) SetWorkoutCompletedCallback(cb func()) {
	pt.mu.Lock()
	pt.onWorkoutCompleted = cb
	pt.mu.Unlock()
}

// SetTimeWarningCallback installs the remaining-time warning callback.
func (pt *PhaseTimer) SetTimeWarningCallback(cb func(secondsRemaining int)) {
	pt.mu.Lock()
	pt.onTimeWarning = cb
	pt.mu.Unlock()
}

// SetPlan loads a plan for execution. Rejected while a workout is running or
// paused.
func (pt *PhaseTimer) SetPlan(plan *TrainingPlan) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.running || pt.paused {
		pt.logger.Printf("PhaseTimer: Cannot set plan while a workout is active")
		return
	}
	pt.plan = plan
	pt.phase = PhaseIdle
	pt.series = 0
	pt.phaseElapsed = 0
	pt.totalElapsed = 0
	if plan != nil {
		pt.logger.Printf("PhaseTimer: Plan '%s' loaded (%d series, total %v)", plan.Name, plan.SeriesCount, plan.TotalDuration())
	}
}

// Start begins workout execution from idle.
func (pt *PhaseTimer) Start() {
	pt.mu.RLock()
	plan, running := pt.plan, pt.running
	pt.mu.RUnlock()

	if plan == nil {
		pt.logger.Printf("PhaseTimer: No plan loaded")
		return
	}
	if running {
		pt.logger.Printf("PhaseTimer: Workout already running")
		return
	}
	pt.cmdChan <- cmdStart
}

// Pause freezes the remaining time without changing phase.
func (pt *PhaseTimer) Pause() {
	pt.mu.RLock()
	running, paused := pt.running, pt.paused
	pt.mu.RUnlock()

	if !running || paused {
		pt.logger.Printf("PhaseTimer: Cannot pause - workout not running")
		return
	}
	pt.cmdChan <- cmdPause
}

// Resume continues a paused workout.
func (pt *PhaseTimer) Resume() {
	pt.mu.RLock()
	paused := pt.paused
	pt.mu.RUnlock()

	if !paused {
		pt.logger.Printf("PhaseTimer: Cannot resume - workout not paused")
		return
	}
	pt.cmdChan <- cmdResume
}

// Stop forces the timer back to idle and clears all counters.
func (pt *PhaseTimer) Stop() {
	pt.mu.RLock()
	idle := pt.phase == PhaseIdle
	pt.mu.RUnlock()

	if idle {
		pt.logger.Printf("PhaseTimer: No workout to stop")
		return
	}
	pt.cmdChan <- cmdStop
}

// Shutdown stops the timer goroutine and waits for it to finish
// Safe to call multiple times - only the first call has effect
func (pt *PhaseTimer) Shutdown() {
	pt.shutdownOnce.Do(func() {
		pt.logger.Printf("PhaseTimer: Shutting down")
		close(pt.doneChan)
		pt.wg.Wait()
		pt.logger.Printf("PhaseTimer: Shutdown complete")
	})
}

// Snapshot returns the current published view of the timer.
func (pt *PhaseTimer) Snapshot() PhaseEvent {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.buildEventLocked()
}

func (pt *PhaseTimer) Phase() Phase {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.phase
}

// Running reports whether the workout clock is actually moving: started and
// not paused.
func (pt *PhaseTimer) Running() bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.running && !pt.paused
}

func (pt *PhaseTimer) PhaseRemaining() time.Duration {
	return pt.Snapshot().PhaseRemaining
}

func (pt *PhaseTimer) TotalElapsed() time.Duration {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.totalElapsed
}

// ListenToPhaseEvents registers a channel to receive timer snapshots
// The latest snapshot is delivered immediately on listen.
// Returns a deregistration function that can be called to remove the listener
func (pt *PhaseTimer) ListenToPhaseEvents(ch chan<- PhaseEvent) func() {
	return pt.stateEvent.Listen(ch)
}

// --- State machine internals. Pure advance under lock, dispatch outside. ---

// currentPhaseDurationLocked returns the plan duration of the current phase.
// MUST be called with mu held.
func (pt *PhaseTimer) currentPhaseDurationLocked() time.Duration {
	if pt.plan == nil {
		return 0
	}
	switch pt.phase {
	case PhaseWarmup:
		return pt.plan.WarmupDuration
	case PhaseWork:
		return pt.plan.WorkDuration
	case PhaseRest:
		return pt.plan.RestDuration
	case PhaseCooldown:
		return pt.plan.CooldownDuration
	default:
		return 0
	}
}

// buildEventLocked computes the published snapshot.
// MUST be called with mu held.
func (pt *PhaseTimer) buildEventLocked() PhaseEvent {
	ev := PhaseEvent{
		Phase:        pt.phase,
		Series:       pt.series,
		TotalElapsed: pt.totalElapsed,
	}
	if pt.plan != nil {
		ev.TotalSeries = pt.plan.SeriesCount
	}
	dur := pt.currentPhaseDurationLocked()
	if dur > 0 {
		ev.PhaseRemaining = dur - pt.phaseElapsed
		ev.Progress = float64(pt.phaseElapsed) / float64(dur)
		if ev.Progress > 1 {
			ev.Progress = 1
		} else if ev.Progress < 0 {
			ev.Progress = 0
		}
	}
	return ev
}

// enterNextPhaseLocked performs a single phase transition, recording the
// boundary events. MUST be called with mu held.
func (pt *PhaseTimer) enterNextPhaseLocked(res *phaseTickResult) {
	old := pt.phase
	switch pt.phase {
	case PhaseWarmup:
		pt.phase = PhaseWork
		pt.series = 1
	case PhaseWork:
		pt.phase = PhaseRest
	case PhaseRest:
		res.seriesDone = append(res.seriesDone, pt.series)
		if pt.series < pt.plan.SeriesCount {
			pt.series++
			pt.phase = PhaseWork
		} else if pt.plan.CooldownDuration > 0 {
			pt.phase = PhaseCooldown
		} else {
			pt.phase = PhaseComplete
		}
	case PhaseCooldown:
		pt.phase = PhaseComplete
	}
	pt.warned = make(map[int]bool)
	res.transitions = append(res.transitions, phaseTransition{From: old, To: pt.phase})
}

// begin starts execution from idle and returns the boundary events to fire.
func (pt *PhaseTimer) begin() phaseTickResult {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.plan == nil || pt.running {
		return phaseTickResult{skip: true}
	}

	pt.running = true
	pt.paused = false
	pt.phaseElapsed = 0
	pt.totalElapsed = 0
	pt.warned = make(map[int]bool)

	old := pt.phase
	if pt.plan.WarmupDuration > 0 {
		pt.phase = PhaseWarmup
		pt.series = 0
	} else {
		pt.phase = PhaseWork
		pt.series = 1
	}

	res := phaseTickResult{
		transitions: []phaseTransition{{From: old, To: pt.phase}},
	}
	res.snapshot = pt.buildEventLocked()
	return res
}

// advance moves time forward by delta, crossing as many phase boundaries as
// the delta covers. Pure with respect to side effects; the caller dispatches
// the returned events.
func (pt *PhaseTimer) advance(delta time.Duration) phaseTickResult {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if !pt.running || pt.paused {
		return phaseTickResult{skip: true}
	}

	pt.phaseElapsed += delta
	pt.totalElapsed += delta

	res := phaseTickResult{}
	for {
		dur := pt.currentPhaseDurationLocked()
		if pt.phaseElapsed < dur || pt.phase == PhaseComplete {
			break
		}
		leftover := pt.phaseElapsed - dur
		pt.enterNextPhaseLocked(&res)
		pt.phaseElapsed = leftover
		if pt.phase == PhaseComplete {
			pt.running = false
			pt.phaseElapsed = 0
			res.completed = true
			break
		}
	}

	if pt.running && pt.phase.Active() {
		remaining := pt.currentPhaseDurationLocked() - pt.phaseElapsed
		for _, t := range pt.warnThresholds {
			if !pt.warned[t] && remaining > 0 && remaining <= time.Duration(t)*time.Second {
				pt.warned[t] = true
				res.warnings = append(res.warnings, t)
			}
		}
	}

	res.snapshot = pt.buildEventLocked()
	return res
}

// pause freezes the counters in place.
func (pt *PhaseTimer) pause() phaseTickResult {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.running || pt.paused {
		return phaseTickResult{skip: true}
	}
	pt.paused = true
	return phaseTickResult{snapshot: pt.buildEventLocked()}
}

// resume continues after a pause without touching the counters.
func (pt *PhaseTimer) resume() phaseTickResult {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.paused {
		return phaseTickResult{skip: true}
	}
	pt.paused = false
	return phaseTickResult{snapshot: pt.buildEventLocked()}
}

// halt resets everything back to idle.
func (pt *PhaseTimer) halt() phaseTickResult {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	old := pt.phase
	pt.running = false
	pt.paused = false
	pt.phase = PhaseIdle
	pt.series = 0
	pt.phaseElapsed = 0
	pt.totalElapsed = 0
	pt.warned = make(map[int]bool)

	res := phaseTickResult{}
	if old != PhaseIdle {
		res.transitions = []phaseTransition{{From: old, To: PhaseIdle}}
	}
	res.snapshot = pt.buildEventLocked()
	return res
}

// dispatch fires the boundary callbacks and publishes the snapshot. Called
// without the lock held.
func (pt *PhaseTimer) dispatch(res phaseTickResult) {
	if res.skip {
		return
	}

	pt.mu.RLock()
	onPhase := pt.onPhaseChanged
	onSeries := pt.onSeriesCompleted
	onComplete := pt.onWorkoutCompleted
	onWarning := pt.onTimeWarning
	pt.mu.RUnlock()

	for _, tr := range res.transitions {
		pt.logger.Printf("PhaseTimer: %s -> %s", tr.From, tr.To)
		if onPhase != nil {
			onPhase(tr.From, tr.To)
		}
	}
	for _, s := range res.seriesDone {
		pt.logger.Printf("PhaseTimer: Series %d complete", s)
		if onSeries != nil {
			onSeries(s)
		}
	}
	for _, w := range res.warnings {
		if onWarning != nil {
			onWarning(w)
		}
	}
	if res.completed {
		pt.logger.Printf("PhaseTimer: Workout complete!")
		if onComplete != nil {
			onComplete()
		}
	}

	pt.stateEvent.Notify(res.snapshot)
}

// runTimerLoop is the main goroutine that drives execution.
func (pt *PhaseTimer) runTimerLoop() {
	defer pt.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	ticker.Stop() // Start stopped, will be started when the workout starts

	for {
		select {
		case <-pt.doneChan:
			ticker.Stop()
			pt.logger.Printf("PhaseTimer: Goroutine exiting")
			return

		case cmd := <-pt.cmdChan:
			switch cmd {
			case cmdStart:
				pt.dispatch(pt.begin())
				ticker.Reset(1 * time.Second)
				pt.logger.Printf("PhaseTimer: Workout started")

			case cmdPause:
				ticker.Stop()
				pt.dispatch(pt.pause())
				pt.logger.Printf("PhaseTimer: Workout paused")

			case cmdResume:
				pt.dispatch(pt.resume())
				ticker.Reset(1 * time.Second)
				pt.logger.Printf("PhaseTimer: Workout resumed")

			case cmdStop:
				ticker.Stop()
				pt.dispatch(pt.halt())
				pt.logger.Printf("PhaseTimer: Workout stopped and reset")
			}

		case <-ticker.C:
			res := pt.advance(1 * time.Second)
			if res.completed {
				ticker.Stop()
			}
			pt.dispatch(res)
		}
	}
}
