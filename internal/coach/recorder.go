package coach

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonbondani/interval-pro-sub001/internal/config"
	"github.com/jonbondani/interval-pro-sub001/internal/events"
	"github.com/jonbondani/interval-pro-sub001/internal/go_func_utils"
)

const saveTimeout = 5 * time.Second

// SaveStatus reports the outcome of one persistence attempt.
type SaveStatus struct {
	SessionID uuid.UUID
	Completed bool
	Err       error
	At        time.Time
}

// SessionRecorder exclusively owns the current TrainingSession and its
// interval list. Exactly one IntervalRecord is open at any time while a
// session runs; every exit path finalizes it before persisting.
type SessionRecorder struct {
	logger  *log.Logger
	store   SessionStore
	health  HealthRecorder
	scoring config.Scoring

	mu           sync.Mutex
	session      *TrainingSession
	plan         *TrainingPlan
	openIdx      int
	openStart    time.Time
	lastSeries   int
	workInSeries int
	closed       bool

	hrSum   int
	hrCount int

	stepAccum     float64
	lastCadenceAt time.Time

	distanceBase float64
	haveDistBase bool

	saveEvent *events.ChannelEvent[SaveStatus]
	wg        sync.WaitGroup
}

func NewSessionRecorder(store SessionStore, health HealthRecorder, scoring config.Scoring, logger *log.Logger) *SessionRecorder {
	if store == nil {
		panic("SessionRecorder: store cannot be nil")
	}
	if health == nil {
		panic("SessionRecorder: health cannot be nil")
	}
	if logger == nil {
		panic("SessionRecorder: logger cannot be nil")
	}
	return &SessionRecorder{
		logger:    logger,
		store:     store,
		health:    health,
		scoring:   scoring,
		openIdx:   -1,
		closed:    true,
		saveEvent: events.NewChannelEvent[SaveStatus](true),
	}
}

// ListenToSaveStatus registers a channel to receive persistence outcomes
// Returns a deregistration function that can be called to remove the listener
func (sr *SessionRecorder) ListenToSaveStatus(ch chan<- SaveStatus) func() {
	return sr.saveEvent.Listen(ch)
}

// Session returns a snapshot copy of the current session, nil when none.
func (sr *SessionRecorder) Session() *TrainingSession {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.session == nil {
		return nil
	}
	return sr.snapshotLocked()
}

// CurrentBlock returns the work-block index of the open interval record,
// or 0 when no record is open or the open record is not a work interval.
func (sr *SessionRecorder) CurrentBlock() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.session == nil || sr.openIdx < 0 {
		return 0
	}
	rec := sr.session.Intervals[sr.openIdx]
	if rec.Phase != PhaseWork {
		return 0
	}
	return rec.Block
}

// Start opens a new session for the plan and its first interval record.
func (sr *SessionRecorder) Start(plan *TrainingPlan, firstPhase Phase, series int, at time.Time) {
	sr.mu.Lock()
	sr.plan = plan
	sr.session = &TrainingSession{
		ID:        uuid.New(),
		PlanID:    plan.ID,
		PlanName:  plan.Name,
		StartedAt: at,
		MinHR:     0,
	}
	sr.openIdx = -1
	sr.lastSeries = 0
	sr.workInSeries = 0
	sr.closed = false
	sr.hrSum = 0
	sr.hrCount = 0
	sr.stepAccum = 0
	sr.lastCadenceAt = time.Time{}
	sr.haveDistBase = false
	sr.openRecordLocked(firstPhase, series, at)
	sr.mu.Unlock()

	sr.logger.Printf("SessionRecorder: session %s started for plan '%s'", sr.session.ID, plan.Name)
	if err := sr.health.StartWorkout("running"); err != nil {
		sr.logger.Printf("SessionRecorder: health StartWorkout: %v", err)
	}
}

// OnPhaseChange finalizes the open record with the ending phase's stats and
// opens the next one. timeInZone and avgPace come from the zone tracker and
// fusion at the moment of the boundary.
func (sr *SessionRecorder) OnPhaseChange(to Phase, series int, at time.Time, timeInZone time.Duration, avgPace float64) {
	sr.mu.Lock()
	if sr.closed || sr.session == nil {
		sr.mu.Unlock()
		return
	}
	sr.finalizeOpenLocked(at, timeInZone, avgPace)
	if to.Active() {
		sr.openRecordLocked(to, series, at)
	}
	sr.mu.Unlock()

	if err := sr.health.AddLapEvent(at); err != nil {
		sr.logger.Printf("SessionRecorder: health AddLapEvent: %v", err)
	}
}

// AddSample appends one heart-rate sample to the open record. Samples after
// the session closed are discarded.
func (sr *SessionRecorder) AddSample(sample HRSample) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.closed || sr.openIdx < 0 {
		return
	}

	rec := &sr.session.Intervals[sr.openIdx]
	rec.Samples = append(rec.Samples, sample)

	sr.hrSum += sample.BPM
	sr.hrCount++
	sr.session.AvgHR = sr.hrSum / sr.hrCount
	if sample.BPM > sr.session.MaxHR {
		sr.session.MaxHR = sample.BPM
	}
	if sr.session.MinHR == 0 || sample.BPM < sr.session.MinHR {
		sr.session.MinHR = sample.BPM
	}
}

// AddCadence integrates cadence into the session step count.
func (sr *SessionRecorder) AddCadence(spm int, at time.Time) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.closed || sr.session == nil {
		return
	}
	if !sr.lastCadenceAt.IsZero() && at.After(sr.lastCadenceAt) {
		sr.stepAccum += float64(spm) * at.Sub(sr.lastCadenceAt).Minutes()
		sr.session.StepCount = int(sr.stepAccum)
	}
	sr.lastCadenceAt = at
}

// SetDistance updates the session distance from a cumulative total. The
// first report anchors the session's zero point.
func (sr *SessionRecorder) SetDistance(totalMeters float64) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.closed || sr.session == nil {
		return
	}
	if !sr.haveDistBase {
		sr.distanceBase = totalMeters
		sr.haveDistBase = true
		return
	}
	if d := totalMeters - sr.distanceBase; d > 0 {
		sr.session.TotalDistanceMeters = d
	}
}

// Pause finalizes the open record and persists a partial snapshot. The next
// Resume reopens a record for the in-progress phase.
func (sr *SessionRecorder) Pause(at time.Time, timeInZone time.Duration, avgPace float64) {
	sr.mu.Lock()
	if sr.closed || sr.session == nil {
		sr.mu.Unlock()
		return
	}
	sr.finalizeOpenLocked(at, timeInZone, avgPace)
	sr.session.EndedAt = at
	snapshot := sr.snapshotLocked()
	sr.mu.Unlock()

	if err := sr.health.PauseWorkout(); err != nil {
		sr.logger.Printf("SessionRecorder: health PauseWorkout: %v", err)
	}
	sr.persistAsync(snapshot)
}

// Resume reopens an interval record for the phase that was paused.
func (sr *SessionRecorder) Resume(phase Phase, series int, at time.Time) {
	sr.mu.Lock()
	if sr.closed || sr.session == nil || !phase.Active() {
		sr.mu.Unlock()
		return
	}
	sr.session.EndedAt = time.Time{}
	sr.openRecordLocked(phase, series, at)
	sr.mu.Unlock()

	if err := sr.health.ResumeWorkout(); err != nil {
		sr.logger.Printf("SessionRecorder: health ResumeWorkout: %v", err)
	}
}

// Stop closes the session early and persists a partial snapshot. Late events
// arriving after Stop are discarded.
func (sr *SessionRecorder) Stop(at time.Time, timeInZone time.Duration, avgPace float64) {
	sr.mu.Lock()
	if sr.closed || sr.session == nil {
		sr.mu.Unlock()
		return
	}
	sr.finalizeOpenLocked(at, timeInZone, avgPace)
	sr.session.EndedAt = at
	sr.session.Completed = false
	sr.closed = true
	snapshot := sr.snapshotLocked()
	sr.mu.Unlock()

	sr.logger.Printf("SessionRecorder: session %s stopped early", snapshot.ID)
	if err := sr.health.EndWorkout(); err != nil {
		sr.logger.Printf("SessionRecorder: health EndWorkout: %v", err)
	}
	sr.persistAsync(snapshot)
}

// Complete closes the session as fully run, computes the composite score, and
// persists it.
func (sr *SessionRecorder) Complete(at time.Time, timeInZone time.Duration, avgPace float64) {
	sr.mu.Lock()
	if sr.closed || sr.session == nil {
		sr.mu.Unlock()
		return
	}
	sr.finalizeOpenLocked(at, timeInZone, avgPace)
	sr.session.EndedAt = at
	sr.session.Completed = true
	sr.session.Score = ComputeScore(sr.session, sr.plan.SeriesCount, sr.scoring)
	sr.closed = true
	snapshot := sr.snapshotLocked()
	sr.mu.Unlock()

	sr.logger.Printf("SessionRecorder: session %s complete, score %.1f", snapshot.ID, snapshot.Score)
	if err := sr.health.EndWorkout(); err != nil {
		sr.logger.Printf("SessionRecorder: health EndWorkout: %v", err)
	}
	sr.persistAsync(snapshot)
}

// Wait blocks until pending persistence goroutines finish.
func (sr *SessionRecorder) Wait() {
	sr.wg.Wait()
}

// openRecordLocked appends a fresh interval record and marks it open.
// MUST be called with mu held.
func (sr *SessionRecorder) openRecordLocked(phase Phase, series int, at time.Time) {
	block := 1
	if phase == PhaseWork {
		if series != sr.lastSeries {
			sr.workInSeries = 0
			sr.lastSeries = series
		}
		sr.workInSeries++
		block = sr.workInSeries
	}

	sr.session.Intervals = append(sr.session.Intervals, IntervalRecord{
		Phase:       phase,
		Series:      series,
		Block:       block,
		StartOffset: at.Sub(sr.session.StartedAt),
		Samples:     make([]HRSample, 0),
	})
	sr.openIdx = len(sr.session.Intervals) - 1
	sr.openStart = at
}

// finalizeOpenLocked closes the open record if there is one.
// MUST be called with mu held.
func (sr *SessionRecorder) finalizeOpenLocked(at time.Time, timeInZone time.Duration, avgPace float64) {
	if sr.openIdx < 0 {
		return
	}
	rec := &sr.session.Intervals[sr.openIdx]
	rec.finalize(at.Sub(sr.openStart), timeInZone, avgPace)
	sr.session.TimeInZone += timeInZone
	sr.openIdx = -1
}

// snapshotLocked copies the session for handoff outside the lock. Finalized
// records are immutable so sharing their sample slices is safe.
// MUST be called with mu held.
func (sr *SessionRecorder) snapshotLocked() *TrainingSession {
	snapshot := *sr.session
	snapshot.Intervals = make([]IntervalRecord, len(sr.session.Intervals))
	copy(snapshot.Intervals, sr.session.Intervals)
	return &snapshot
}

func (sr *SessionRecorder) persistAsync(snapshot *TrainingSession) {
	sr.wg.Add(1)
	go_func_utils.SafeGo(sr.logger, func() {
		defer sr.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		err := sr.store.Save(ctx, snapshot)
		if err != nil {
			sr.logger.Printf("SessionRecorder: save %s failed: %v", snapshot.ID, err)
		}
		sr.saveEvent.Notify(SaveStatus{
			SessionID: snapshot.ID,
			Completed: snapshot.Completed,
			Err:       err,
			At:        time.Now(),
		})
	})
}
