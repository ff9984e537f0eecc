package coach

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonbondani/interval-pro-sub001/internal/ble"
	"github.com/jonbondani/interval-pro-sub001/internal/config"
	"github.com/jonbondani/interval-pro-sub001/internal/events"
	"github.com/jonbondani/interval-pro-sub001/internal/go_func_utils"
)

const maxLogLines = 1000

// CoachModel is the observable hub the presentation layer subscribes to. It
// wires the timer, fusion, zone tracker, advisor, and recorder together with
// constructor-injected collaborators and re-publishes their state.
type CoachModel struct {
	logger *log.Logger
	cfg    *config.Config

	manager ble.ManagerInterface
	motion  MotionSensor
	store   SessionStore
	sink    AudioSink

	timer     *PhaseTimer
	fusion    *DataFusion
	zone      *ZoneTracker
	announcer *Announcer
	recorder  *SessionRecorder

	mu          sync.RWMutex
	plan        *TrainingPlan
	bestPaces   map[int]float64
	metronomeOn bool

	readingEvent  *events.ChannelEvent[Reading]
	zoneEvent     *events.ChannelEvent[ZoneClassification]
	coachingEvent *events.ChannelEvent[CoachingStatus]
	connEvent     *events.ChannelEvent[ble.ConnectionState]
	logEvent      *events.ChannelEvent[string]

	logMu    sync.RWMutex
	logLines []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoachModel(
	cfg *config.Config,
	manager ble.ManagerInterface,
	motion MotionSensor,
	health HealthRecorder,
	store SessionStore,
	sink AudioSink,
	ducker AudioDucker,
	logger *log.Logger,
	uiLogChan <-chan string,
) *CoachModel {
	if cfg == nil {
		panic("CoachModel: cfg cannot be nil")
	}
	if manager == nil {
		panic("CoachModel: manager cannot be nil")
	}
	if motion == nil {
		panic("CoachModel: motion cannot be nil")
	}
	if store == nil {
		panic("CoachModel: store cannot be nil")
	}
	if sink == nil {
		panic("CoachModel: sink cannot be nil")
	}
	if logger == nil {
		panic("CoachModel: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &CoachModel{
		logger:        logger,
		cfg:           cfg,
		manager:       manager,
		motion:        motion,
		store:         store,
		sink:          sink,
		timer:         NewPhaseTimer(cfg.Coach.TimeWarningSeconds, logger),
		fusion:        NewDataFusion(cfg.Fusion, logger),
		zone:          NewZoneTracker(logger),
		announcer:     NewAnnouncer(sink, ducker, cfg.Coach, logger),
		recorder:      NewSessionRecorder(store, health, cfg.Scoring, logger),
		bestPaces:     make(map[int]float64),
		readingEvent:  events.NewChannelEvent[Reading](true),
		zoneEvent:     events.NewChannelEvent[ZoneClassification](true),
		coachingEvent: events.NewChannelEvent[CoachingStatus](true),
		connEvent:     events.NewChannelEvent[ble.ConnectionState](true),
		logEvent:      events.NewChannelEvent[string](false),
		logLines:      make([]string, 0, maxLogLines),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.timer.SetPhaseChangedCallback(m.handlePhaseChange)
	m.timer.SetSeriesCompletedCallback(func(series int) {
		m.appendLog(fmt.Sprintf("Series %d complete", series))
	})
	m.timer.SetWorkoutCompletedCallback(m.handleWorkoutCompleted)
	m.timer.SetTimeWarningCallback(m.announcer.AnnounceTimeWarning)

	m.fusion.Listen(m.handleReading)
	m.zone.Listen(func(c ZoneClassification) { m.zoneEvent.Notify(c) })

	m.wg.Add(1)
	go_func_utils.SafeGo(logger, func() { m.listenToTelemetry(ctx) })
	m.wg.Add(1)
	go_func_utils.SafeGo(logger, func() { m.listenToConnectionState(ctx) })
	if uiLogChan != nil {
		m.wg.Add(1)
		go_func_utils.SafeGo(logger, func() { m.readFromLogChannel(ctx, uiLogChan) })
	}

	if motion.Available() {
		if err := motion.Start(m.handleMotionSample); err != nil {
			logger.Printf("CoachModel: motion sensor start: %v", err)
		}
	}

	return m
}

// Shutdown stops all goroutines and waits for them to finish
func (m *CoachModel) Shutdown() {
	m.logger.Println("CoachModel: Shutting down")
	m.motion.Stop()
	m.cancel()
	m.wg.Wait()
	m.timer.Shutdown()
	m.announcer.Shutdown()
	m.recorder.Wait()
	m.logger.Println("CoachModel: Shutdown complete")
}

// Timer exposes the phase timer for read access and direct event listening.
func (m *CoachModel) Timer() *PhaseTimer { return m.timer }

// Fusion exposes the fusion stage so alternate telemetry sources (the
// simulator, a health bridge) can feed it.
func (m *CoachModel) Fusion() *DataFusion { return m.fusion }

// Recorder exposes the session recorder for read access.
func (m *CoachModel) Recorder() *SessionRecorder { return m.recorder }

// CurrentPlan returns the active plan, nil when none is loaded.
func (m *CoachModel) CurrentPlan() *TrainingPlan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plan
}

// StartWorkout loads a built-in plan by name and starts the session.
func (m *CoachModel) StartWorkout(planName string) error {
	plan, ok := GetPlanByName(planName)
	if !ok {
		return fmt.Errorf("unknown plan %q", planName)
	}
	if m.timer.Phase().Active() {
		return fmt.Errorf("a workout is already running")
	}

	m.mu.Lock()
	m.plan = &plan
	m.bestPaces = make(map[int]float64)
	m.mu.Unlock()

	m.loadBestPaces(&plan)
	m.timer.SetPlan(&plan)
	m.timer.Start()
	m.appendLog(fmt.Sprintf("Workout '%s' started", plan.Name))
	return nil
}

// PauseWorkout freezes the timer and persists a partial snapshot.
func (m *CoachModel) PauseWorkout() {
	if !m.timer.Phase().Active() {
		return
	}
	timeInZone := m.zone.TimeInZone()
	pace := m.fusion.Current().PaceSecPerKm

	m.timer.Pause()
	m.recorder.Pause(time.Now(), timeInZone, pace)
	// Fresh accumulator for the reopened record after resume
	if target, ok := m.zone.Target(); ok {
		m.zone.SetTarget(target)
	}
	m.appendLog("Workout paused")
}

// ResumeWorkout continues a paused session.
func (m *CoachModel) ResumeWorkout() {
	m.timer.Resume()
	snap := m.timer.Snapshot()
	m.recorder.Resume(snap.Phase, snap.Series, time.Now())
	m.appendLog("Workout resumed")
}

// StopWorkout aborts the session, finalizing and persisting what ran.
func (m *CoachModel) StopWorkout() {
	if m.timer.Phase() == PhaseIdle {
		return
	}
	timeInZone := m.zone.TimeInZone()
	pace := m.fusion.Current().PaceSecPerKm

	m.timer.Stop()
	m.recorder.Stop(time.Now(), timeInZone, pace)
	m.stopMetronome()
	m.appendLog("Workout stopped")
}

// handlePhaseChange runs on every timer transition. The order matters: the
// ending interval's in-zone time must be read before the target switch
// resets it.
func (m *CoachModel) handlePhaseChange(from, to Phase) {
	now := time.Now()
	snap := m.timer.Snapshot()

	m.mu.RLock()
	plan := m.plan
	m.mu.RUnlock()
	if plan == nil {
		return
	}

	if from == PhaseIdle && to.Active() {
		m.recorder.Start(plan, to, snap.Series, now)
	} else if to.Active() || to == PhaseComplete {
		timeInZone := m.zone.TimeInZone()
		pace := m.fusion.Current().PaceSecPerKm
		m.recorder.OnPhaseChange(to, snap.Series, now, timeInZone, pace)
	}

	if to.Active() {
		m.zone.SetTarget(plan.ZoneForPhase(to))
		m.announcer.AnnouncePhaseChange(to)
	}

	m.updateMetronome(plan, to)
	m.appendLog(fmt.Sprintf("Phase %s -> %s", from, to))
}

func (m *CoachModel) handleWorkoutCompleted() {
	timeInZone := m.zone.TimeInZone()
	pace := m.fusion.Current().PaceSecPerKm
	m.recorder.Complete(time.Now(), timeInZone, pace)
	m.announcer.AnnouncePhaseChange(PhaseComplete)
	m.stopMetronome()
	m.appendLog("Workout complete")
}

// handleReading runs synchronously on every fused reading.
func (m *CoachModel) handleReading(reading Reading) {
	phase := m.timer.Phase()

	// While paused the clock is stopped, so telemetry must not feed the
	// session aggregates or the zone accumulator.
	if phase.Active() && m.timer.Running() {
		if reading.BPM > 0 {
			m.zone.Observe(reading.BPM, reading.At)
			m.recorder.AddSample(HRSample{At: reading.At, BPM: reading.BPM, Source: reading.Source})
		}
		if reading.CadenceSPM > 0 {
			m.recorder.AddCadence(reading.CadenceSPM, reading.At)
		}
		if reading.DistanceMeters > 0 {
			m.recorder.SetDistance(reading.DistanceMeters)
		}
		m.advise(phase, reading)
	}

	m.readingEvent.Notify(reading)
}

func (m *CoachModel) advise(phase Phase, reading Reading) {
	target, ok := m.zone.Target()
	if !ok {
		return
	}

	block := m.recorder.CurrentBlock()
	m.mu.RLock()
	bestPace := m.bestPaces[block]
	m.mu.RUnlock()

	input := AdvisorInput{
		PhaseActive:  phase == PhaseWork,
		Zone:         target,
		CadenceSPM:   reading.CadenceSPM,
		PaceSecPerKm: reading.PaceSecPerKm,
		BestPace:     bestPace,
	}
	status, ok := Advise(input)
	if !ok {
		return
	}
	if m.announcer.Submit(status) {
		m.coachingEvent.Notify(status)
	}
}

func (m *CoachModel) handleMotionSample(sample MotionSample) {
	if sample.CadenceSPM > 0 {
		m.fusion.ObserveCadence(SampleSourceMotion, sample.CadenceSPM, sample.At)
	}
	if sample.TotalDistanceMeters > 0 {
		m.fusion.ObserveDistance(sample.TotalDistanceMeters, sample.At)
	}
}

func (m *CoachModel) updateMetronome(plan *TrainingPlan, phase Phase) {
	zone := plan.ZoneForPhase(phase)
	if phase == PhaseWork && zone.HasCadenceTarget() {
		bpm := (zone.MinCadence + zone.MaxCadence) / 2
		m.mu.Lock()
		running := m.metronomeOn
		m.metronomeOn = true
		m.mu.Unlock()
		if running {
			m.sink.UpdateMetronomeBPM(bpm)
		} else {
			m.sink.StartMetronome(bpm, 0.5)
		}
		return
	}
	m.stopMetronome()
}

func (m *CoachModel) stopMetronome() {
	m.mu.Lock()
	running := m.metronomeOn
	m.metronomeOn = false
	m.mu.Unlock()
	if running {
		m.sink.StopMetronome()
	}
}

// loadBestPaces fetches the historical best pace per block in the background.
func (m *CoachModel) loadBestPaces(plan *TrainingPlan) {
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(m.ctx, saveTimeout)
		defer cancel()

		paces, err := m.store.FetchBestPacesPerBlock(ctx, plan.ID)
		if err != nil {
			m.logger.Printf("CoachModel: fetch best paces: %v", err)
			return
		}
		m.mu.Lock()
		m.bestPaces = paces
		m.mu.Unlock()
	})
}

func (m *CoachModel) listenToTelemetry(ctx context.Context) {
	defer m.wg.Done()

	telemetryChan := make(chan ble.Telemetry, 32)
	unregister := m.manager.ListenToTelemetry(telemetryChan)
	defer unregister()

	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-telemetryChan:
			switch sample.Kind {
			case ble.TelemetryHeartRate:
				m.fusion.ObserveHeartRate(SampleSourcePeripheral, int(sample.Value), sample.At)
			case ble.TelemetryCadence:
				m.fusion.ObserveCadence(SampleSourcePeripheral, int(sample.Value), sample.At)
			case ble.TelemetryDistance:
				m.fusion.ObserveDistance(sample.Value, sample.At)
			}
		}
	}
}

func (m *CoachModel) listenToConnectionState(ctx context.Context) {
	defer m.wg.Done()

	stateChan := make(chan ble.ConnectionState, 8)
	unregister := m.manager.ListenToState(stateChan)
	defer unregister()

	for {
		select {
		case <-ctx.Done():
			return
		case state := <-stateChan:
			m.appendLog(fmt.Sprintf("Connection: %s", state))
			m.connEvent.Notify(state)
		}
	}
}

// ListenToReadings registers a channel to receive fused telemetry readings
// Returns a deregistration function that can be called to remove the listener
func (m *CoachModel) ListenToReadings(ch chan<- Reading) func() {
	return m.readingEvent.Listen(ch)
}

// ListenToZoneStatus registers a channel to receive zone classifications
// Returns a deregistration function that can be called to remove the listener
func (m *CoachModel) ListenToZoneStatus(ch chan<- ZoneClassification) func() {
	return m.zoneEvent.Listen(ch)
}

// ListenToCoaching registers a channel to receive accepted coaching instructions
// Returns a deregistration function that can be called to remove the listener
func (m *CoachModel) ListenToCoaching(ch chan<- CoachingStatus) func() {
	return m.coachingEvent.Listen(ch)
}

// ListenToConnectionState registers a channel to receive peripheral connection states
// Returns a deregistration function that can be called to remove the listener
func (m *CoachModel) ListenToConnectionState(ch chan<- ble.ConnectionState) func() {
	return m.connEvent.Listen(ch)
}

// ListenToPhaseEvents registers a channel to receive timer snapshots
// Returns a deregistration function that can be called to remove the listener
func (m *CoachModel) ListenToPhaseEvents(ch chan<- PhaseEvent) func() {
	return m.timer.ListenToPhaseEvents(ch)
}

// ListenToSaveStatus registers a channel to receive persistence outcomes
// Returns a deregistration function that can be called to remove the listener
func (m *CoachModel) ListenToSaveStatus(ch chan<- SaveStatus) func() {
	return m.recorder.ListenToSaveStatus(ch)
}

// ListenToLog registers a channel to receive log messages
// Returns a deregistration function that can be called to remove the listener
func (m *CoachModel) ListenToLog(ch chan<- string) func() {
	return m.logEvent.Listen(ch)
}

func (m *CoachModel) appendLog(line string) {
	m.logMu.Lock()
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	m.logMu.Unlock()

	m.logEvent.Notify(line)
}

// readFromLogChannel mirrors process log lines into the model's tail.
func (m *CoachModel) readFromLogChannel(ctx context.Context, logChan <-chan string) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-logChan:
			if !ok {
				return
			}
			m.appendLog(line)
		}
	}
}

// GetLogTail returns the last n log lines.
func (m *CoachModel) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if n <= 0 {
		return []string{}
	}
	if n >= len(m.logLines) {
		result := make([]string, len(m.logLines))
		copy(result, m.logLines)
		return result
	}
	result := make([]string, n)
	copy(result, m.logLines[len(m.logLines)-n:])
	return result
}
