package coach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonbondani/interval-pro-sub001/internal/ble"
	"github.com/jonbondani/interval-pro-sub001/internal/config"
	"github.com/jonbondani/interval-pro-sub001/internal/events"
)

// fakeBLEManager publishes scripted telemetry and connection states.
type fakeBLEManager struct {
	stateEvent     *events.ChannelEvent[ble.ConnectionState]
	deviceEvent    *events.ChannelEvent[[]ble.Device]
	telemetryEvent *events.ChannelEvent[ble.Telemetry]
}

var _ ble.ManagerInterface = (*fakeBLEManager)(nil)

func newFakeBLEManager() *fakeBLEManager {
	return &fakeBLEManager{
		stateEvent:     events.NewChannelEvent[ble.ConnectionState](true),
		deviceEvent:    events.NewChannelEvent[[]ble.Device](true),
		telemetryEvent: events.NewChannelEvent[ble.Telemetry](false),
	}
}

func (m *fakeBLEManager) Enable() error              { return nil }
func (m *fakeBLEManager) StartScan()                 {}
func (m *fakeBLEManager) DeepScan()                  {}
func (m *fakeBLEManager) FindBondedDevice(string)    {}
func (m *fakeBLEManager) StopScan()                  {}
func (m *fakeBLEManager) Connect(string)             {}
func (m *fakeBLEManager) Disconnect()                {}
func (m *fakeBLEManager) State() ble.ConnectionState { return ble.ConnectionState{} }
func (m *fakeBLEManager) RankedDevices() []ble.Device {
	return nil
}
func (m *fakeBLEManager) ListenToState(ch chan<- ble.ConnectionState) func() {
	return m.stateEvent.Listen(ch)
}
func (m *fakeBLEManager) ListenToDeviceList(ch chan<- []ble.Device) func() {
	return m.deviceEvent.Listen(ch)
}
func (m *fakeBLEManager) ListenToTelemetry(ch chan<- ble.Telemetry) func() {
	return m.telemetryEvent.Listen(ch)
}
func (m *fakeBLEManager) DebugTail(int) []string { return nil }
func (m *fakeBLEManager) Shutdown()              {}

func newTestModel(t *testing.T) (*CoachModel, *fakeBLEManager, *fakeSessionStore, *fakeSink) {
	t.Helper()

	manager := newFakeBLEManager()
	store := &fakeSessionStore{}
	sink := &fakeSink{}
	model := NewCoachModel(config.Default(), manager, NoopMotionSensor{}, &fakeHealthRecorder{},
		store, sink, &fakeDucker{}, testLogger(), nil)
	t.Cleanup(model.Shutdown)
	return model, manager, store, sink
}

func TestModelStartWorkoutUnknownPlan(t *testing.T) {
	model, _, _, _ := newTestModel(t)
	assert.Error(t, model.StartWorkout("no such plan"))
	assert.Equal(t, PhaseIdle, model.Timer().Phase())
}

func TestModelStartWorkoutBeginsSession(t *testing.T) {
	model, _, _, _ := newTestModel(t)

	require.NoError(t, model.StartWorkout(DefaultPlans[0].Name))

	assert.Eventually(t, func() bool {
		return model.Timer().Phase().Active()
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return model.Recorder().Session() != nil
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, model.StartWorkout(DefaultPlans[0].Name), "second start must be rejected")
}

func TestModelRoutesTelemetryIntoSession(t *testing.T) {
	model, manager, _, _ := newTestModel(t)

	require.NoError(t, model.StartWorkout(DefaultPlans[0].Name))
	require.Eventually(t, func() bool {
		return model.Timer().Phase().Active()
	}, time.Second, 5*time.Millisecond)

	readingCh := make(chan Reading, 32)
	defer model.ListenToReadings(readingCh)()

	manager.telemetryEvent.Notify(ble.Telemetry{
		Kind: ble.TelemetryHeartRate, Value: 152, At: time.Now(),
	})

	select {
	case r := <-readingCh:
		assert.Equal(t, 152, r.BPM)
		assert.Equal(t, SampleSourcePeripheral, r.Source)
	case <-time.After(time.Second):
		t.Fatal("no fused reading published")
	}

	assert.Eventually(t, func() bool {
		session := model.Recorder().Session()
		return session != nil && session.MaxHR == 152
	}, time.Second, 5*time.Millisecond)
}

func TestModelPausedSessionIgnoresTelemetry(t *testing.T) {
	model, manager, _, _ := newTestModel(t)

	require.NoError(t, model.StartWorkout(DefaultPlans[0].Name))
	require.Eventually(t, func() bool {
		return model.Timer().Phase().Active()
	}, time.Second, 5*time.Millisecond)

	model.PauseWorkout()
	require.Eventually(t, func() bool {
		return !model.Timer().Running()
	}, time.Second, 5*time.Millisecond)

	readingCh := make(chan Reading, 32)
	defer model.ListenToReadings(readingCh)()

	// In-zone for the warmup target (110-140 BPM), 30s apart. The readings
	// still flow through fusion but must not touch the session while the
	// clock is stopped.
	base := time.Now()
	feed := func(tm ble.Telemetry) {
		manager.telemetryEvent.Notify(tm)
		select {
		case <-readingCh:
		case <-time.After(time.Second):
			t.Fatal("telemetry was not fused")
		}
	}
	feed(ble.Telemetry{Kind: ble.TelemetryHeartRate, Value: 125, At: base})
	feed(ble.Telemetry{Kind: ble.TelemetryCadence, Value: 170, At: base})
	feed(ble.Telemetry{Kind: ble.TelemetryHeartRate, Value: 125, At: base.Add(30 * time.Second)})
	feed(ble.Telemetry{Kind: ble.TelemetryCadence, Value: 170, At: base.Add(30 * time.Second)})

	assert.Equal(t, time.Duration(0), model.zone.TimeInZone())
	session := model.Recorder().Session()
	require.NotNil(t, session)
	assert.Zero(t, session.StepCount)
}

func TestModelStopWorkoutPersistsPartial(t *testing.T) {
	model, _, store, _ := newTestModel(t)

	require.NoError(t, model.StartWorkout(DefaultPlans[0].Name))
	require.Eventually(t, func() bool {
		return model.Timer().Phase().Active()
	}, time.Second, 5*time.Millisecond)

	model.StopWorkout()

	assert.Eventually(t, func() bool {
		return model.Timer().Phase() == PhaseIdle
	}, time.Second, 5*time.Millisecond)

	model.Recorder().Wait()
	saved := store.lastSaved()
	require.NotNil(t, saved)
	assert.False(t, saved.Completed)
}

func TestModelAdviseUsesCurrentBlockBest(t *testing.T) {
	model, _, _, _ := newTestModel(t)

	model.mu.Lock()
	model.bestPaces = map[int]float64{1: 300, 2: 250}
	model.mu.Unlock()

	plan := &DefaultPlans[0]
	now := time.Now()
	rec := model.Recorder()
	rec.Start(plan, PhaseWork, 1, now)
	rec.OnPhaseChange(PhaseWork, 1, now.Add(time.Minute), 0, 0)
	require.Equal(t, 2, rec.CurrentBlock())

	model.zone.SetTarget(plan.WorkZone)

	coachCh := make(chan CoachingStatus, 8)
	defer model.ListenToCoaching(coachCh)()

	// 280 s/km beats block 1's historical best but not block 2's, so no
	// record announcement may fire for it.
	model.advise(PhaseWork, Reading{PaceSecPerKm: 280, At: now})
	select {
	case status := <-coachCh:
		assert.NotEqual(t, CoachRecordPace, status.Kind)
	default:
	}

	model.advise(PhaseWork, Reading{PaceSecPerKm: 240, At: now})
	select {
	case status := <-coachCh:
		assert.Equal(t, CoachRecordPace, status.Kind)
		assert.InDelta(t, -10.0, status.Delta, 0.001)
	default:
		t.Fatal("record pace against the open block's best was not announced")
	}
}

func TestModelRepublishesConnectionState(t *testing.T) {
	model, manager, _, _ := newTestModel(t)

	connCh := make(chan ble.ConnectionState, 8)
	defer model.ListenToConnectionState(connCh)()

	manager.stateEvent.Notify(ble.ConnectionState{Phase: ble.PhaseScanning})

	select {
	case state := <-connCh:
		assert.Equal(t, ble.PhaseScanning, state.Phase)
	case <-time.After(time.Second):
		t.Fatal("connection state not republished")
	}

	assert.NotEmpty(t, model.GetLogTail(10))
}
