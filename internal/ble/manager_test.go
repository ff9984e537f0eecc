package ble

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonbondani/interval-pro-sub001/internal/config"
)

type fakeLink struct {
	address string
	radio   *fakeRadio

	mu   sync.Mutex
	subs map[string]func([]byte)
}

func (l *fakeLink) Address() string { return l.address }

func (l *fakeLink) Subscribe(serviceUUID, charUUID string, cb func(buf []byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[serviceUUID+"/"+charUUID] = cb
	return nil
}

func (l *fakeLink) Disconnect() error {
	l.radio.dropLink(l.address)
	return nil
}

func (l *fakeLink) notify(serviceUUID, charUUID string, buf []byte) {
	l.mu.Lock()
	cb := l.subs[serviceUUID+"/"+charUUID]
	l.mu.Unlock()
	if cb != nil {
		cb(buf)
	}
}

// fakeRadio scripts connect outcomes: errors are consumed in order, then
// every further connect succeeds.
type fakeRadio struct {
	mu             sync.Mutex
	advertisements []Advertisement
	connectErrs    []error
	connectCalls   int
	enableErr      error
	onDisconnect   func(address string)
	lastLink       *fakeLink
}

func (r *fakeRadio) Enable() error { return r.enableErr }

func (r *fakeRadio) SetDisconnectHandler(cb func(address string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = cb
}

func (r *fakeRadio) Scan(ctx context.Context, results chan<- Advertisement) error {
	r.mu.Lock()
	advs := append([]Advertisement(nil), r.advertisements...)
	r.mu.Unlock()
	for _, adv := range advs {
		select {
		case results <- adv:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func (r *fakeRadio) Connect(ctx context.Context, address string) (Link, error) {
	r.mu.Lock()
	r.connectCalls++
	var err error
	if len(r.connectErrs) > 0 {
		err = r.connectErrs[0]
		r.connectErrs = r.connectErrs[1:]
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	link := &fakeLink{address: address, radio: r, subs: make(map[string]func([]byte))}
	r.mu.Lock()
	r.lastLink = link
	r.mu.Unlock()
	return link, nil
}

func (r *fakeRadio) dropLink(address string) {
	r.mu.Lock()
	cb := r.onDisconnect
	r.mu.Unlock()
	if cb != nil {
		cb(address)
	}
}

func (r *fakeRadio) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectCalls
}

func (r *fakeRadio) link() *fakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLink
}

func testBLEConfig() config.BLE {
	return config.BLE{
		ScanTimeout:      200 * time.Millisecond,
		DeepScanTimeout:  400 * time.Millisecond,
		BondedTimeout:    200 * time.Millisecond,
		ConnectTimeout:   100 * time.Millisecond,
		ReconnectLimit:   3,
		ReconnectDelay:   5 * time.Millisecond,
		DebugLogCapacity: 64,
	}
}

func newTestManager(t *testing.T, radio *fakeRadio) *Manager {
	t.Helper()
	m := NewManager(radio, testBLEConfig(), log.New(io.Discard, "", 0))
	t.Cleanup(m.Shutdown)
	return m
}

func TestManager_ScanDiscoversAndRanks(t *testing.T) {
	radio := &fakeRadio{advertisements: []Advertisement{
		{Address: "AA:00", Name: "HR Strap", RSSI: -40, Services: []string{ServiceUUIDHeartRate}},
		{Address: "BB:00", Name: "Watch", RSSI: -70, Services: []string{ServiceUUIDHeartRate, ServiceUUIDRunningSpeedCadence}},
		{Address: "CC:00", Name: "Lamp", RSSI: -30, Services: []string{"0000180f-0000-1000-8000-00805f9b34fb"}},
	}}
	m := newTestManager(t, radio)
	require.NoError(t, m.Enable())

	m.StartScan()
	assert.Equal(t, PhaseScanning, m.State().Phase)

	assert.Eventually(t, func() bool {
		return len(m.RankedDevices()) == 2
	}, time.Second, 5*time.Millisecond)

	devices := m.RankedDevices()
	// The dual-capability watch ranks above the stronger-signal strap; the
	// lamp never qualifies.
	assert.Equal(t, "BB:00", devices[0].Address)
	assert.Equal(t, "AA:00", devices[1].Address)

	// The scan window elapses back to disconnected
	assert.Eventually(t, func() bool {
		return m.State().Phase == PhaseDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ConnectAndTelemetry(t *testing.T) {
	radio := &fakeRadio{advertisements: []Advertisement{
		{Address: "AA:00", Name: "HR Strap", RSSI: -40, Services: []string{ServiceUUIDHeartRate, ServiceUUIDRunningSpeedCadence}},
	}}
	m := newTestManager(t, radio)
	require.NoError(t, m.Enable())

	telemetryCh := make(chan Telemetry, 32)
	defer m.ListenToTelemetry(telemetryCh)()

	m.StartScan()
	m.Connect("AA:00")
	require.Equal(t, PhaseConnected, m.State().Phase)
	assert.Equal(t, "AA:00", m.State().Address)

	link := radio.link()
	require.NotNil(t, link)
	link.notify(ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement, []byte{0x00, 150})
	link.notify(ServiceUUIDRunningSpeedCadence, CharUUIDRSCMeasurement, []byte{0x00, 0x00, 0x03, 85})

	var got []Telemetry
	for len(got) < 2 {
		select {
		case sample := <-telemetryCh:
			got = append(got, sample)
		case <-time.After(time.Second):
			t.Fatal("Timeout waiting for telemetry")
		}
	}
	assert.Equal(t, TelemetryHeartRate, got[0].Kind)
	assert.Equal(t, 150.0, got[0].Value)
	assert.Equal(t, TelemetryCadence, got[1].Kind)
	assert.Equal(t, 170.0, got[1].Value)
}

func TestManager_ConnectFailure(t *testing.T) {
	radio := &fakeRadio{connectErrs: []error{errors.New("no route")}}
	m := newTestManager(t, radio)
	require.NoError(t, m.Enable())

	m.StartScan()
	m.Connect("AA:00")

	state := m.State()
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.Equal(t, FailConnectTimeout, state.Reason)
}

func TestManager_ReconnectExhaustsToFailed(t *testing.T) {
	radio := &fakeRadio{connectErrs: []error{
		nil, // initial connect succeeds
		errors.New("gone"), errors.New("gone"), errors.New("gone"),
	}}
	m := newTestManager(t, radio)
	require.NoError(t, m.Enable())

	stateCh := make(chan ConnectionState, 32)
	defer m.ListenToState(stateCh)()

	m.StartScan()
	m.Connect("AA:00")
	require.Equal(t, PhaseConnected, m.State().Phase)

	radio.dropLink("AA:00")

	assert.Eventually(t, func() bool {
		return m.State().Phase == PhaseFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, FailLinkLost, m.State().Reason)
	// Initial connect plus exactly the allowed reconnect attempts
	assert.Equal(t, 4, radio.calls())

	// Every attempt number was published on the way down
	attempts := make(map[int]bool)
	for {
		select {
		case s := <-stateCh:
			if s.Phase == PhaseReconnecting {
				attempts[s.Attempt] = true
			}
		default:
			assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, attempts)
			return
		}
	}
}

func TestManager_ReconnectRecovers(t *testing.T) {
	radio := &fakeRadio{connectErrs: []error{
		nil, // initial connect
		errors.New("gone"), // first retry fails, second succeeds
	}}
	m := newTestManager(t, radio)
	require.NoError(t, m.Enable())

	m.StartScan()
	m.Connect("AA:00")
	require.Equal(t, PhaseConnected, m.State().Phase)

	radio.dropLink("AA:00")

	assert.Eventually(t, func() bool {
		return m.State().Phase == PhaseConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, radio.calls())
}

func TestManager_DisconnectWinsOverReconnect(t *testing.T) {
	radio := &fakeRadio{connectErrs: []error{
		nil,
		errors.New("gone"), errors.New("gone"), errors.New("gone"),
	}}
	m := NewManager(radio, config.BLE{
		ScanTimeout:      200 * time.Millisecond,
		ConnectTimeout:   100 * time.Millisecond,
		ReconnectLimit:   3,
		ReconnectDelay:   500 * time.Millisecond, // long enough to cut in
		DebugLogCapacity: 64,
	}, log.New(io.Discard, "", 0))
	t.Cleanup(m.Shutdown)
	require.NoError(t, m.Enable())

	m.StartScan()
	m.Connect("AA:00")
	require.Equal(t, PhaseConnected, m.State().Phase)

	radio.dropLink("AA:00")
	assert.Eventually(t, func() bool {
		return m.State().Phase == PhaseReconnecting
	}, time.Second, 5*time.Millisecond)

	m.Disconnect()
	assert.Eventually(t, func() bool {
		return m.State().Phase == PhaseDisconnected
	}, time.Second, 5*time.Millisecond)

	// The loop stopped before burning its remaining attempts
	assert.Less(t, radio.calls(), 4)
}

func TestManager_UserDisconnectDoesNotReconnect(t *testing.T) {
	radio := &fakeRadio{}
	m := newTestManager(t, radio)
	require.NoError(t, m.Enable())

	m.StartScan()
	m.Connect("AA:00")
	require.Equal(t, PhaseConnected, m.State().Phase)

	m.Disconnect()
	assert.Eventually(t, func() bool {
		return m.State().Phase == PhaseDisconnected
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, PhaseDisconnected, m.State().Phase)
	assert.Equal(t, 1, radio.calls())
}

func TestManager_EnableFailureMapsReason(t *testing.T) {
	radio := &fakeRadio{enableErr: errors.New("permission denied by policy")}
	m := newTestManager(t, radio)

	err := m.Enable()
	require.Error(t, err)
	state := m.State()
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.Equal(t, FailPermissionDenied, state.Reason)
}

func TestManager_FindBondedDeviceConnects(t *testing.T) {
	radio := &fakeRadio{advertisements: []Advertisement{
		{Address: "AA:00", Name: "Other", RSSI: -40, Services: []string{ServiceUUIDHeartRate}},
		{Address: "BB:00", Name: "Mine", RSSI: -50, Services: []string{ServiceUUIDHeartRate}},
	}}
	m := newTestManager(t, radio)
	require.NoError(t, m.Enable())

	m.FindBondedDevice("BB:00")

	assert.Eventually(t, func() bool {
		s := m.State()
		return s.Phase == PhaseConnected && s.Address == "BB:00"
	}, time.Second, 5*time.Millisecond)
}
