package ble

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonbondani/interval-pro-sub001/internal/config"
	"github.com/jonbondani/interval-pro-sub001/internal/events"
	"github.com/jonbondani/interval-pro-sub001/internal/go_func_utils"
)

// Device is one discovered peripheral as shown to the rest of the app.
type Device struct {
	Address      string
	Name         string
	RSSI         int16
	HasHeartRate bool
	HasCadence   bool
	LastSeen     time.Time
}

// Telemetry is one live sample from the connected peripheral.
type Telemetry struct {
	Kind  TelemetryKind
	Value float64
	At    time.Time
}

// ManagerInterface defines the interface for the peripheral connectivity machine
type ManagerInterface interface {
	Enable() error
	StartScan()
	DeepScan()
	FindBondedDevice(address string)
	StopScan()
	Connect(address string)
	Disconnect()
	State() ConnectionState
	RankedDevices() []Device
	ListenToState(ch chan<- ConnectionState) func()
	ListenToDeviceList(ch chan<- []Device) func()
	ListenToTelemetry(ch chan<- Telemetry) func()
	DebugTail(n int) []string
	Shutdown()
}

// Verify Manager implements ManagerInterface
var _ ManagerInterface = (*Manager)(nil)

// Manager owns the connection state machine. All phase changes funnel through
// setState, which enforces the transition table and publishes the new state.
type Manager struct {
	radio  Radio
	cfg    config.BLE
	logger *log.Logger
	debug  *DebugLog

	mu             sync.RWMutex
	state          ConnectionState
	devices        map[string]Device
	link           Link
	scanCancel     context.CancelFunc
	connCancel     context.CancelFunc
	userDisconnect bool

	stateEvent      *events.ChannelEvent[ConnectionState]
	deviceListEvent *events.ChannelEvent[[]Device]
	telemetryEvent  *events.ChannelEvent[Telemetry]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(radio Radio, cfg config.BLE, logger *log.Logger) *Manager {
	if radio == nil {
		panic("Manager: radio cannot be nil")
	}
	if logger == nil {
		panic("Manager: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		radio:           radio,
		cfg:             cfg,
		logger:          logger,
		debug:           NewDebugLog(cfg.DebugLogCapacity),
		state:           ConnectionState{Phase: PhaseDisconnected},
		devices:         make(map[string]Device),
		stateEvent:      events.NewChannelEvent[ConnectionState](true),
		deviceListEvent: events.NewChannelEvent[[]Device](true),
		telemetryEvent:  events.NewChannelEvent[Telemetry](false),
		ctx:             ctx,
		cancel:          cancel,
	}
	radio.SetDisconnectHandler(m.handleLinkDrop)
	return m
}

func (m *Manager) Enable() error {
	err := m.radio.Enable()
	if err == nil {
		return nil
	}
	reason := FailRadioUnavailable
	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		reason = FailPermissionDenied
	}
	m.mu.Lock()
	// Enable failure short-circuits the machine before the first scan; this
	// is the one place a failed state is entered without a prior transition.
	m.state = ConnectionState{Phase: PhaseFailed, Reason: reason}
	m.mu.Unlock()
	m.debug.Append("enable failed: %v", err)
	m.stateEvent.Notify(m.State())
	return err
}

// setState applies a transition if the table allows it. Rejected transitions
// are logged and dropped rather than applied; the machine never enters a
// state the table does not permit.
func (m *Manager) setState(next ConnectionState) bool {
	m.mu.Lock()
	prev := m.state
	if !transitionAllowed(prev.Phase, next.Phase) {
		m.mu.Unlock()
		m.logger.Printf("Manager: rejected transition %s -> %s", prev, next)
		m.debug.Append("rejected transition %s -> %s", prev, next)
		return false
	}
	m.state = next
	m.mu.Unlock()

	m.debug.Append("%s -> %s", prev, next)
	m.stateEvent.Notify(next)
	return true
}

func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StartScan runs a discovery scan for the standard scan window.
func (m *Manager) StartScan() {
	m.scan(m.cfg.ScanTimeout, "")
}

// DeepScan runs a longer discovery scan for peripherals that advertise
// infrequently.
func (m *Manager) DeepScan() {
	m.scan(m.cfg.DeepScanTimeout, "")
}

// FindBondedDevice scans for a single known address and connects as soon as
// it is seen. Times out back to disconnected if it never shows up.
func (m *Manager) FindBondedDevice(address string) {
	m.scan(m.cfg.BondedTimeout, address)
}

func (m *Manager) scan(timeout time.Duration, targetAddress string) {
	if !m.setState(ConnectionState{Phase: PhaseScanning}) {
		return
	}

	m.mu.Lock()
	if m.scanCancel != nil {
		m.logger.Printf("Manager: a scan is already running, restarting")
		m.scanCancel()
	}
	scanCtx, scanCancel := context.WithTimeout(m.ctx, timeout)
	m.scanCancel = scanCancel
	m.devices = make(map[string]Device)
	m.mu.Unlock()

	results := make(chan Advertisement, 32)

	// Scan driver: blocks until the context expires or is cancelled.
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		defer m.logger.Printf("exiting radio scan loop")
		if err := m.radio.Scan(scanCtx, results); err != nil {
			m.logger.Printf("Manager: scan error: %v", err)
			m.debug.Append("scan error: %v", err)
		}
	})

	// Result consumer: maintains the discovered-device map.
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		defer m.logger.Printf("exiting scan result loop")
		for {
			select {
			case <-scanCtx.Done():
				return
			case adv := <-results:
				m.handleAdvertisement(scanCtx, adv, targetAddress)
			}
		}
	})

	// Emit the current ranked list every second while scanning.
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		defer m.logger.Printf("exiting scan emit ticker loop")
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-scanCtx.Done():
				m.finishScan(scanCtx)
				return
			case <-ticker.C:
				m.deviceListEvent.Notify(m.RankedDevices())
			}
		}
	})
}

func (m *Manager) handleAdvertisement(scanCtx context.Context, adv Advertisement, targetAddress string) {
	hasHR, hasCadence := false, false
	for _, svc := range adv.Services {
		switch svc {
		case ServiceUUIDHeartRate:
			hasHR = true
		case ServiceUUIDRunningSpeedCadence:
			hasCadence = true
		}
	}
	if !hasHR && !hasCadence {
		return
	}

	name := adv.Name
	if name == "" {
		name = "Unknown"
	}

	m.mu.Lock()
	_, seen := m.devices[adv.Address]
	m.devices[adv.Address] = Device{
		Address:      adv.Address,
		Name:         name,
		RSSI:         adv.RSSI,
		HasHeartRate: hasHR,
		HasCadence:   hasCadence,
		LastSeen:     time.Now(),
	}
	m.mu.Unlock()

	if !seen {
		m.logger.Printf("Found device: %s (%s) [RSSI: %d]", name, adv.Address, adv.RSSI)
		m.debug.Append("found %s (%s) rssi=%d hr=%v cad=%v", name, adv.Address, adv.RSSI, hasHR, hasCadence)
	}

	if targetAddress != "" && adv.Address == targetAddress {
		m.logger.Printf("Manager: bonded device %s seen, connecting", targetAddress)
		m.wg.Add(1)
		go_func_utils.SafeGo(m.logger, func() {
			defer m.wg.Done()
			m.Connect(targetAddress)
		})
	}
}

// finishScan runs once when a scan context ends. If the machine is still
// scanning at that point nothing was selected, so fall back to disconnected.
func (m *Manager) finishScan(scanCtx context.Context) {
	m.deviceListEvent.Notify(m.RankedDevices())

	m.mu.Lock()
	stillScanning := m.state.Phase == PhaseScanning
	m.scanCancel = nil
	m.mu.Unlock()

	if stillScanning && scanCtx.Err() == context.DeadlineExceeded {
		m.debug.Append("scan window elapsed with nothing selected")
		m.setState(ConnectionState{Phase: PhaseDisconnected})
	}
}

func (m *Manager) StopScan() {
	m.mu.Lock()
	cancel := m.scanCancel
	m.scanCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if m.State().Phase == PhaseScanning {
		m.setState(ConnectionState{Phase: PhaseDisconnected})
	}
}

// RankedDevices returns discovered peripherals ordered by usefulness: both
// services beat one, then stronger signal wins.
func (m *Manager) RankedDevices() []Device {
	m.mu.RLock()
	result := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		result = append(result, d)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		ci, cj := capabilityCount(result[i]), capabilityCount(result[j])
		if ci != cj {
			return ci > cj
		}
		if result[i].RSSI != result[j].RSSI {
			return result[i].RSSI > result[j].RSSI
		}
		return result[i].Address < result[j].Address
	})
	return result
}

func capabilityCount(d Device) int {
	n := 0
	if d.HasHeartRate {
		n++
	}
	if d.HasCadence {
		n++
	}
	return n
}

// Connect attempts to connect to a scanned peripheral. Runs synchronously up
// to the connect timeout; outcome is published through the state event.
func (m *Manager) Connect(address string) {
	m.StopScanForConnect()
	if !m.setState(ConnectionState{Phase: PhaseConnecting, Address: address}) {
		return
	}

	m.mu.Lock()
	m.userDisconnect = false
	connCtx, connCancel := context.WithCancel(m.ctx)
	m.connCancel = connCancel
	m.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(connCtx, m.cfg.ConnectTimeout)
	defer dialCancel()

	link, err := m.radio.Connect(dialCtx, address)
	if err != nil {
		if connCtx.Err() != nil {
			// Cancelled by Disconnect or Shutdown, not a failure.
			m.setState(ConnectionState{Phase: PhaseDisconnected})
			return
		}
		m.logger.Printf("Manager: connect %s failed: %v", address, err)
		m.debug.Append("connect %s failed: %v", address, err)
		m.setState(ConnectionState{Phase: PhaseFailed, Reason: FailConnectTimeout, Address: address})
		return
	}

	m.attachLink(link)
	m.setState(ConnectionState{Phase: PhaseConnected, Address: address})
}

// StopScanForConnect cancels any running scan without touching the phase;
// the caller is about to transition to connecting itself.
func (m *Manager) StopScanForConnect() {
	m.mu.Lock()
	cancel := m.scanCancel
	m.scanCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) attachLink(link Link) {
	m.mu.Lock()
	m.link = link
	m.mu.Unlock()

	if err := link.Subscribe(ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement, m.handleHeartRateNotification); err != nil {
		m.logger.Printf("Manager: heart rate subscribe: %v", err)
		m.debug.Append("heart rate subscribe failed: %v", err)
	}
	if err := link.Subscribe(ServiceUUIDRunningSpeedCadence, CharUUIDRSCMeasurement, m.handleRSCNotification); err != nil {
		m.logger.Printf("Manager: RSC subscribe: %v", err)
		m.debug.Append("RSC subscribe failed: %v", err)
	}
}

func (m *Manager) handleHeartRateNotification(buf []byte) {
	measurement, err := ParseHeartRateMeasurement(buf)
	if err != nil {
		m.logger.Printf("Manager: heart rate parse error: %v (raw: %v)", err, buf)
		m.debug.Append("heart rate parse error: %v", err)
		return
	}
	m.telemetryEvent.Notify(Telemetry{
		Kind:  TelemetryHeartRate,
		Value: float64(measurement.BPM),
		At:    time.Now(),
	})
}

func (m *Manager) handleRSCNotification(buf []byte) {
	measurement, err := ParseRSCMeasurement(buf)
	if err != nil {
		m.logger.Printf("Manager: RSC parse error: %v (raw: %v)", err, buf)
		m.debug.Append("RSC parse error: %v", err)
		return
	}
	now := time.Now()
	m.telemetryEvent.Notify(Telemetry{
		Kind:  TelemetryCadence,
		Value: float64(measurement.CadenceSPM),
		At:    now,
	})
	if measurement.HasTotalDistance {
		m.telemetryEvent.Notify(Telemetry{
			Kind:  TelemetryDistance,
			Value: measurement.TotalDistance,
			At:    now,
		})
	}
}

// handleLinkDrop fires from the radio when an established link goes away. A
// drop the user asked for lands in disconnected; anything else starts the
// bounded reconnect loop.
func (m *Manager) handleLinkDrop(address string) {
	m.mu.Lock()
	requested := m.userDisconnect
	current := m.state
	connCtx := m.ctx
	if !requested {
		// Fresh context chained onto the old one so Disconnect still cuts in.
		connCtx = m.connContext()
	}
	m.link = nil
	m.mu.Unlock()

	if current.Phase != PhaseConnected && current.Phase != PhaseReconnecting {
		return
	}
	if requested {
		m.setState(ConnectionState{Phase: PhaseDisconnected})
		return
	}

	m.logger.Printf("Manager: link to %s lost, reconnecting", address)
	m.debug.Append("link lost: %s", address)
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		m.reconnectLoop(connCtx, address)
	})
}

// connContext returns a context cancelled by Disconnect. Must be called with
// mu held.
func (m *Manager) connContext() context.Context {
	ctx, cancel := context.WithCancel(m.ctx)
	prev := m.connCancel
	m.connCancel = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}
	return ctx
}

func (m *Manager) reconnectLoop(ctx context.Context, address string) {
	for attempt := 1; attempt <= m.cfg.ReconnectLimit; attempt++ {
		if !m.setState(ConnectionState{Phase: PhaseReconnecting, Attempt: attempt, Address: address}) {
			return
		}

		select {
		case <-ctx.Done():
			m.setState(ConnectionState{Phase: PhaseDisconnected})
			return
		case <-time.After(m.cfg.ReconnectDelay):
		}

		dialCtx, dialCancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		link, err := m.radio.Connect(dialCtx, address)
		dialCancel()
		if err == nil {
			m.attachLink(link)
			m.setState(ConnectionState{Phase: PhaseConnected, Address: address})
			return
		}
		if ctx.Err() != nil {
			m.setState(ConnectionState{Phase: PhaseDisconnected})
			return
		}
		m.logger.Printf("Manager: reconnect attempt %d to %s failed: %v", attempt, address, err)
		m.debug.Append("reconnect attempt %d failed: %v", attempt, err)
	}

	m.setState(ConnectionState{Phase: PhaseFailed, Reason: FailLinkLost, Address: address})
}

// Disconnect tears down the current link or abandons an in-flight connect.
// It always wins over a concurrent reconnect loop.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.userDisconnect = true
	cancel := m.connCancel
	m.connCancel = nil
	link := m.link
	m.link = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if link != nil {
		if err := link.Disconnect(); err != nil {
			m.logger.Printf("Manager: disconnect: %v", err)
		}
		// The radio's disconnect handler completes the transition.
		return
	}
	if m.State().Phase != PhaseDisconnected {
		m.setState(ConnectionState{Phase: PhaseDisconnected})
	}
}

// ListenToState registers a channel to receive connection state changes
// The current state is delivered immediately on listen.
// Returns a deregistration function that can be called to remove the listener
func (m *Manager) ListenToState(ch chan<- ConnectionState) func() {
	return m.stateEvent.Listen(ch)
}

// ListenToDeviceList registers a channel to receive ranked device list changes
// Events are debounced to at most once per second during a scan.
// Returns a deregistration function that can be called to remove the listener
func (m *Manager) ListenToDeviceList(ch chan<- []Device) func() {
	return m.deviceListEvent.Listen(ch)
}

// ListenToTelemetry registers a channel to receive live telemetry samples
// Returns a deregistration function that can be called to remove the listener
func (m *Manager) ListenToTelemetry(ch chan<- Telemetry) func() {
	return m.telemetryEvent.Listen(ch)
}

// DebugTail returns the n most recent debug log lines, oldest first.
func (m *Manager) DebugTail(n int) []string {
	return m.debug.Tail(n)
}

// Shutdown stops all goroutines and waits for them to finish
func (m *Manager) Shutdown() {
	m.logger.Println("Manager: Shutting down")
	m.Disconnect()
	m.StopScan()
	m.cancel()
	m.wg.Wait()
	m.logger.Println("Manager: Shutdown complete")
}
