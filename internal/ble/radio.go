package ble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// Advertisement is one observation of a peripheral during a scan.
type Advertisement struct {
	Address  string
	Name     string
	RSSI     int16
	Services []string
}

// Link is an established connection to a peripheral.
type Link interface {
	Address() string
	// Subscribe enables notifications on a characteristic. The callback runs
	// on the radio stack's thread; keep it cheap.
	Subscribe(serviceUUID, charUUID string, cb func(buf []byte)) error
	Disconnect() error
}

// Radio abstracts the BLE adapter so the connectivity machine can be driven by
// a fake in tests. Scan blocks until ctx is done, pushing advertisements into
// the channel. Connect only accepts addresses observed during a scan.
type Radio interface {
	Enable() error
	Scan(ctx context.Context, results chan<- Advertisement) error
	Connect(ctx context.Context, address string) (Link, error)
	// SetDisconnectHandler installs the callback fired when an established
	// link drops for any reason, including a requested disconnect.
	SetDisconnectHandler(cb func(address string))
}

// Verify the real radio satisfies the interface
var _ Radio = (*bluetoothRadio)(nil)

var errUnknownDevice = errors.New("device not seen in any scan")

// bluetoothRadio adapts tinygo.org/x/bluetooth to the Radio interface.
type bluetoothRadio struct {
	adapter *bluetooth.Adapter
	logger  *log.Logger

	mu               sync.Mutex
	addrByString     map[string]bluetooth.Address
	onDisconnect     func(address string)
	handlerInstalled bool
}

func NewBluetoothRadio(adapter *bluetooth.Adapter, logger *log.Logger) Radio {
	if adapter == nil {
		panic("bluetoothRadio: adapter cannot be nil")
	}
	if logger == nil {
		panic("bluetoothRadio: logger cannot be nil")
	}
	return &bluetoothRadio{
		adapter:      adapter,
		logger:       logger,
		addrByString: make(map[string]bluetooth.Address),
	}
}

func (r *bluetoothRadio) Enable() error {
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("enable BLE stack: %w", err)
	}
	return nil
}

func (r *bluetoothRadio) SetDisconnectHandler(cb func(address string)) {
	r.mu.Lock()
	r.onDisconnect = cb
	installed := r.handlerInstalled
	r.handlerInstalled = true
	r.mu.Unlock()

	if installed {
		return
	}
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		r.logger.Printf("Radio: link dropped: %s", addr)
		r.mu.Lock()
		handler := r.onDisconnect
		r.mu.Unlock()
		if handler != nil {
			handler(addr)
		}
	})
}

func (r *bluetoothRadio) Scan(ctx context.Context, results chan<- Advertisement) error {
	// adapter.Scan blocks; watch the context from the side and stop the
	// adapter when it is done, which unblocks the Scan call.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := r.adapter.StopScan(); err != nil {
				r.logger.Printf("Radio: StopScan: %v", err)
			}
		case <-done:
		}
	}()

	err := r.adapter.Scan(func(adapter *bluetooth.Adapter, device bluetooth.ScanResult) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		addrStr := device.Address.String()
		r.mu.Lock()
		r.addrByString[addrStr] = device.Address
		r.mu.Unlock()

		services := make([]string, 0)
		for _, uuid := range device.ServiceUUIDs() {
			services = append(services, strings.ToLower(uuid.String()))
		}

		adv := Advertisement{
			Address:  addrStr,
			Name:     device.LocalName(),
			RSSI:     device.RSSI,
			Services: services,
		}
		select {
		case results <- adv:
		default:
			// Scan callbacks outpace the consumer; dropping an advertisement
			// is harmless, the device will advertise again.
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

func (r *bluetoothRadio) Connect(ctx context.Context, address string) (Link, error) {
	r.mu.Lock()
	addr, ok := r.addrByString[address]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownDevice, address)
	}

	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	resultChan := make(chan connectResult, 1)
	go func() {
		device, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		resultChan <- connectResult{device: device, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.err != nil {
			return nil, fmt.Errorf("connect %s: %w", address, res.err)
		}
		return newBluetoothLink(res.device, address, r.logger), nil
	}
}

// bluetoothLink wraps a connected bluetooth.Device. Service and characteristic
// discovery is done once and cached; discovering a single service repeatedly
// can interrupt an earlier in-use service on some stacks.
type bluetoothLink struct {
	device  bluetooth.Device
	address string
	logger  *log.Logger

	mu             sync.Mutex
	charByUUID     map[string]*bluetooth.DeviceCharacteristic
	servicesLoaded bool
	serviceByUUID  map[string]*bluetooth.DeviceService
}

func newBluetoothLink(device bluetooth.Device, address string, logger *log.Logger) *bluetoothLink {
	return &bluetoothLink{
		device:        device,
		address:       address,
		logger:        logger,
		charByUUID:    make(map[string]*bluetooth.DeviceCharacteristic),
		serviceByUUID: make(map[string]*bluetooth.DeviceService),
	}
}

func (l *bluetoothLink) Address() string { return l.address }

func (l *bluetoothLink) Disconnect() error {
	return l.device.Disconnect()
}

func (l *bluetoothLink) Subscribe(serviceUUIDStr, charUUIDStr string, cb func(buf []byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	char, err := l.characteristic(serviceUUIDStr, charUUIDStr)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(cb); err != nil {
		return fmt.Errorf("enable notifications %s: %w", charUUIDStr, err)
	}
	return nil
}

// characteristic resolves a characteristic, discovering and caching as needed.
// Must be called with mu held.
func (l *bluetoothLink) characteristic(serviceUUIDStr, charUUIDStr string) (*bluetooth.DeviceCharacteristic, error) {
	key := serviceUUIDStr + "_" + charUUIDStr
	if char, ok := l.charByUUID[key]; ok {
		return char, nil
	}

	if !l.servicesLoaded {
		services, err := l.device.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("discover services: %w", err)
		}
		for i := range services {
			svc := &services[i]
			l.serviceByUUID[strings.ToLower(svc.UUID().String())] = svc
		}
		l.servicesLoaded = true
	}

	svc, ok := l.serviceByUUID[strings.ToLower(serviceUUIDStr)]
	if !ok {
		return nil, fmt.Errorf("service %s not found on device", serviceUUIDStr)
	}

	charUUID, err := bluetooth.ParseUUID(charUUIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", charUUIDStr, err)
	}
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return nil, fmt.Errorf("discover characteristics for %s: %w", serviceUUIDStr, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not found in service %s", charUUIDStr, serviceUUIDStr)
	}
	char := &chars[0]
	l.charByUUID[key] = char
	return char, nil
}
