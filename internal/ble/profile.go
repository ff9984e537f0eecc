package ble

// Bluetooth Service and Characteristic UUIDs for run training peripherals
const (
	// Heart Rate Service
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	// Running Speed and Cadence Service (RSC)
	ServiceUUIDRunningSpeedCadence = "00001814-0000-1000-8000-00805f9b34fb"
	CharUUIDRSCMeasurement         = "00002a53-0000-1000-8000-00805f9b34fb"
)

// TelemetryKind identifies one of the live channels streamed while connected.
type TelemetryKind int

const (
	TelemetryHeartRate TelemetryKind = iota // BPM
	TelemetryCadence                        // steps per minute
	TelemetryDistance                       // cumulative meters, from RSC total distance
)

func (k TelemetryKind) String() string {
	switch k {
	case TelemetryHeartRate:
		return "heart_rate"
	case TelemetryCadence:
		return "cadence"
	case TelemetryDistance:
		return "distance"
	default:
		return "unknown"
	}
}
