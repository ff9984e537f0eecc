package ble

import "fmt"

// HeartRateMeasurement is one decoded Heart Rate Measurement notification.
type HeartRateMeasurement struct {
	BPM              int
	SensorContactOK  bool
	HasSensorContact bool
}

// RSCMeasurement is one decoded Running Speed and Cadence notification.
// Speed is in m/s, TotalDistance in meters when present.
type RSCMeasurement struct {
	Speed            float64
	CadenceSPM       int
	HasTotalDistance bool
	TotalDistance    float64
}

// ParseHeartRateMeasurement parses heart rate measurement characteristic data
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
func ParseHeartRateMeasurement(buf []byte) (HeartRateMeasurement, error) {
	if len(buf) < 2 {
		return HeartRateMeasurement{}, fmt.Errorf("heart rate data too short: %d bytes", len(buf))
	}

	flags := buf[0]
	// Bit 0: 0 = UINT8, 1 = UINT16
	isUint16 := (flags & 0x01) != 0
	// Bits 1-2: sensor contact status
	hasContact := (flags & 0x04) != 0
	contactOK := (flags & 0x02) != 0

	var heartRate uint16
	if isUint16 {
		if len(buf) < 3 {
			return HeartRateMeasurement{}, fmt.Errorf("heart rate UINT16 data too short: %d bytes", len(buf))
		}
		heartRate = uint16(buf[1]) | (uint16(buf[2]) << 8)
	} else {
		heartRate = uint16(buf[1])
	}

	return HeartRateMeasurement{
		BPM:              int(heartRate),
		HasSensorContact: hasContact,
		SensorContactOK:  contactOK,
	}, nil
}

// ParseRSCMeasurement parses Running Speed and Cadence measurement characteristic data
// See: https://www.bluetooth.com/specifications/specs/running-speed-and-cadence-service-1-0/
// Unlike CSC, cadence here is instantaneous, no crank-revolution delta needed.
func ParseRSCMeasurement(buf []byte) (RSCMeasurement, error) {
	if len(buf) < 4 {
		return RSCMeasurement{}, fmt.Errorf("RSC data too short: %d bytes", len(buf))
	}

	flags := buf[0]
	// Bit 0: Instantaneous Stride Length Present
	// Bit 1: Total Distance Present
	// Bit 2: Walking or Running status (ignored)
	hasStrideLength := (flags & 0x01) != 0
	hasTotalDistance := (flags & 0x02) != 0

	// Instantaneous Speed (UINT16, 1/256 m/s resolution)
	speedRaw := uint16(buf[1]) | (uint16(buf[2]) << 8)
	// Instantaneous Cadence (UINT8, strides per minute; doubled for steps)
	strideCadence := buf[3]

	result := RSCMeasurement{
		Speed:      float64(speedRaw) / 256.0,
		CadenceSPM: int(strideCadence) * 2,
	}

	offset := 4
	if hasStrideLength {
		// Instantaneous Stride Length (UINT16, centimeters) is unused here
		offset += 2
	}
	if hasTotalDistance {
		if offset+4 > len(buf) {
			return RSCMeasurement{}, fmt.Errorf("RSC data too short for total distance at offset %d", offset)
		}
		// Total Distance (UINT32, 1/10 meter resolution)
		distRaw := uint32(buf[offset]) | (uint32(buf[offset+1]) << 8) |
			(uint32(buf[offset+2]) << 16) | (uint32(buf[offset+3]) << 24)
		result.HasTotalDistance = true
		result.TotalDistance = float64(distRaw) / 10.0
	}

	return result, nil
}
