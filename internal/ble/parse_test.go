package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeartRateMeasurement_Uint8(t *testing.T) {
	// Flags 0x00: uint8 value, no sensor contact
	m, err := ParseHeartRateMeasurement([]byte{0x00, 142})
	require.NoError(t, err)
	assert.Equal(t, 142, m.BPM)
	assert.False(t, m.HasSensorContact)
}

func TestParseHeartRateMeasurement_Uint16(t *testing.T) {
	// Flags 0x01: uint16 value. 0x0120 = 288, above any uint8 range
	m, err := ParseHeartRateMeasurement([]byte{0x01, 0x20, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 288, m.BPM)
}

func TestParseHeartRateMeasurement_SensorContact(t *testing.T) {
	// Flags 0x06: contact feature supported, contact detected
	m, err := ParseHeartRateMeasurement([]byte{0x06, 90})
	require.NoError(t, err)
	assert.True(t, m.HasSensorContact)
	assert.True(t, m.SensorContactOK)

	// Flags 0x04: contact feature supported, no contact
	m, err = ParseHeartRateMeasurement([]byte{0x04, 90})
	require.NoError(t, err)
	assert.True(t, m.HasSensorContact)
	assert.False(t, m.SensorContactOK)
}

func TestParseHeartRateMeasurement_TooShort(t *testing.T) {
	_, err := ParseHeartRateMeasurement([]byte{0x00})
	assert.Error(t, err)

	// uint16 flag with only one value byte
	_, err = ParseHeartRateMeasurement([]byte{0x01, 90})
	assert.Error(t, err)
}

func TestParseRSCMeasurement_Basic(t *testing.T) {
	// Flags 0x00, speed 768/256 = 3.0 m/s, stride cadence 85 -> 170 SPM
	m, err := ParseRSCMeasurement([]byte{0x00, 0x00, 0x03, 85})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, m.Speed, 0.001)
	assert.Equal(t, 170, m.CadenceSPM)
	assert.False(t, m.HasTotalDistance)
}

func TestParseRSCMeasurement_WithStrideAndDistance(t *testing.T) {
	// Flags 0x03: stride length and total distance present.
	// Total distance 25000 decimeters = 2500 m.
	buf := []byte{
		0x03,
		0x00, 0x03, // speed
		85,         // cadence
		0x50, 0x00, // stride length, skipped
		0xA8, 0x61, 0x00, 0x00, // 25000
	}
	m, err := ParseRSCMeasurement(buf)
	require.NoError(t, err)
	assert.Equal(t, 170, m.CadenceSPM)
	assert.True(t, m.HasTotalDistance)
	assert.InDelta(t, 2500.0, m.TotalDistance, 0.001)
}

func TestParseRSCMeasurement_TooShort(t *testing.T) {
	_, err := ParseRSCMeasurement([]byte{0x00, 0x00, 0x03})
	assert.Error(t, err)

	// distance flag set but no distance bytes
	_, err = ParseRSCMeasurement([]byte{0x02, 0x00, 0x03, 85})
	assert.Error(t, err)
}
