package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10*time.Second, cfg.BLE.ScanTimeout)
	assert.Equal(t, 3, cfg.BLE.ReconnectLimit)
	assert.Equal(t, 2*time.Second, cfg.BLE.ReconnectDelay)

	assert.Equal(t, 5*time.Second, cfg.Fusion.PeripheralStaleness)
	assert.Equal(t, 60, cfg.Fusion.MinCadenceSPM)
	assert.Equal(t, 220, cfg.Fusion.MaxCadenceSPM)
	assert.Equal(t, 120.0, cfg.Fusion.PaceFloor)
	assert.Equal(t, 900.0, cfg.Fusion.PaceCeiling)

	assert.Equal(t, 15*time.Second, cfg.Coach.AnnounceInterval)
	assert.Equal(t, 30*time.Second, cfg.Coach.MaintainInterval)
	assert.Equal(t, []int{10, 3}, cfg.Coach.TimeWarningSeconds)

	weights := cfg.Scoring.ZoneWeight + cfg.Scoring.PaceWeight +
		cfg.Scoring.CompletionWeight + cfg.Scoring.DistanceWeight
	assert.InDelta(t, 1.0, weights, 1e-9)
}

func TestLoadWithoutFlags(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, Default().BLE.ScanTimeout, cfg.BLE.ScanTimeout)
}

func TestLoadFlagOverride(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Duration("ble.scan_timeout", 0, "")
	require.NoError(t, flags.Parse([]string{"--ble.scan_timeout=3s"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.BLE.ScanTimeout)
}
