package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable for the interval coach. Values come from
// (highest precedence first) command-line flags, INTERVAL_COACH_* environment
// variables, the config file, and the built-in defaults.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	LogFile string `mapstructure:"log_file"`

	BLE     BLE     `mapstructure:"ble"`
	Fusion  Fusion  `mapstructure:"fusion"`
	Coach   Coach   `mapstructure:"coach"`
	Scoring Scoring `mapstructure:"scoring"`
}

// BLE covers the peripheral connectivity machine.
type BLE struct {
	ScanTimeout      time.Duration `mapstructure:"scan_timeout"`
	DeepScanTimeout  time.Duration `mapstructure:"deep_scan_timeout"`
	BondedTimeout    time.Duration `mapstructure:"bonded_timeout"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReconnectLimit   int           `mapstructure:"reconnect_limit"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	DebugLogCapacity int           `mapstructure:"debug_log_capacity"`
}

// Fusion covers the telemetry fusion thresholds.
type Fusion struct {
	PeripheralStaleness time.Duration `mapstructure:"peripheral_staleness"`
	MinCadenceSPM       int           `mapstructure:"min_cadence_spm"`
	MaxCadenceSPM       int           `mapstructure:"max_cadence_spm"`
	PaceMinInterval     time.Duration `mapstructure:"pace_min_interval"`
	PaceMinDistance     float64       `mapstructure:"pace_min_distance"`
	PaceFloor           float64       `mapstructure:"pace_floor"`
	PaceCeiling         float64       `mapstructure:"pace_ceiling"`
}

// Coach covers the announcement rate limits and deviation gates.
type Coach struct {
	AnnounceInterval    time.Duration `mapstructure:"announce_interval"`
	MaintainInterval    time.Duration `mapstructure:"maintain_interval"`
	MinCadenceDeviation float64       `mapstructure:"min_cadence_deviation"`
	MinPaceDeviation    float64       `mapstructure:"min_pace_deviation"`
	TimeWarningSeconds  []int         `mapstructure:"time_warning_seconds"`
}

// Scoring covers the composite-score constants. The reference speed and pace
// normalization bounds are deliberately configuration, not constants; see the
// design notes before changing the weights.
type Scoring struct {
	ZoneWeight       float64 `mapstructure:"zone_weight"`
	PaceWeight       float64 `mapstructure:"pace_weight"`
	CompletionWeight float64 `mapstructure:"completion_weight"`
	DistanceWeight   float64 `mapstructure:"distance_weight"`
	PaceBaseline     float64 `mapstructure:"pace_baseline"`      // sec/km yielding paceScore 100 at PaceBaseline-300
	PaceDivisor      float64 `mapstructure:"pace_divisor"`
	NeutralPaceScore float64 `mapstructure:"neutral_pace_score"` // used when a session has no pace data
	ReferenceSpeed   float64 `mapstructure:"reference_speed"`    // m/s, distance score normalization
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".interval-coach")
}

func setDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("log_file", filepath.Join(dataDir, "interval-coach.log"))

	v.SetDefault("ble.scan_timeout", 10*time.Second)
	v.SetDefault("ble.deep_scan_timeout", 60*time.Second)
	v.SetDefault("ble.bonded_timeout", 5*time.Second)
	v.SetDefault("ble.connect_timeout", 10*time.Second)
	v.SetDefault("ble.reconnect_limit", 3)
	v.SetDefault("ble.reconnect_delay", 2*time.Second)
	v.SetDefault("ble.debug_log_capacity", 256)

	v.SetDefault("fusion.peripheral_staleness", 5*time.Second)
	v.SetDefault("fusion.min_cadence_spm", 60)
	v.SetDefault("fusion.max_cadence_spm", 220)
	v.SetDefault("fusion.pace_min_interval", 5*time.Second)
	v.SetDefault("fusion.pace_min_distance", 5.0)
	v.SetDefault("fusion.pace_floor", 120.0)
	v.SetDefault("fusion.pace_ceiling", 900.0)

	v.SetDefault("coach.announce_interval", 15*time.Second)
	v.SetDefault("coach.maintain_interval", 30*time.Second)
	v.SetDefault("coach.min_cadence_deviation", 5.0)
	v.SetDefault("coach.min_pace_deviation", 10.0)
	v.SetDefault("coach.time_warning_seconds", []int{10, 3})

	v.SetDefault("scoring.zone_weight", 0.4)
	v.SetDefault("scoring.pace_weight", 0.3)
	v.SetDefault("scoring.completion_weight", 0.2)
	v.SetDefault("scoring.distance_weight", 0.1)
	v.SetDefault("scoring.pace_baseline", 480.0)
	v.SetDefault("scoring.pace_divisor", 3.0)
	v.SetDefault("scoring.neutral_pace_score", 50.0)
	v.SetDefault("scoring.reference_speed", 3.0)
}

// Load reads the configuration from file/env/flags. flags may be nil when the
// caller has no command line (tests).
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultDataDir())
	v.AddConfigPath(".")
	v.SetEnvPrefix("INTERVAL_COACH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in defaults without touching disk or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal over pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
