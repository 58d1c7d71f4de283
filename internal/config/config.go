// Package config loads and validates the adapter configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Adapter AdapterConfig `yaml:"adapter"`
	Poll    PollConfig    `yaml:"poll"`
}

// AdapterConfig maps onto the DS2490 mode registers. Pointer fields are
// opt-in: a nil field leaves the register at its power-on value.
type AdapterConfig struct {
	Speed        string `yaml:"speed"` // regular, flexible or overdrive
	SpeedChange  bool   `yaml:"speed_change"`
	StrongPullup bool   `yaml:"strong_pullup"`
	ProgPulse    bool   `yaml:"prog_pulse"`

	PullupDurationMs int `yaml:"pullup_duration_ms"` // units of 16 ms
	ProgPulseUs      int `yaml:"prog_pulse_us"`      // units of 8 µs

	SlewRate       *int `yaml:"slew_rate"`        // code 0..7
	Write1LowUs    *int `yaml:"write1_low_us"`    // 8..23
	SampleOffsetUs *int `yaml:"sample_offset_us"` // 3..18
}

// PollConfig tunes how the driver polls the adapter status while waiting for
// bus operations.
type PollConfig struct {
	IntervalUs  int `yaml:"interval_us"`
	MaxAttempts int `yaml:"max_attempts"` // 0 polls without bound
}

// Load reads and parses the configuration file. The result is not yet
// validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}
