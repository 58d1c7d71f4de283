package config

import (
	"fmt"

	"github.com/bjanders/1wire/pkg/ds2490"
)

// ParseSpeed maps a configured speed name to the bus timing profile. The
// empty string selects regular speed.
func ParseSpeed(s string) (ds2490.Speed, error) {
	switch s {
	case "", "regular":
		return ds2490.SpeedRegular, nil
	case "flexible":
		return ds2490.SpeedFlexible, nil
	case "overdrive":
		return ds2490.SpeedOverdrive, nil
	}
	return 0, fmt.Errorf("config: unknown speed %q", s)
}

// Validate checks configuration correctness without mutating it.
func Validate(cfg *Config) error {
	a := &cfg.Adapter

	if _, err := ParseSpeed(a.Speed); err != nil {
		return err
	}
	if a.PullupDurationMs < 0 || a.PullupDurationMs > 255*16 {
		return fmt.Errorf("config: pullup_duration_ms %d outside 0..%d", a.PullupDurationMs, 255*16)
	}
	if a.PullupDurationMs%16 != 0 {
		return fmt.Errorf("config: pullup_duration_ms %d is not a multiple of 16", a.PullupDurationMs)
	}
	if a.ProgPulseUs < 0 || a.ProgPulseUs > 255*8 {
		return fmt.Errorf("config: prog_pulse_us %d outside 0..%d", a.ProgPulseUs, 255*8)
	}
	if a.ProgPulseUs%8 != 0 {
		return fmt.Errorf("config: prog_pulse_us %d is not a multiple of 8", a.ProgPulseUs)
	}
	if a.SlewRate != nil && (*a.SlewRate < 0 || *a.SlewRate > 7) {
		return fmt.Errorf("config: slew_rate %d outside 0..7", *a.SlewRate)
	}
	if a.Write1LowUs != nil && (*a.Write1LowUs < 8 || *a.Write1LowUs > 23) {
		return fmt.Errorf("config: write1_low_us %d outside 8..23", *a.Write1LowUs)
	}
	if a.SampleOffsetUs != nil && (*a.SampleOffsetUs < 3 || *a.SampleOffsetUs > 18) {
		return fmt.Errorf("config: sample_offset_us %d outside 3..18", *a.SampleOffsetUs)
	}

	if cfg.Poll.IntervalUs < 0 {
		return fmt.Errorf("config: interval_us %d is negative", cfg.Poll.IntervalUs)
	}
	if cfg.Poll.MaxAttempts < 0 {
		return fmt.Errorf("config: max_attempts %d is negative", cfg.Poll.MaxAttempts)
	}
	return nil
}
