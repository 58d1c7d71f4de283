package config

import (
	"time"

	"github.com/bjanders/1wire/pkg/ds2490"
)

// Apply writes a validated configuration into the adapter's mode registers
// and poll policy. Opt-in registers that were left unset are not touched.
func Apply(cfg *Config, d *ds2490.Device) error {
	a := &cfg.Adapter

	speed, err := ParseSpeed(a.Speed)
	if err != nil {
		return err
	}
	if err := d.SetSpeed(speed); err != nil {
		return err
	}
	if err := d.SetSpeedChangeEnable(a.SpeedChange); err != nil {
		return err
	}
	if err := d.SetPulseEnable(a.StrongPullup, a.ProgPulse); err != nil {
		return err
	}
	if a.PullupDurationMs > 0 {
		if err := d.SetStrongPullupDuration(a.PullupDurationMs / 16); err != nil {
			return err
		}
	}
	if a.ProgPulseUs > 0 {
		if err := d.SetProgPulseDuration(a.ProgPulseUs / 8); err != nil {
			return err
		}
	}
	if a.SlewRate != nil {
		if err := d.SetPulldownSlewRate(*a.SlewRate); err != nil {
			return err
		}
	}
	if a.Write1LowUs != nil {
		if err := d.SetWrite1LowTime(*a.Write1LowUs - 8); err != nil {
			return err
		}
	}
	if a.SampleOffsetUs != nil {
		if err := d.SetSampleOffset(*a.SampleOffsetUs - 3); err != nil {
			return err
		}
	}

	if cfg.Poll.IntervalUs > 0 || cfg.Poll.MaxAttempts > 0 {
		d.Poll = ds2490.PollPolicy{
			Interval:    time.Duration(cfg.Poll.IntervalUs) * time.Microsecond,
			MaxAttempts: cfg.Poll.MaxAttempts,
		}
	}
	return nil
}
