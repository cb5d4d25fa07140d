package telemetry

import "time"

type Config struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeatTimeout"`
	OverheatC        float64       `yaml:"overheatCelsius"`
	WarmC            float64       `yaml:"warmCelsius"`
	EOLWarningDays   int           `yaml:"eolWarningDays"`
}

func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 15 * time.Minute,
		OverheatC:        80,
		WarmC:            70,
		EOLWarningDays:   30,
	}
}

// withDefaults fills in zero valued thresholds, so that a partial yaml block only
// overrides what it names.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.OverheatC == 0 {
		c.OverheatC = d.OverheatC
	}
	if c.WarmC == 0 {
		c.WarmC = d.WarmC
	}
	if c.EOLWarningDays == 0 {
		c.EOLWarningDays = d.EOLWarningDays
	}

	return c
}
