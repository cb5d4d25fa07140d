package telemetry

import (
	"fmt"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/fleet-ops/pkg/types"
)

type finding struct {
	Severity string
	Type     string
	Message  string
}

type rule func(cfg Config, d database.Device, now time.Time) *finding

var rules = []rule{
	heartbeatRule,
	temperatureRule,
	endOfLifeRule,
}

func heartbeatRule(cfg Config, d database.Device, now time.Time) *finding {
	if d.LastHeartbeat == nil {
		return nil
	}

	if now.Sub(*d.LastHeartbeat) <= cfg.HeartbeatTimeout {
		return nil
	}

	return &finding{
		Severity: types.SeverityCritical,
		Type:     types.AlertHeartbeatMissed,
		Message:  fmt.Sprintf("No heartbeat for >%d minutes for %s", int(cfg.HeartbeatTimeout.Minutes()), d.Identifier),
	}
}

// temperatureRule raises at most one alert, the overheat threshold wins over warm.
func temperatureRule(cfg Config, d database.Device, now time.Time) *finding {
	if d.TemperatureC == nil {
		return nil
	}

	t := *d.TemperatureC
	msg := fmt.Sprintf("Device %s temp %gC", d.Identifier, t)

	if t >= cfg.OverheatC {
		return &finding{Severity: types.SeverityCritical, Type: types.AlertOverheat, Message: msg}
	}
	if t >= cfg.WarmC {
		return &finding{Severity: types.SeverityWarning, Type: types.AlertWarm, Message: msg}
	}

	return nil
}

func endOfLifeRule(cfg Config, d database.Device, now time.Time) *finding {
	if d.EndOfLifeDate == nil {
		return nil
	}

	days := daysBetween(now, *d.EndOfLifeDate)
	if days > cfg.EOLWarningDays {
		return nil
	}

	if days < 0 {
		days = 0
	}

	return &finding{
		Severity: types.SeverityWarning,
		Type:     types.AlertEOLSoon,
		Message:  fmt.Sprintf("Device %s EOL within %d days", d.Identifier, days),
	}
}

// daysBetween counts whole calendar days from the date of from to the date of to.
func daysBetween(from, to time.Time) int {
	f := dateOf(from)
	t := dateOf(to)
	return int(t.Sub(f).Hours() / 24)
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
