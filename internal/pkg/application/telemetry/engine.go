package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/application"
	"github.com/diwise/fleet-ops/internal/pkg/application/events"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/fleet-ops/pkg/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("fleet-ops/telemetry")

type RuleEngine interface {
	Evaluate(ctx context.Context) ([]database.Alert, error)
	Ingest(ctx context.Context, t types.DeviceTelemetry) error
}

type engine struct {
	devices   database.DeviceRepository
	alerts    database.AlertRepository
	publisher events.Publisher
	notifier  events.Notifier
	cfg       Config
	now       func() time.Time
}

func New(devices database.DeviceRepository, alerts database.AlertRepository, publisher events.Publisher, notifier events.Notifier, cfg Config) RuleEngine {
	return &engine{
		devices:   devices,
		alerts:    alerts,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate runs every rule against every device and stores one alert per firing rule.
// Devices are evaluated independently, a device that fails is logged and skipped.
func (e *engine) Evaluate(ctx context.Context) ([]database.Alert, error) {
	log := logging.GetFromContext(ctx)

	devices, err := e.devices.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list devices: %w", err)
	}

	now := e.now()
	created := []database.Alert{}

	for _, d := range devices {
		alerts, err := e.evaluateDevice(ctx, d, now)
		created = append(created, alerts...)

		if err != nil {
			log.Error().Err(err).Str("deviceID", d.Identifier).Msg("rule evaluation failed for device")
		}
	}

	return created, nil
}

func (e *engine) evaluateDevice(ctx context.Context, d database.Device, now time.Time) (created []database.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()

	for _, r := range rules {
		f := r(e.cfg, d, now)
		if f == nil {
			continue
		}

		deviceID := d.ID
		alert := database.Alert{
			Severity: f.Severity,
			Type:     f.Type,
			Message:  f.Message,
			Status:   types.AlertStatusOpen,
			DeviceID: &deviceID,
		}

		err = e.alerts.Add(ctx, &alert)
		if err != nil {
			return created, fmt.Errorf("could not store %s alert: %w", f.Type, err)
		}

		created = append(created, alert)
		e.announce(ctx, d, alert)
	}

	return created, nil
}

// announce publishes a created alert. Failures are logged and never fail the sweep.
func (e *engine) announce(ctx context.Context, d database.Device, alert database.Alert) {
	log := logging.GetFromContext(ctx)

	msg := &types.AlertCreated{
		AlertID:   alert.ID,
		DeviceID:  d.Identifier,
		Severity:  alert.Severity,
		Type:      alert.Type,
		Message:   alert.Message,
		Timestamp: alert.CreatedAt,
	}

	if err := e.publisher.PublishOnTopic(ctx, msg); err != nil {
		log.Error().Err(err).Msgf("failed to publish %s", msg.TopicName())
	}

	if alert.Severity != types.SeverityCritical {
		return
	}

	if err := e.notifier.Notify(ctx, events.AlertNotificationType, msg); err != nil {
		log.Error().Err(err).Msg("failed to notify subscribers about critical alert")
	}
}

func (e *engine) Ingest(ctx context.Context, t types.DeviceTelemetry) error {
	identifier := strings.TrimSpace(t.DeviceID)
	if identifier == "" {
		return fmt.Errorf("%w: device id is required", application.ErrValidation)
	}

	update := database.Telemetry{
		TemperatureC: t.TemperatureC,
	}

	if t.LastHeartbeat != nil {
		hb := t.LastHeartbeat.UTC()
		update.LastHeartbeat = &hb
	}

	if t.EndOfLifeDate != nil {
		eol, err := time.Parse(time.DateOnly, *t.EndOfLifeDate)
		if err != nil {
			return fmt.Errorf("%w: invalid end of life date %q", application.ErrValidation, *t.EndOfLifeDate)
		}
		update.EndOfLifeDate = &eol
	}

	err := e.devices.UpdateTelemetry(ctx, identifier, update)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: device %s", application.ErrNotFound, identifier)
	}

	return err
}

func logFindings(log zerolog.Logger, alerts []database.Alert) {
	if len(alerts) == 0 {
		log.Debug().Msg("sweep found nothing to report")
		return
	}

	critical := lo.Filter(alerts, func(a database.Alert, _ int) bool {
		return a.Severity == types.SeverityCritical
	})

	log.Info().
		Int("critical", len(critical)).
		Int("warning", len(alerts)-len(critical)).
		Msgf("sweep created %d alert(s)", len(alerts))
}
