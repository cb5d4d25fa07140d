package telemetry

import (
	"context"
	"encoding/json"

	"github.com/diwise/fleet-ops/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const DeviceTelemetryTopic string = "device-telemetry"

func NewDeviceTelemetryHandler(engine RuleEngine) messaging.TopicMessageHandler {
	return func(ctx context.Context, msg amqp.Delivery, logger zerolog.Logger) {
		telemetry := types.DeviceTelemetry{}

		err := json.Unmarshal(msg.Body, &telemetry)
		if err != nil {
			logger.Error().Err(err).Msgf("failed to unmarshal message from %s", msg.RoutingKey)
			return
		}

		logger = logger.With().Str("deviceID", telemetry.DeviceID).Logger()

		err = engine.Ingest(ctx, telemetry)
		if err != nil {
			logger.Error().Err(err).Msg("could not apply telemetry to device")
			return
		}

		logger.Debug().Msgf("%s handled", msg.RoutingKey)
	}
}
