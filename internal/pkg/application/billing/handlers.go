package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/diwise/fleet-ops/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const UsageEventsTopic string = "usage-events"

func NewUsageEventHandler(svc BillingService) messaging.TopicMessageHandler {
	return func(ctx context.Context, msg amqp.Delivery, logger zerolog.Logger) {
		usage := types.UsageReported{}

		err := json.Unmarshal(msg.Body, &usage)
		if err != nil {
			logger.Error().Err(err).Msgf("failed to unmarshal message from %s", msg.RoutingKey)
			return
		}

		logger = logger.With().Uint("customerID", usage.CustomerID).Logger()

		var date time.Time
		if usage.Date != nil {
			date, err = time.Parse(time.DateOnly, *usage.Date)
			if err != nil {
				logger.Error().Err(err).Msg("usage event has an invalid date")
				return
			}
		}

		err = svc.RecordUsage(ctx, usage.CustomerID, date, usage.GBUsed)
		if err != nil {
			logger.Error().Err(err).Msg("could not record usage")
			return
		}

		logger.Debug().Msgf("%s handled", msg.RoutingKey)
	}
}
