package ticketing

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
	"github.com/diwise/messaging-golang/pkg/messaging"
)

type TicketingService interface {
	AcknowledgeAlerts(ctx context.Context, deviceIdentifier string) (types.Acknowledgement, error)
	CreateTicket(ctx context.Context, deviceIdentifier, description, createdBy string) (types.TicketCreation, error)
}

const defaultCreatedBy string = "engineer"

type ticketingSvc struct {
	devices   database.DeviceRepository
	alerts    database.AlertRepository
	tickets   database.TicketRepository
	publisher events.Publisher
}

func New(devices database.DeviceRepository, alerts database.AlertRepository, tickets database.TicketRepository, publisher events.Publisher) TicketingService {
	return &ticketingSvc{
		devices:   devices,
		alerts:    alerts,
		tickets:   tickets,
		publisher: publisher,
	}
}

func (t *ticketingSvc) AcknowledgeAlerts(ctx context.Context, deviceIdentifier string) (types.Acknowledgement, error) {
	device, err := t.device(ctx, deviceIdentifier)
	if err != nil {
		return types.Acknowledgement{}, err
	}

	count, err := t.alerts.Acknowledge(ctx, device.ID)
	if err != nil {
		return types.Acknowledgement{}, fmt.Errorf("could not acknowledge alerts: %w", err)
	}

	if count == 0 {
		return types.Acknowledgement{
			Message: fmt.Sprintf("No open alerts for device %s", device.Identifier),
		}, nil
	}

	t.publish(ctx, &types.AlertsAcknowledged{
		DeviceID:  device.Identifier,
		Count:     count,
		Timestamp: time.Now().UTC(),
	})

	return types.Acknowledgement{
		Message: fmt.Sprintf("Acknowledged %d alert(s) for device %s", count, device.Identifier),
		Count:   count,
	}, nil
}

// CreateTicket opens a ticket for the device and puts the device in maintenance. The
// ticket and the status change are announced as two separate messages.
func (t *ticketingSvc) CreateTicket(ctx context.Context, deviceIdentifier, description, createdBy string) (types.TicketCreation, error) {
	device, err := t.device(ctx, deviceIdentifier)
	if err != nil {
		return types.TicketCreation{}, err
	}

	if strings.TrimSpace(description) == "" {
		description = fmt.Sprintf("Ticket created from dashboard for %s", device.Identifier)
	}
	if strings.TrimSpace(createdBy) == "" {
		createdBy = defaultCreatedBy
	}

	if !CanTransition(device.Status, types.DeviceStatusMaintenance) {
		return types.TicketCreation{}, fmt.Errorf("%w: device %s can not go from %s to %s", application.ErrConflict, device.Identifier, device.Status, types.DeviceStatusMaintenance)
	}

	deviceID := device.ID
	ticket := database.Ticket{
		DeviceID:    &deviceID,
		Status:      types.TicketStatusOpen,
		Description: description,
		CreatedBy:   createdBy,
	}

	err = t.tickets.Create(ctx, &ticket)
	if err != nil {
		return types.TicketCreation{}, fmt.Errorf("could not create ticket: %w", err)
	}

	t.publish(ctx, &types.TicketCreated{
		TicketID:    ticket.ID,
		DeviceID:    device.Identifier,
		Description: ticket.Description,
		CreatedBy:   ticket.CreatedBy,
		Timestamp:   ticket.CreatedAt,
	})

	err = t.devices.SetStatus(ctx, device.ID, types.DeviceStatusMaintenance)
	if err != nil {
		return types.TicketCreation{}, fmt.Errorf("ticket %d created but device status was not changed: %w", ticket.ID, err)
	}

	t.publish(ctx, &types.DeviceStatusChanged{
		DeviceID:  device.Identifier,
		From:      device.Status,
		To:        types.DeviceStatusMaintenance,
		Timestamp: time.Now().UTC(),
	})

	return types.TicketCreation{
		Message:  fmt.Sprintf("Ticket %d created for %s", ticket.ID, device.Identifier),
		TicketID: ticket.ID,
	}, nil
}

func (t *ticketingSvc) device(ctx context.Context, identifier string) (database.Device, error) {
	device, err := t.devices.GetByIdentifier(ctx, identifier)
	if errors.Is(err, database.ErrNotFound) {
		return database.Device{}, fmt.Errorf("%w: device %s", application.ErrNotFound, identifier)
	}
	return device, err
}

func (t *ticketingSvc) publish(ctx context.Context, msg messaging.TopicMessage) {
	if err := t.publisher.PublishOnTopic(ctx, msg); err != nil {
		log := logging.GetFromContext(ctx)
		log.Error().Err(err).Msgf("failed to publish %s", msg.TopicName())
	}
}
