package inventory

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
)

type ReservationService interface {
	Reserve(ctx context.Context, deviceIdentifier string) (types.Reservation, error)
}

var replacementParts = map[string]string{
	types.CategoryCPE:    "Set Top Box",
	types.CategoryRouter: "WiFi Router",
	types.CategoryTower:  "Fiber Cable",
}

type reservationSvc struct {
	devices   database.DeviceRepository
	inventory database.InventoryRepository
	publisher events.Publisher
}

func New(devices database.DeviceRepository, inventory database.InventoryRepository, publisher events.Publisher) ReservationService {
	return &reservationSvc{
		devices:   devices,
		inventory: inventory,
		publisher: publisher,
	}
}

// Reserve takes one replacement part for the device out of stock. The part is the
// first item matching the device category, or the first item in the catalogue when
// nothing matches.
func (r *reservationSvc) Reserve(ctx context.Context, deviceIdentifier string) (types.Reservation, error) {
	log := logging.GetFromContext(ctx)

	device, err := r.devices.GetByIdentifier(ctx, deviceIdentifier)
	if errors.Is(err, database.ErrNotFound) {
		return types.Reservation{}, fmt.Errorf("%w: device %s", application.ErrNotFound, deviceIdentifier)
	}
	if err != nil {
		return types.Reservation{}, err
	}

	item, err := r.selectItem(ctx, device)
	if err != nil {
		return types.Reservation{}, err
	}

	reserved, err := r.inventory.Decrement(ctx, item.ID)
	if errors.Is(err, database.ErrNoStock) {
		return types.Reservation{}, fmt.Errorf("%w: %s is out of stock", application.ErrInsufficientStock, item.Name)
	}
	if err != nil {
		return types.Reservation{}, err
	}
	item = reserved

	belowReorder := item.StockOnHand <= item.ReorderPoint
	if belowReorder {
		log.Warn().Str("item", item.Name).Int("stock", item.StockOnHand).Msg("stock at or below reorder point")
	}

	err = r.publisher.PublishOnTopic(ctx, &types.InventoryReserved{
		Item:           item.Name,
		DeviceID:       device.Identifier,
		RemainingStock: item.StockOnHand,
		BelowReorder:   belowReorder,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to publish reservation")
	}

	return types.Reservation{
		Message:        fmt.Sprintf("Reserved %s for %s", item.Name, device.Identifier),
		Item:           item.Name,
		RemainingStock: item.StockOnHand,
	}, nil
}

func (r *reservationSvc) selectItem(ctx context.Context, device database.Device) (database.InventoryItem, error) {
	if name, ok := replacementParts[strings.ToUpper(device.Category)]; ok {
		item, err := r.inventory.FindByName(ctx, name)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return database.InventoryItem{}, err
		}
	}

	item, err := r.inventory.First(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return database.InventoryItem{}, fmt.Errorf("%w: inventory is empty", application.ErrConfiguration)
	}

	return item, err
}
