package database

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

type DeviceRepository interface {
	GetAll(ctx context.Context) ([]Device, error)
	GetByIdentifier(ctx context.Context, identifier string) (Device, error)
	Save(ctx context.Context, device *Device) error
	SetStatus(ctx context.Context, deviceID uint, status string) error
	UpdateTelemetry(ctx context.Context, identifier string, t Telemetry) error
}

// Telemetry holds the device readings owned by the ingest side. Nil fields are not
// written.
type Telemetry struct {
	LastHeartbeat *time.Time
	TemperatureC  *float64
	EndOfLifeDate *time.Time
}

type deviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(connect ConnectorFunc) (DeviceRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	return &deviceRepository{
		db: impl,
	}, nil
}

func (d *deviceRepository) GetAll(ctx context.Context) ([]Device, error) {
	var devices []Device

	err := d.db.WithContext(ctx).Preload("Site").Order("id ASC").Find(&devices).Error
	if err != nil {
		return nil, err
	}

	return devices, nil
}

func (d *deviceRepository) GetByIdentifier(ctx context.Context, identifier string) (Device, error) {
	device := Device{}

	err := d.db.WithContext(ctx).
		Preload("Site").
		Where(&Device{Identifier: strings.TrimSpace(identifier)}).
		First(&device).
		Error

	if err != nil {
		return Device{}, notFoundOr(err)
	}

	return device, nil
}

func (d *deviceRepository) Save(ctx context.Context, device *Device) error {
	return d.db.WithContext(ctx).Save(device).Error
}

func (d *deviceRepository) SetStatus(ctx context.Context, deviceID uint, status string) error {
	result := d.db.WithContext(ctx).
		Model(&Device{}).
		Where("id = ?", deviceID).
		Update("status", status)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (d *deviceRepository) UpdateTelemetry(ctx context.Context, identifier string, t Telemetry) error {
	fields := map[string]any{}

	if t.LastHeartbeat != nil {
		fields["last_heartbeat"] = t.LastHeartbeat.UTC()
	}
	if t.TemperatureC != nil {
		fields["temperature_c"] = *t.TemperatureC
	}
	if t.EndOfLifeDate != nil {
		fields["end_of_life_date"] = t.EndOfLifeDate.UTC()
	}

	if len(fields) == 0 {
		return nil
	}

	result := d.db.WithContext(ctx).
		Model(&Device{}).
		Where("identifier = ?", identifier).
		Updates(fields)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
