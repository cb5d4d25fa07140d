package database

import (
	"context"

	"github.com/diwise/fleet-ops/pkg/types"
	"gorm.io/gorm"
)

type AlertRepository interface {
	Add(ctx context.Context, alert *Alert) error
	Query(ctx context.Context, conditions ...ConditionFunc) ([]Alert, error)
	Acknowledge(ctx context.Context, deviceID uint) (int, error)
}

type alertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(connect ConnectorFunc) (AlertRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	return &alertRepository{
		db: impl,
	}, nil
}

// Add always inserts a new row, alerts are never merged with earlier ones.
func (a *alertRepository) Add(ctx context.Context, alert *Alert) error {
	return a.db.WithContext(ctx).Create(alert).Error
}

func (a *alertRepository) Query(ctx context.Context, conditions ...ConditionFunc) ([]Alert, error) {
	alerts := []Alert{}

	query := newCondition(conditions...).apply(a.db.WithContext(ctx).Model(&Alert{}), "created_at")

	err := query.Find(&alerts).Error
	if err != nil {
		return []Alert{}, err
	}

	return alerts, nil
}

func (a *alertRepository) Acknowledge(ctx context.Context, deviceID uint) (int, error) {
	result := a.db.WithContext(ctx).
		Model(&Alert{}).
		Where("device_id = ? AND status = ?", deviceID, types.AlertStatusOpen).
		Update("status", types.AlertStatusAcknowledged)

	if result.Error != nil {
		return 0, result.Error
	}

	return int(result.RowsAffected), nil
}
