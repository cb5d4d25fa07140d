package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type UsageRepository interface {
	Add(ctx context.Context, event *UsageEvent) error
	Query(ctx context.Context, customerID uint, from, to time.Time) ([]UsageEvent, error)
	SumGB(ctx context.Context, customerID uint, from, to time.Time) (float64, error)
}

type usageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(connect ConnectorFunc) (UsageRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	return &usageRepository{
		db: impl,
	}, nil
}

func (r *usageRepository) Add(ctx context.Context, event *UsageEvent) error {
	event.Date = event.Date.UTC()
	return r.db.WithContext(ctx).Omit("Customer").Create(event).Error
}

func (r *usageRepository) Query(ctx context.Context, customerID uint, from, to time.Time) ([]UsageEvent, error) {
	events := []UsageEvent{}

	query := newCondition(
		WithCustomerID(customerID),
		WithPeriod(from, to),
	).apply(r.db.WithContext(ctx).Model(&UsageEvent{}), "date")

	err := query.Find(&events).Error
	if err != nil {
		return []UsageEvent{}, err
	}

	return events, nil
}

// SumGB sums gb_used for the customer over [from, to).
func (r *usageRepository) SumGB(ctx context.Context, customerID uint, from, to time.Time) (float64, error) {
	var total float64

	err := r.db.WithContext(ctx).
		Model(&UsageEvent{}).
		Select("COALESCE(SUM(gb_used), 0)").
		Where("customer_id = ? AND date >= ? AND date < ?", customerID, from.UTC(), to.UTC()).
		Scan(&total).
		Error
	if err != nil {
		return 0, err
	}

	return total, nil
}
