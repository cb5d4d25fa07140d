package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type BillRepository interface {
	Create(ctx context.Context, bill *Bill) error
	GetByID(ctx context.Context, billID uint) (Bill, error)
	ListByCustomer(ctx context.Context, customerID uint) ([]Bill, error)
	SetStatus(ctx context.Context, billID uint, status string) error
}

type billRepository struct {
	db *gorm.DB
}

func NewBillRepository(connect ConnectorFunc) (BillRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	return &billRepository{
		db: impl,
	}, nil
}

// Create stores a new bill. There can only be one bill per customer and month and
// ErrAlreadyExists is returned if the month has already been billed.
func (b *billRepository) Create(ctx context.Context, bill *Bill) error {
	bill.Month = firstOfMonth(bill.Month)

	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64

		err := tx.Model(&Bill{}).
			Where("customer_id = ? AND month = ?", bill.CustomerID, bill.Month).
			Count(&count).
			Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}

		return alreadyExistsOr(tx.Omit("Customer").Create(bill).Error)
	})
}

func (b *billRepository) GetByID(ctx context.Context, billID uint) (Bill, error) {
	bill := Bill{}

	err := b.db.WithContext(ctx).First(&bill, billID).Error
	if err != nil {
		return Bill{}, notFoundOr(err)
	}

	return bill, nil
}

func (b *billRepository) ListByCustomer(ctx context.Context, customerID uint) ([]Bill, error) {
	bills := []Bill{}

	query := newCondition(
		WithCustomerID(customerID),
		WithSortDesc("month"),
	).apply(b.db.WithContext(ctx).Model(&Bill{}), "month")

	err := query.Find(&bills).Error
	if err != nil {
		return []Bill{}, err
	}

	return bills, nil
}

func (b *billRepository) SetStatus(ctx context.Context, billID uint, status string) error {
	result := b.db.WithContext(ctx).
		Model(&Bill{}).
		Where("id = ?", billID).
		Update("status", status)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func firstOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
