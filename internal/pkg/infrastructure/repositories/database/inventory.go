package database

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

type InventoryRepository interface {
	FindByName(ctx context.Context, name string) (InventoryItem, error)
	First(ctx context.Context) (InventoryItem, error)
	Decrement(ctx context.Context, itemID uint) (InventoryItem, error)
	Save(ctx context.Context, item *InventoryItem) error
}

type inventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(connect ConnectorFunc) (InventoryRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	return &inventoryRepository{
		db: impl,
	}, nil
}

// FindByName returns the item with the lowest id whose name contains name, ignoring case.
func (i *inventoryRepository) FindByName(ctx context.Context, name string) (InventoryItem, error) {
	item := InventoryItem{}

	err := i.db.WithContext(ctx).
		Where("LOWER(name) LIKE ?", "%"+strings.ToLower(name)+"%").
		Order("id ASC").
		First(&item).
		Error
	if err != nil {
		return InventoryItem{}, notFoundOr(err)
	}

	return item, nil
}

func (i *inventoryRepository) First(ctx context.Context) (InventoryItem, error) {
	item := InventoryItem{}

	err := i.db.WithContext(ctx).Order("id ASC").First(&item).Error
	if err != nil {
		return InventoryItem{}, notFoundOr(err)
	}

	return item, nil
}

// Decrement takes one unit from stock and returns the item as it is after the update.
// The check and the update are a single conditional statement so that two concurrent
// callers can never both take the last unit. ErrNoStock is returned when stock is
// already zero.
func (i *inventoryRepository) Decrement(ctx context.Context, itemID uint) (InventoryItem, error) {
	item := InventoryItem{}

	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&InventoryItem{}).
			Where("id = ? AND stock_on_hand > 0", itemID).
			Update("stock_on_hand", gorm.Expr("stock_on_hand - 1"))

		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			err := tx.First(&item, itemID).Error
			if err != nil {
				return notFoundOr(err)
			}
			return ErrNoStock
		}

		return tx.First(&item, itemID).Error
	})

	if err != nil {
		return InventoryItem{}, err
	}

	return item, nil
}

func (i *inventoryRepository) Save(ctx context.Context, item *InventoryItem) error {
	return i.db.WithContext(ctx).Save(item).Error
}
