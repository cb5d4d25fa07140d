package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type AccountRepository interface {
	GetCustomer(ctx context.Context, customerID uint) (Customer, error)
	FindCustomer(ctx context.Context, name, city string) (Customer, error)
	SaveCustomer(ctx context.Context, customer *Customer) error

	GetPlan(ctx context.Context, planID uint) (Plan, error)
	SavePlan(ctx context.Context, plan *Plan) error

	GetSubscription(ctx context.Context, customerID uint) (Subscription, error)
	CreateSubscription(ctx context.Context, subscription *Subscription) error
	SetSubscriptionPlan(ctx context.Context, subscriptionID, planID uint) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(connect ConnectorFunc) (AccountRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	return &accountRepository{
		db: impl,
	}, nil
}

func (r *accountRepository) GetCustomer(ctx context.Context, customerID uint) (Customer, error) {
	customer := Customer{}

	err := r.db.WithContext(ctx).First(&customer, customerID).Error
	if err != nil {
		return Customer{}, notFoundOr(err)
	}

	return customer, nil
}

func (r *accountRepository) FindCustomer(ctx context.Context, name, city string) (Customer, error) {
	customer := Customer{}

	err := r.db.WithContext(ctx).
		Where("name = ? AND city = ?", name, city).
		Order("id ASC").
		First(&customer).
		Error
	if err != nil {
		return Customer{}, notFoundOr(err)
	}

	return customer, nil
}

func (r *accountRepository) SaveCustomer(ctx context.Context, customer *Customer) error {
	return r.db.WithContext(ctx).Save(customer).Error
}

func (r *accountRepository) GetPlan(ctx context.Context, planID uint) (Plan, error) {
	plan := Plan{}

	err := r.db.WithContext(ctx).First(&plan, planID).Error
	if err != nil {
		return Plan{}, notFoundOr(err)
	}

	return plan, nil
}

func (r *accountRepository) SavePlan(ctx context.Context, plan *Plan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *accountRepository) GetSubscription(ctx context.Context, customerID uint) (Subscription, error) {
	subscription := Subscription{}

	err := r.db.WithContext(ctx).
		Preload("Customer").
		Preload("Plan").
		Where("customer_id = ?", customerID).
		First(&subscription).
		Error
	if err != nil {
		return Subscription{}, notFoundOr(err)
	}

	return subscription, nil
}

func (r *accountRepository) CreateSubscription(ctx context.Context, subscription *Subscription) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64

		err := tx.Model(&Subscription{}).Where("customer_id = ?", subscription.CustomerID).Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}

		if subscription.StartDate.IsZero() {
			subscription.StartDate = time.Now().UTC().Truncate(24 * time.Hour)
		}

		return alreadyExistsOr(tx.Omit("Customer", "Plan").Create(subscription).Error)
	})
}

func (r *accountRepository) SetSubscriptionPlan(ctx context.Context, subscriptionID, planID uint) error {
	result := r.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", subscriptionID).
		Update("plan_id", planID)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
