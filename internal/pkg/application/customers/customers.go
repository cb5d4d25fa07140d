package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/application"
	"github.com/diwise/fleet-ops/internal/pkg/application/churn"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/fleet-ops/pkg/types"
)

type CustomerService interface {
	Onboard(ctx context.Context, name, city string, planID uint) (types.Onboarding, error)
	GetPlan(ctx context.Context, customerID uint) (types.PlanInfo, error)
	ChangePlan(ctx context.Context, customerID, planID uint) (types.PlanChange, error)
	ChurnScore(ctx context.Context, customerID uint, today time.Time) (types.ChurnScore, error)
}

type customerSvc struct {
	accounts database.AccountRepository
	usage    database.UsageRepository
}

func New(accounts database.AccountRepository, usage database.UsageRepository) CustomerService {
	return &customerSvc{
		accounts: accounts,
		usage:    usage,
	}
}

// Onboard subscribes a customer to a plan, creating the customer unless one with the
// same name already exists in the city. A customer can only hold one subscription.
func (c *customerSvc) Onboard(ctx context.Context, name, city string, planID uint) (types.Onboarding, error) {
	name = strings.TrimSpace(name)
	city = strings.TrimSpace(city)

	if name == "" || city == "" || planID == 0 {
		return types.Onboarding{}, fmt.Errorf("%w: name, city and plan are required", application.ErrValidation)
	}

	plan, err := c.plan(ctx, planID)
	if err != nil {
		return types.Onboarding{}, err
	}

	customer, err := c.accounts.FindCustomer(ctx, name, city)
	if errors.Is(err, database.ErrNotFound) {
		customer = database.Customer{Name: name, City: city}
		err = c.accounts.SaveCustomer(ctx, &customer)
	}
	if err != nil {
		return types.Onboarding{}, err
	}

	sub := database.Subscription{
		CustomerID: customer.ID,
		PlanID:     plan.ID,
		StartDate:  dateOf(time.Now()),
		Status:     types.SubscriptionStatusActive,
	}

	err = c.accounts.CreateSubscription(ctx, &sub)
	if errors.Is(err, database.ErrAlreadyExists) {
		return types.Onboarding{}, fmt.Errorf("%w: %s in %s already has a subscription", application.ErrConflict, name, city)
	}
	if err != nil {
		return types.Onboarding{}, err
	}

	log := logging.GetFromContext(ctx)
	log.Info().Uint("customerID", customer.ID).Str("plan", plan.Name).Msg("customer onboarded")

	return types.Onboarding{
		CustomerID:     customer.ID,
		SubscriptionID: sub.ID,
		Message:        fmt.Sprintf("%s onboarded on %s", name, plan.Name),
	}, nil
}

func (c *customerSvc) GetPlan(ctx context.Context, customerID uint) (types.PlanInfo, error) {
	sub, err := c.subscription(ctx, customerID)
	if err != nil {
		return types.PlanInfo{}, err
	}

	return types.PlanInfo{
		Customer: sub.Customer.Name,
		City:     sub.Customer.City,
		Plan:     sub.Plan.Name,
		Price:    sub.Plan.MonthlyPrice,
	}, nil
}

func (c *customerSvc) ChangePlan(ctx context.Context, customerID, planID uint) (types.PlanChange, error) {
	if planID == 0 {
		return types.PlanChange{}, fmt.Errorf("%w: plan id is required", application.ErrValidation)
	}

	sub, err := c.subscription(ctx, customerID)
	if err != nil {
		return types.PlanChange{}, err
	}

	plan, err := c.plan(ctx, planID)
	if err != nil {
		return types.PlanChange{}, err
	}

	err = c.accounts.SetSubscriptionPlan(ctx, sub.ID, plan.ID)
	if err != nil {
		return types.PlanChange{}, err
	}

	return types.PlanChange{
		Message: fmt.Sprintf("Plan changed to %s", plan.Name),
		Price:   plan.MonthlyPrice,
	}, nil
}

// ChurnScore scores the customer using the average daily usage of the last 7 and 30
// days. A customer with no usage at all in the last 30 days has no averages.
func (c *customerSvc) ChurnScore(ctx context.Context, customerID uint, today time.Time) (types.ChurnScore, error) {
	customer, err := c.accounts.GetCustomer(ctx, customerID)
	if errors.Is(err, database.ErrNotFound) {
		return types.ChurnScore{}, fmt.Errorf("%w: customer %d", application.ErrNotFound, customerID)
	}
	if err != nil {
		return types.ChurnScore{}, err
	}

	end := dateOf(today).AddDate(0, 0, 1)

	sum7, err := c.usage.SumGB(ctx, customerID, end.AddDate(0, 0, -7), end)
	if err != nil {
		return types.ChurnScore{}, err
	}
	sum30, err := c.usage.SumGB(ctx, customerID, end.AddDate(0, 0, -30), end)
	if err != nil {
		return types.ChurnScore{}, err
	}

	var avg7, avg30 *float64
	if sum30 > 0 {
		a7, a30 := sum7/7, sum30/30
		avg7, avg30 = &a7, &a30
	}

	score := churn.Score(customer, avg7, avg30)

	return types.ChurnScore{
		Customer: customer.Name,
		City:     customer.City,
		Score:    score,
		Action:   churn.ActionFor(score),
	}, nil
}

func (c *customerSvc) subscription(ctx context.Context, customerID uint) (database.Subscription, error) {
	sub, err := c.accounts.GetSubscription(ctx, customerID)
	if errors.Is(err, database.ErrNotFound) {
		return database.Subscription{}, fmt.Errorf("%w: no subscription for customer %d", application.ErrNotFound, customerID)
	}
	return sub, err
}

func (c *customerSvc) plan(ctx context.Context, planID uint) (database.Plan, error) {
	plan, err := c.accounts.GetPlan(ctx, planID)
	if errors.Is(err, database.ErrNotFound) {
		return database.Plan{}, fmt.Errorf("%w: plan %d", application.ErrNotFound, planID)
	}
	return plan, err
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
