package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/application"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/fleet-ops/pkg/types"
)

type BillingService interface {
	GenerateBill(ctx context.Context, customerID uint, month time.Time) (database.Bill, error)
	Pay(ctx context.Context, billID uint) (database.Bill, error)
	ListBills(ctx context.Context, customerID uint) ([]database.Bill, error)
	Estimate(ctx context.Context, customerID uint, today time.Time) (types.UsageEstimate, error)
	RecordUsage(ctx context.Context, customerID uint, date time.Time, gbUsed float64) error
}

const usageSeriesDays int = 7

type billingSvc struct {
	accounts   database.AccountRepository
	usage      database.UsageRepository
	bills      database.BillRepository
	calculator Calculator
}

func New(accounts database.AccountRepository, usage database.UsageRepository, bills database.BillRepository, cfg Config) BillingService {
	return &billingSvc{
		accounts:   accounts,
		usage:      usage,
		bills:      bills,
		calculator: NewCalculator(cfg),
	}
}

// GenerateBill bills the usage recorded from the first day of month up to, but not
// including, the first day of the following month.
func (b *billingSvc) GenerateBill(ctx context.Context, customerID uint, month time.Time) (database.Bill, error) {
	sub, err := b.subscription(ctx, customerID)
	if err != nil {
		return database.Bill{}, err
	}

	from, to := period(month)

	totalGB, err := b.usage.SumGB(ctx, customerID, from, to)
	if err != nil {
		return database.Bill{}, fmt.Errorf("could not sum usage: %w", err)
	}

	bill := database.Bill{
		CustomerID: customerID,
		Month:      from,
		Amount:     b.calculator.Amount(sub.Plan.MonthlyPrice, totalGB),
		Status:     types.BillStatusUnpaid,
	}

	err = b.bills.Create(ctx, &bill)
	if errors.Is(err, database.ErrAlreadyExists) {
		return database.Bill{}, fmt.Errorf("%w: customer %d is already billed for %s", application.ErrConflict, customerID, from.Format("2006-01"))
	}
	if err != nil {
		return database.Bill{}, err
	}

	log := logging.GetFromContext(ctx)
	log.Info().Uint("customerID", customerID).Str("month", from.Format("2006-01")).Msgf("bill of %s generated", bill.Amount.StringFixed(2))

	return bill, nil
}

// Pay marks the bill as paid. Paying a bill that is already paid is not an error.
func (b *billingSvc) Pay(ctx context.Context, billID uint) (database.Bill, error) {
	bill, err := b.bills.GetByID(ctx, billID)
	if errors.Is(err, database.ErrNotFound) {
		return database.Bill{}, fmt.Errorf("%w: bill %d", application.ErrNotFound, billID)
	}
	if err != nil {
		return database.Bill{}, err
	}

	if bill.Status == types.BillStatusPaid {
		return bill, nil
	}

	err = b.bills.SetStatus(ctx, billID, types.BillStatusPaid)
	if err != nil {
		return database.Bill{}, err
	}

	bill.Status = types.BillStatusPaid
	return bill, nil
}

func (b *billingSvc) ListBills(ctx context.Context, customerID uint) ([]database.Bill, error) {
	return b.bills.ListByCustomer(ctx, customerID)
}

// Estimate returns the daily usage of the last seven days, today included, together
// with what the current month would cost if it was billed today.
func (b *billingSvc) Estimate(ctx context.Context, customerID uint, today time.Time) (types.UsageEstimate, error) {
	sub, err := b.subscription(ctx, customerID)
	if err != nil {
		return types.UsageEstimate{}, err
	}

	end := dateOf(today).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -usageSeriesDays)

	events, err := b.usage.Query(ctx, customerID, start, end)
	if err != nil {
		return types.UsageEstimate{}, fmt.Errorf("could not fetch usage: %w", err)
	}

	perDay := map[string]float64{}
	for _, e := range events {
		perDay[dateOf(e.Date).Format(time.DateOnly)] += e.GBUsed
	}

	series := make([]types.DailyUsage, 0, usageSeriesDays)
	total := 0.0

	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		gb := perDay[d.Format(time.DateOnly)]
		series = append(series, types.DailyUsage{Date: d.Format("Jan 02"), GBUsed: gb})
		total += gb
	}

	periodStart, _ := period(today)
	periodGB, err := b.usage.SumGB(ctx, customerID, periodStart, end)
	if err != nil {
		return types.UsageEstimate{}, fmt.Errorf("could not sum usage: %w", err)
	}

	return types.UsageEstimate{
		Customer:      sub.Customer.Name,
		Plan:          sub.Plan.Name,
		MonthlyPrice:  sub.Plan.MonthlyPrice,
		Usage:         series,
		TotalGB:       total,
		BillingPeriod: periodStart.Format("2006-01"),
		PeriodGB:      periodGB,
		Bill:          b.calculator.Amount(sub.Plan.MonthlyPrice, periodGB),
	}, nil
}

// RecordUsage stores data usage reported for a customer. A zero date is recorded as today.
func (b *billingSvc) RecordUsage(ctx context.Context, customerID uint, date time.Time, gbUsed float64) error {
	if gbUsed < 0 || math.IsNaN(gbUsed) || math.IsInf(gbUsed, 0) {
		return fmt.Errorf("%w: usage must be a non negative number of GB, got %g", application.ErrValidation, gbUsed)
	}

	_, err := b.accounts.GetCustomer(ctx, customerID)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: customer %d", application.ErrNotFound, customerID)
	}
	if err != nil {
		return err
	}

	if date.IsZero() {
		date = time.Now()
	}

	err = b.usage.Add(ctx, &database.UsageEvent{CustomerID: customerID, Date: dateOf(date), GBUsed: gbUsed})
	if err != nil {
		return fmt.Errorf("could not store usage: %w", err)
	}

	return nil
}

func (b *billingSvc) subscription(ctx context.Context, customerID uint) (database.Subscription, error) {
	sub, err := b.accounts.GetSubscription(ctx, customerID)
	if errors.Is(err, database.ErrNotFound) {
		return database.Subscription{}, fmt.Errorf("%w: no subscription for customer %d", application.ErrNotFound, customerID)
	}
	return sub, err
}

// period returns the first day of the month and the first day of the month after.
func period(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
