package customers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/application"
	"github.com/diwise/fleet-ops/internal/pkg/application/churn"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var today = time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC)

func TestOnboardCreatesCustomerAndSubscription(t *testing.T) {
	is, ctx, f := setupTest(t)

	result, err := f.svc.Onboard(ctx, " Ravi ", "Delhi", f.basic.ID)
	is.NoErr(err)
	is.True(result.CustomerID != 0)
	is.True(result.SubscriptionID != 0)

	info, err := f.svc.GetPlan(ctx, result.CustomerID)
	is.NoErr(err)
	is.Equal(info.Customer, "Ravi")
	is.Equal(info.Plan, "Basic 50")

	_, err = f.svc.Onboard(ctx, "Ravi", "Delhi", f.premium.ID)
	is.True(errors.Is(err, application.ErrConflict))
}

func TestOnboardValidation(t *testing.T) {
	is, ctx, f := setupTest(t)

	_, err := f.svc.Onboard(ctx, "", "Delhi", f.basic.ID)
	is.True(errors.Is(err, application.ErrValidation))

	_, err = f.svc.Onboard(ctx, "Ravi", "Delhi", 0)
	is.True(errors.Is(err, application.ErrValidation))

	_, err = f.svc.Onboard(ctx, "Ravi", "Delhi", 4711)
	is.True(errors.Is(err, application.ErrNotFound))
}

func TestChangePlan(t *testing.T) {
	is, ctx, f := setupTest(t)

	onboarded, err := f.svc.Onboard(ctx, "Meera", "Chennai", f.basic.ID)
	is.NoErr(err)

	change, err := f.svc.ChangePlan(ctx, onboarded.CustomerID, f.premium.ID)
	is.NoErr(err)
	is.Equal(change.Message, "Plan changed to Fiber 300")
	is.Equal(change.Price.StringFixed(2), "999.00")

	info, err := f.svc.GetPlan(ctx, onboarded.CustomerID)
	is.NoErr(err)
	is.Equal(info.Plan, "Fiber 300")

	_, err = f.svc.ChangePlan(ctx, onboarded.CustomerID, 0)
	is.True(errors.Is(err, application.ErrValidation))

	_, err = f.svc.ChangePlan(ctx, onboarded.CustomerID, 4711)
	is.True(errors.Is(err, application.ErrNotFound))

	_, err = f.svc.ChangePlan(ctx, 4711, f.basic.ID)
	is.True(errors.Is(err, application.ErrNotFound))
}

func TestChurnScoreUsesUsageHistory(t *testing.T) {
	is, ctx, f := setupTest(t)

	c := database.Customer{Name: "Kiran", City: "Pune", TenureMonths: 24, LastRechargeDaysAgo: 35}
	is.NoErr(f.accounts.SaveCustomer(ctx, &c))

	// heavy usage three weeks ago, nothing this week
	for i := 15; i < 25; i++ {
		is.NoErr(f.usage.Add(ctx, &database.UsageEvent{CustomerID: c.ID, Date: today.AddDate(0, 0, -i), GBUsed: 5}))
	}

	score, err := f.svc.ChurnScore(ctx, c.ID, today)
	is.NoErr(err)
	is.Equal(score.Score, 70)
	is.Equal(score.Action, churn.ActionOfferDiscount)
}

func TestChurnScoreWithoutUsage(t *testing.T) {
	is, ctx, f := setupTest(t)

	c := database.Customer{Name: "Kiran", City: "Pune", TenureMonths: 1}
	is.NoErr(f.accounts.SaveCustomer(ctx, &c))

	score, err := f.svc.ChurnScore(ctx, c.ID, today)
	is.NoErr(err)
	is.Equal(score.Score, 10)
	is.Equal(score.Action, churn.ActionNormalEngagement)

	_, err = f.svc.ChurnScore(ctx, 4711, today)
	is.True(errors.Is(err, application.ErrNotFound))
}

type fixture struct {
	svc      CustomerService
	accounts database.AccountRepository
	usage    database.UsageRepository
	basic    database.Plan
	premium  database.Plan
}

func setupTest(t *testing.T) (*is.I, context.Context, *fixture) {
	is := is.New(t)
	ctx := context.Background()

	conn := database.NewSQLiteConnector(zerolog.Logger{})
	accounts, err := database.NewAccountRepository(conn)
	is.NoErr(err)
	usage, err := database.NewUsageRepository(conn)
	is.NoErr(err)

	basic := database.Plan{Name: "Basic 50", SpeedMbps: 50, MonthlyPrice: decimal.RequireFromString("499.00")}
	premium := database.Plan{Name: "Fiber 300", SpeedMbps: 300, MonthlyPrice: decimal.RequireFromString("999.00")}
	is.NoErr(accounts.SavePlan(ctx, &basic))
	is.NoErr(accounts.SavePlan(ctx, &premium))

	return is, ctx, &fixture{
		svc:      New(accounts, usage),
		accounts: accounts,
		usage:    usage,
		basic:    basic,
		premium:  premium,
	}
}
